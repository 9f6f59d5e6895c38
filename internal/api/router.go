// Package api exposes the payment reliability use cases over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vietddude/payguard/internal/health"
)

// NewRouter mounts the health endpoints and the authenticated /v1 API.
func NewRouter(h *Handler, monitor *health.Monitor, jwtSecret []byte, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	if monitor != nil {
		health.Register(r, monitor)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret, logger))
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/cashouts", h.BeginCashout)
		r.Post("/cashouts/{id}/execute", h.ExecuteTransfer)
		r.Post("/deposits", h.OpenDeposit)
		r.Get("/transactions/{id}", h.GetTransaction)
		r.Get("/wallets/{user_id}/{currency}", h.GetWallet)
		r.Post("/transactions/{id}/failures", h.SubmitFailure)
		r.Post("/transactions/{id}/variance", h.EvaluateVariance)
		r.Post("/transactions/{id}/cancel", h.Cancel)
		r.Post("/recovery/{session_key}/redeem", h.Redeem)
		r.Post("/retry/batch", h.ProcessBatch)
	})
	return r
}

// Server wraps the HTTP listener.
type Server struct {
	server *http.Server
}

// NewServer creates a new HTTP server on port.
func NewServer(handler http.Handler, port int) *Server {
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
