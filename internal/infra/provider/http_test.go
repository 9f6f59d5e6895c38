package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/classifier"
	"github.com/vietddude/payguard/internal/core/domain"
)

func testTx() *domain.Transaction {
	return &domain.Transaction{
		ID:         "tx-1",
		Kind:       domain.KindWalletCashout,
		UserID:     "user-1",
		Amount:     decimal.RequireFromString("150.25"),
		Currency:   "USD",
		Provider:   "fincra",
		RetryCount: 1,
	}
}

// =============================================================================
// HTTP adapter
// =============================================================================

func TestHTTPAdapter_Success(t *testing.T) {
	var (
		mu      sync.Mutex
		gotReq  transferRequest
		gotHdr  string
		gotMeth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotMeth = r.Method
		gotHdr = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(transferResponse{Status: "success", Reference: "ref-9"})
	}))
	defer srv.Close()

	a := NewHTTPAdapter("fincra", srv.URL, "", time.Second)
	defer a.Close()

	res := a.ExecuteTransfer(context.Background(), testTx())
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Reference != "ref-9" {
		t.Errorf("reference = %q, want ref-9", res.Reference)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotMeth != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMeth)
	}
	if gotHdr != "tx-1:1" || gotReq.IdempotencyKey != "tx-1:1" {
		t.Errorf("idempotency key header=%q body=%q, want tx-1:1", gotHdr, gotReq.IdempotencyKey)
	}
	if gotReq.Amount != "150.25" || gotReq.Currency != "USD" {
		t.Errorf("unexpected request body %+v", gotReq)
	}
	if h := a.Health(); h.Requests != 1 || !h.Available {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestHTTPAdapter_FailureMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantCat  classifier.Category
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, "RATE_LIMIT_EXCEEDED", classifier.Technical},
		{"bad gateway", http.StatusBadGateway, `oops`, "BAD_GATEWAY", classifier.Technical},
		{"unavailable", http.StatusServiceUnavailable, ``, "SERVICE_UNAVAILABLE", classifier.Technical},
		{"business rejection", http.StatusUnprocessableEntity,
			`{"status":"failed","error_code":"INSUFFICIENT_FUNDS","error_message":"balance too low"}`,
			"INSUFFICIENT_FUNDS", classifier.RequiresReview},
		{"forbidden", http.StatusForbidden, ``, "FORBIDDEN", classifier.RequiresReview},
		{"failed with 200", http.StatusOK,
			`{"status":"failed","error_code":"INVALID_ACCOUNT","error_message":"no such account"}`,
			"INVALID_ACCOUNT", classifier.RequiresReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			a := NewHTTPAdapter("p", srv.URL, http.MethodPost, time.Second)
			res := a.ExecuteTransfer(context.Background(), testTx())
			if res.Success {
				t.Fatal("expected failure")
			}
			if res.ErrorCode != tt.wantCode {
				t.Errorf("code = %q, want %q", res.ErrorCode, tt.wantCode)
			}
			if got := classifier.ClassifySignal(res.Signal()).Category; got != tt.wantCat {
				t.Errorf("category = %s, want %s", got, tt.wantCat)
			}
		})
	}
}

func TestHTTPAdapter_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	a := NewHTTPAdapter("slow", srv.URL, "", 50*time.Millisecond)
	res := a.ExecuteTransfer(context.Background(), testTx())
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorCode != "API_TIMEOUT" {
		t.Errorf("code = %q, want API_TIMEOUT", res.ErrorCode)
	}
	if got := classifier.ClassifySignal(res.Signal()).Category; got != classifier.Technical {
		t.Errorf("timeout classified as %s", got)
	}
	if h := a.Health(); h.ErrorRate != 1 {
		t.Errorf("error rate = %v, want 1", h.ErrorRate)
	}
}

func TestHTTPAdapter_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewHTTPAdapter("down", url, "", time.Second).ExecuteTransfer(context.Background(), testTx())
	if res.Success || res.ErrorCode != "NETWORK_ERROR" {
		t.Fatalf("expected NETWORK_ERROR, got %+v", res)
	}
}

// =============================================================================
// Mock adapter and registry
// =============================================================================

func TestMockAdapter_Script(t *testing.T) {
	m := NewMockAdapter("mock",
		TransferResult{ErrorCode: "API_TIMEOUT"},
		TransferResult{Success: true, Reference: "r2"},
	)
	ctx := context.Background()

	if res := m.ExecuteTransfer(ctx, testTx()); res.Success {
		t.Error("first call should fail")
	}
	if res := m.ExecuteTransfer(ctx, testTx()); !res.Success || res.Reference != "r2" {
		t.Errorf("second call = %+v", res)
	}
	if res := m.ExecuteTransfer(ctx, testTx()); !res.Success {
		t.Error("default should succeed")
	}
	if n := len(m.Calls()); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestRegistry(t *testing.T) {
	r, err := Build(context.Background(), []Config{
		{Name: "fincra", Type: "http", URL: "http://localhost:1"},
		{Name: "sandbox", Type: "mock"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer r.Close()

	if _, err := r.Get("fincra"); err != nil {
		t.Errorf("get fincra: %v", err)
	}
	if _, err := r.Get("nope"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if names := r.Names(); len(names) != 2 || names[0] != "fincra" {
		t.Errorf("names = %v", names)
	}

	if _, err := Build(context.Background(), []Config{{Name: "x", Type: "carrier-pigeon"}}); err == nil {
		t.Error("expected error for unsupported type")
	}
}
