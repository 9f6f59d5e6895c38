package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vietddude/payguard/internal/core/domain"
)

// HTTPAdapter posts transfers as JSON to a provider endpoint.
//
// Request:  {"transaction_id","user_id","amount","currency","idempotency_key"}
// Response: {"status":"success|failed","reference","error_code","error_message"}
type HTTPAdapter struct {
	*BaseAdapter
	endpoint   string
	method     string
	httpClient *http.Client
}

type transferRequest struct {
	TransactionID  string `json:"transaction_id"`
	UserID         string `json:"user_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

type transferResponse struct {
	Status       string `json:"status"`
	Reference    string `json:"reference"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// NewHTTPAdapter creates a new HTTP transfer adapter.
func NewHTTPAdapter(name, endpoint, method string, timeout time.Duration) *HTTPAdapter {
	if method == "" {
		method = http.MethodPost
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		BaseAdapter: NewBaseAdapter(name),
		endpoint:    endpoint,
		method:      method,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// ExecuteTransfer implements Adapter.
func (a *HTTPAdapter) ExecuteTransfer(ctx context.Context, tx *domain.Transaction) TransferResult {
	start := time.Now()

	body, err := json.Marshal(transferRequest{
		TransactionID:  tx.ID,
		UserID:         tx.UserID,
		Amount:         tx.Amount.String(),
		Currency:       tx.Currency,
		IdempotencyKey: IdempotencyKey(tx),
	})
	if err != nil {
		return a.done(failure("REQUEST_ENCODING_FAILED", err.Error(), ""), start, true)
	}

	req, err := http.NewRequestWithContext(ctx, a.method, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return a.done(failure("INVALID_PROVIDER_CONFIG", err.Error(), ""), start, true)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", IdempotencyKey(tx))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return a.done(transportFailure(err), start, false)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return a.done(failure("NETWORK_ERROR", "read response: "+err.Error(), "ReadError"), start, false)
	}

	var parsed transferResponse
	_ = json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		msg := "rate limited (429)"
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			msg += ", retry after " + ra
		}
		return a.done(failure("RATE_LIMIT_EXCEEDED", msg, ""), start, false)

	case resp.StatusCode >= 500:
		return a.done(failure(statusCode(resp.StatusCode), fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(raw)), ""), start, false)

	case resp.StatusCode >= 400:
		code := parsed.ErrorCode
		if code == "" {
			code = statusCode(resp.StatusCode)
		}
		msg := parsed.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(raw))
		}
		return a.done(failure(code, msg, ""), start, true)
	}

	if parsed.Status == "success" || (parsed.Status == "" && parsed.ErrorCode == "") {
		return a.done(TransferResult{Success: true, Reference: parsed.Reference}, start, true)
	}
	return a.done(failure(parsed.ErrorCode, parsed.ErrorMessage, ""), start, true)
}

// Close cleans up resources.
func (a *HTTPAdapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *HTTPAdapter) done(res TransferResult, start time.Time, reachable bool) TransferResult {
	a.Record(res, time.Since(start), reachable)
	return res
}

func failure(code, message, kind string) TransferResult {
	return TransferResult{ErrorCode: code, ErrorMessage: message, ExceptionKind: kind}
}

// transportFailure maps client errors onto retryable codes.
func transportFailure(err error) TransferResult {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return failure("API_TIMEOUT", err.Error(), "context.DeadlineExceeded")
	case errors.As(err, &netErr) && netErr.Timeout():
		return failure("API_TIMEOUT", err.Error(), "ReadTimeout")
	case errors.Is(err, context.Canceled):
		// Shutdown mid-call: outcome unknown, let a later attempt settle it.
		return failure("NETWORK_ERROR", err.Error(), "context.Canceled")
	default:
		return failure("NETWORK_ERROR", err.Error(), "url.Error")
	}
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadGateway:
		return "BAD_GATEWAY"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "GATEWAY_TIMEOUT"
	case http.StatusInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	default:
		return "HTTP_" + strconv.Itoa(status)
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
