// Package provider implements the transfer adapters of external payment providers.
//
// This package contains:
//   - Adapter interface: the uniform execute_transfer contract
//   - HTTPAdapter: JSON over HTTP implementation
//   - GRPCAdapter: gRPC implementation using structpb payloads
//   - MockAdapter: scripted results for tests and local runs
//   - Registry: adapter lookup by provider name
package provider

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/vietddude/payguard/internal/core/classifier"
	"github.com/vietddude/payguard/internal/core/domain"
)

// ErrUnknownProvider is returned when no adapter is registered for a name.
var ErrUnknownProvider = errors.New("unknown provider")

// TransferResult is the outcome of one provider call. A failed result carries
// the provider's error code and message for classification.
type TransferResult struct {
	Success       bool   `json:"success"`
	Reference     string `json:"reference,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	ExceptionKind string `json:"exception_kind,omitempty"`
}

// Signal converts a failed result into a classifier signal.
func (r TransferResult) Signal() classifier.Signal {
	return classifier.Signal{
		Code:          r.ErrorCode,
		Message:       r.ErrorMessage,
		ExceptionKind: r.ExceptionKind,
	}
}

// Adapter executes transfers against one external provider. Transport
// failures are reported as failed results, never as panics.
type Adapter interface {
	// Name returns the provider identifier, matching Transaction.Provider
	Name() string

	// ExecuteTransfer performs the transfer described by tx
	ExecuteTransfer(ctx context.Context, tx *domain.Transaction) TransferResult

	// Health returns call statistics
	Health() HealthStatus

	// Close releases connections
	Close() error
}

// IdempotencyKey is sent to providers so a repeated attempt is not double-paid.
func IdempotencyKey(tx *domain.Transaction) string {
	return tx.ID + ":" + strconv.Itoa(tx.RetryCount)
}

// HealthStatus represents the call health of an adapter.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	Requests      int           `json:"requests"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
}
