package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/payguard/internal/core/domain"
)

// DefaultTransferMethod is the full gRPC method name used when none is configured.
const DefaultTransferMethod = "/payguard.provider.v1.TransferService/ExecuteTransfer"

// GRPCAdapter calls a provider's transfer RPC with google.protobuf.Struct
// request and reply messages, so no generated client is needed.
type GRPCAdapter struct {
	*BaseAdapter
	endpoint string
	method   string
	timeout  time.Duration
	conn     grpc.ClientConnInterface
	closer   func() error
}

// NewGRPCAdapter creates a new gRPC transfer adapter. The connection is lazy.
func NewGRPCAdapter(name, endpoint, method string, timeout time.Duration) (*GRPCAdapter, error) {
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	a := NewGRPCAdapterWithConn(name, conn, method, timeout)
	a.endpoint = endpoint
	a.closer = conn.Close
	return a, nil
}

// NewGRPCAdapterWithConn wraps an existing connection.
func NewGRPCAdapterWithConn(name string, conn grpc.ClientConnInterface, method string, timeout time.Duration) *GRPCAdapter {
	if method == "" {
		method = DefaultTransferMethod
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GRPCAdapter{
		BaseAdapter: NewBaseAdapter(name),
		method:      method,
		timeout:     timeout,
		conn:        conn,
		closer:      func() error { return nil },
	}
}

// ExecuteTransfer implements Adapter.
func (a *GRPCAdapter) ExecuteTransfer(ctx context.Context, tx *domain.Transaction) TransferResult {
	start := time.Now()

	req, err := structpb.NewStruct(map[string]any{
		"transaction_id":  tx.ID,
		"user_id":         tx.UserID,
		"amount":          tx.Amount.String(),
		"currency":        tx.Currency,
		"idempotency_key": IdempotencyKey(tx),
	})
	if err != nil {
		return a.done(failure("REQUEST_ENCODING_FAILED", err.Error(), ""), start, true)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply := &structpb.Struct{}
	if err := a.conn.Invoke(callCtx, a.method, req, reply); err != nil {
		res, reachable := statusFailure(err)
		return a.done(res, start, reachable)
	}

	fields := reply.GetFields()
	str := func(k string) string { return fields[k].GetStringValue() }
	if str("status") == "success" {
		return a.done(TransferResult{Success: true, Reference: str("reference")}, start, true)
	}
	return a.done(failure(str("error_code"), str("error_message"), ""), start, true)
}

// Close cleans up resources.
func (a *GRPCAdapter) Close() error {
	return a.closer()
}

func (a *GRPCAdapter) done(res TransferResult, start time.Time, reachable bool) TransferResult {
	a.Record(res, time.Since(start), reachable)
	return res
}

// statusFailure maps a gRPC status onto an error code. An ErrorInfo detail
// carries the provider's own code and wins over the status code.
func statusFailure(err error) (TransferResult, bool) {
	st, _ := status.FromError(err)
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetReason() != "" {
			return failure(info.GetReason(), st.Message(), ""), true
		}
	}

	switch st.Code() {
	case codes.Unavailable:
		return failure("SERVICE_UNAVAILABLE", st.Message(), "grpc.Unavailable"), false
	case codes.DeadlineExceeded:
		return failure("API_TIMEOUT", st.Message(), "context.DeadlineExceeded"), false
	case codes.ResourceExhausted:
		return failure("RATE_LIMIT_EXCEEDED", st.Message(), ""), false
	case codes.Aborted:
		return failure("TEMPORARY_FAILURE", st.Message(), ""), false
	case codes.Internal:
		return failure("INTERNAL_SERVER_ERROR", st.Message(), ""), false
	case codes.Unauthenticated:
		return failure("AUTHENTICATION_FAILED", st.Message(), ""), true
	case codes.PermissionDenied:
		return failure("FORBIDDEN", st.Message(), ""), true
	default:
		return failure("GRPC_"+strings.ToUpper(st.Code().String()), st.Message(), ""), true
	}
}
