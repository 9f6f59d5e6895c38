package provider

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/payguard/internal/core/domain"
)

// MockAdapter returns scripted results in order, then repeats Default.
type MockAdapter struct {
	*BaseAdapter

	mu      sync.Mutex
	script  []TransferResult
	Default TransferResult
	calls   []string
}

// NewMockAdapter creates a mock that succeeds unless scripted otherwise.
func NewMockAdapter(name string, script ...TransferResult) *MockAdapter {
	return &MockAdapter{
		BaseAdapter: NewBaseAdapter(name),
		script:      script,
		Default:     TransferResult{Success: true, Reference: "mock"},
	}
}

// ExecuteTransfer implements Adapter.
func (m *MockAdapter) ExecuteTransfer(ctx context.Context, tx *domain.Transaction) TransferResult {
	m.mu.Lock()
	m.calls = append(m.calls, tx.ID)
	res := m.Default
	if len(m.script) > 0 {
		res = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	m.Record(res, time.Millisecond, true)
	return res
}

// Calls returns the transaction ids executed so far.
func (m *MockAdapter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockAdapter) Close() error { return nil }
