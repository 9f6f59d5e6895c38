package provider

import (
	"sync"
	"time"

	"github.com/vietddude/payguard/internal/metrics"
)

// BaseAdapter implements common adapter functionality: health tracking.
type BaseAdapter struct {
	name string

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int
}

// NewBaseAdapter creates a new BaseAdapter.
func NewBaseAdapter(name string) *BaseAdapter {
	return &BaseAdapter{
		name: name,
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
	}
}

// Name returns the provider's name.
func (b *BaseAdapter) Name() string {
	return b.name
}

// Health returns the adapter's health status.
func (b *BaseAdapter) Health() HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.health
}

// Record updates health from one call result. Business rejections (user
// errors) still count as a reachable provider.
func (b *BaseAdapter) Record(res TransferResult, latency time.Duration, reachable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requestCount++
	b.health.Requests = b.requestCount
	if reachable {
		b.successCount++
		b.totalLatency += latency
		b.health.LastSuccessAt = time.Now()
		b.health.Latency = b.totalLatency / time.Duration(b.successCount)
	} else {
		b.failureCount++
		b.health.LastFailureAt = time.Now()
	}

	b.health.ErrorRate = float64(b.failureCount) / float64(b.requestCount)
	b.health.Available = b.health.ErrorRate <= 0.5 || res.Success

	result := "success"
	switch {
	case !reachable:
		result = "unreachable"
	case !res.Success:
		result = "rejected"
	}
	metrics.ProviderCallsTotal.WithLabelValues(b.name, result).Inc()
	metrics.ProviderLatency.WithLabelValues(b.name).Observe(latency.Seconds())
}
