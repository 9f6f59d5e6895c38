package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/payguard/internal/infra/provider"
	"github.com/vietddude/payguard/internal/infra/storage"
	"github.com/vietddude/payguard/internal/metrics"
)

// Pinger checks connectivity of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderHealth reports per-provider call health.
type ProviderHealth interface {
	Health() map[string]provider.HealthStatus
}

// Thresholds decide when queue sizes degrade the reported status.
type Thresholds struct {
	ReadyRetries   int64
	AwaitingManual int64
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{ReadyRetries: 500, AwaitingManual: 50}
}

// Monitor aggregates health status from the store, its dependencies and providers.
type Monitor struct {
	store      storage.Store
	deps       map[string]Pinger
	providers  ProviderHealth
	thresholds Thresholds
	cacheFor   time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. deps are optional extra pings
// (redis, nats); providers may be nil.
func NewMonitor(store storage.Store, deps map[string]Pinger, providers ProviderHealth, thresholds Thresholds) *Monitor {
	if deps == nil {
		deps = map[string]Pinger{}
	}
	return &Monitor{
		store:      store,
		deps:       deps,
		providers:  providers,
		thresholds: thresholds,
		cacheFor:   5 * time.Second,
	}
}

// CheckHealth builds a report, reusing the previous one for a few seconds
// so health checks do not hammer the database.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheFor {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Dependencies: make(map[string]DependencyHealth, len(m.deps)+1),
	}

	// 1. Database
	if err := m.store.Ping(ctx); err != nil {
		report.Dependencies["database"] = DependencyHealth{Status: StatusCritical, Error: err.Error()}
		report.SystemStatus = StatusCritical
	} else {
		report.Dependencies["database"] = DependencyHealth{Status: StatusHealthy}
	}

	// 2. Queue sizes
	if report.SystemStatus != StatusCritical {
		stats, err := m.store.Stats(ctx, time.Now())
		if err != nil {
			report.SystemStatus = StatusDegraded
		} else {
			report.Queue = stats
			metrics.AwaitingManual.Set(float64(stats.AwaitingManual))
			if stats.ReadyRetries > m.thresholds.ReadyRetries || stats.AwaitingManual > m.thresholds.AwaitingManual {
				report.SystemStatus = StatusDegraded
			}
		}
	}

	// 3. Optional dependencies degrade but never fail the service
	for name, p := range m.deps {
		if err := p.Ping(ctx); err != nil {
			report.Dependencies[name] = DependencyHealth{Status: StatusDegraded, Error: err.Error()}
			if report.SystemStatus == StatusHealthy {
				report.SystemStatus = StatusDegraded
			}
			continue
		}
		report.Dependencies[name] = DependencyHealth{Status: StatusHealthy}
	}

	// 4. Providers
	if m.providers != nil {
		report.Providers = m.providers.Health()
		for _, h := range report.Providers {
			if !h.Available && report.SystemStatus == StatusHealthy {
				report.SystemStatus = StatusDegraded
			}
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}
