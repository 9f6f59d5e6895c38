// Package health provides system health monitoring and status reporting.
package health

import (
	"github.com/vietddude/payguard/internal/infra/provider"
	"github.com/vietddude/payguard/internal/infra/storage"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// DependencyHealth is the result of pinging one dependency.
type DependencyHealth struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus                     `json:"system_status"`
	Queue        storage.Stats                    `json:"queue"`
	Dependencies map[string]DependencyHealth      `json:"dependencies"`
	Providers    map[string]provider.HealthStatus `json:"providers"`
}
