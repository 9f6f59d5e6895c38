package config

import (
	"time"

	"github.com/vietddude/payguard/internal/core/retry"
	"github.com/vietddude/payguard/internal/core/worker"
	"github.com/vietddude/payguard/internal/infra/provider"
	redisclient "github.com/vietddude/payguard/internal/infra/redis"
	"github.com/vietddude/payguard/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	NATS      NATSConfig         `yaml:"nats"`
	Retry     RetryConfig        `yaml:"retry"`
	Recovery  RecoveryConfig     `yaml:"recovery"`
	Auth      AuthConfig         `yaml:"auth"`
	Providers []provider.Config  `yaml:"providers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// NATSConfig holds the notification bus settings. An empty URL logs notifications instead.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// RetryConfig holds the delay policy and the batch driver settings.
type RetryConfig struct {
	retry.PolicyConfig `yaml:",inline"`

	BatchInterval     time.Duration `yaml:"batch_interval"`
	BatchSize         int           `yaml:"batch_size"`
	Parallelism       int           `yaml:"parallelism"`
	IdempotencyBucket time.Duration `yaml:"idempotency_bucket"`
	// LockTTL bounds how long one instance keeps the batch leader lock.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// Processor returns the batch processor settings.
func (c RetryConfig) Processor() worker.ProcessorConfig {
	return worker.ProcessorConfig{BatchSize: c.BatchSize, Parallelism: c.Parallelism}
}

// RecoveryConfig holds recovery session settings.
type RecoveryConfig struct {
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SigningSecret string        `yaml:"signing_secret"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}
