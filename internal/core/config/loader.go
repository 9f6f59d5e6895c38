package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/payguard/internal/core/retry"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "payguard"
	}

	r := &cfg.Retry
	if r.Policy == "" {
		r.Policy = "fixed"
	}
	if r.Policy == "fixed" {
		if r.FixedDelay == 0 {
			r.FixedDelay = 10 * time.Minute
		}
		if r.MaxAttempts == 0 {
			r.MaxAttempts = 1
		}
	}
	if r.BatchInterval == 0 {
		r.BatchInterval = 2 * time.Minute
	}
	if r.BatchSize == 0 {
		r.BatchSize = 50
	}
	if r.Parallelism == 0 {
		r.Parallelism = 4
	}
	if r.IdempotencyBucket == 0 {
		r.IdempotencyBucket = 5 * time.Minute
	}
	if r.LockTTL == 0 {
		r.LockTTL = r.BatchInterval
	}

	if cfg.Recovery.SessionTTL == 0 {
		cfg.Recovery.SessionTTL = 10 * time.Minute
	}
	if cfg.Recovery.PruneInterval == 0 {
		cfg.Recovery.PruneInterval = 5 * time.Minute
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].Type == "" {
			cfg.Providers[i].Type = "http"
		}
		if cfg.Providers[i].Timeout == 0 {
			cfg.Providers[i].Timeout = 30 * time.Second
		}
	}
}

// Validate checks settings that have no safe default.
func (c *AppConfig) Validate() error {
	if _, err := retry.NewPolicy(c.Retry.PolicyConfig); err != nil {
		return err
	}
	if c.Recovery.SigningSecret == "" {
		return fmt.Errorf("recovery.signing_secret is required")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Type {
		case "http", "grpc":
			if p.URL == "" {
				return fmt.Errorf("provider %q: url is required", p.Name)
			}
		case "mock":
		default:
			return fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
		}
	}
	return nil
}
