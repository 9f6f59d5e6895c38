package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config describes one configured provider.
type Config struct {
	Name    string        `yaml:"name"`
	Type    string        `yaml:"type"` // http, grpc or mock
	URL     string        `yaml:"url"`
	Method  string        `yaml:"method"`
	Timeout time.Duration `yaml:"timeout"`
}

// Registry resolves adapters by provider name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Build creates adapters from configuration.
func Build(ctx context.Context, cfgs []Config) (*Registry, error) {
	r := NewRegistry()
	for _, c := range cfgs {
		var (
			a   Adapter
			err error
		)
		switch c.Type {
		case "http", "":
			a = NewHTTPAdapter(c.Name, c.URL, c.Method, c.Timeout)
		case "grpc":
			a, err = NewGRPCAdapter(c.Name, c.URL, c.Method, c.Timeout)
		case "mock":
			a = NewMockAdapter(c.Name)
		default:
			err = fmt.Errorf("unsupported provider type %q", c.Type)
		}
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("provider %s: %w", c.Name, err)
		}
		r.Register(a)
	}
	return r, nil
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// Health returns health per provider, sorted by name.
func (r *Registry) Health() map[string]HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]HealthStatus, len(r.adapters))
	for name, a := range r.adapters {
		out[name] = a.Health()
	}
	return out
}

// Names lists registered providers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close closes all adapters.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, a := range r.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
