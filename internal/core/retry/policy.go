package retry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// DelayPolicy computes the delay before a retry attempt.
type DelayPolicy interface {
	// DelayFor returns the delay before the given attempt (1-indexed).
	DelayFor(attempt int) time.Duration

	// MaxAttempts is the retry budget stamped on new transactions.
	MaxAttempts() int

	// Name identifies the policy in logs and metrics.
	Name() string
}

// FixedDelay waits the same duration before every attempt. The default is a
// single retry after ten minutes; most failures need a human, not a loop.
type FixedDelay struct {
	Delay    time.Duration
	Attempts int
}

// DefaultPolicy returns the production policy: one retry after 10 minutes.
func DefaultPolicy() *FixedDelay {
	return &FixedDelay{Delay: 10 * time.Minute, Attempts: 1}
}

func (p *FixedDelay) DelayFor(attempt int) time.Duration { return p.Delay }
func (p *FixedDelay) MaxAttempts() int                   { return p.Attempts }
func (p *FixedDelay) Name() string                       { return "fixed" }

// Progressive walks a fixed schedule with optional jitter. Attempts past the
// end of the schedule reuse the last step.
type Progressive struct {
	Schedule []time.Duration
	// Jitter is the maximum fractional deviation, e.g. 0.1 for ±10%.
	Jitter float64
	rand   func() float64
}

// DefaultProgressive returns 5m, 15m, 30m, 1h, 2h, 4h with ±10% jitter.
func DefaultProgressive() *Progressive {
	return &Progressive{
		Schedule: []time.Duration{
			5 * time.Minute,
			15 * time.Minute,
			30 * time.Minute,
			time.Hour,
			2 * time.Hour,
			4 * time.Hour,
		},
		Jitter: 0.1,
	}
}

func (p *Progressive) DelayFor(attempt int) time.Duration {
	if len(p.Schedule) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Schedule) {
		idx = len(p.Schedule) - 1
	}
	base := p.Schedule[idx]
	if p.Jitter <= 0 {
		return base
	}
	r := rand.Float64
	if p.rand != nil {
		r = p.rand
	}
	// Uniform in [-Jitter, +Jitter].
	factor := 1 + p.Jitter*(2*r()-1)
	return time.Duration(float64(base) * factor)
}

func (p *Progressive) MaxAttempts() int { return len(p.Schedule) }
func (p *Progressive) Name() string     { return "progressive" }

// ExponentialBackoff doubles the delay each attempt: InitialDelay * 2^(attempt-1),
// capped at MaxDelay.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Attempts     int
}

func (p *ExponentialBackoff) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p *ExponentialBackoff) MaxAttempts() int { return p.Attempts }
func (p *ExponentialBackoff) Name() string     { return "exponential" }

// PolicyConfig selects and parameterizes a delay policy.
type PolicyConfig struct {
	Policy       string          `yaml:"policy"`
	FixedDelay   time.Duration   `yaml:"fixed_delay"`
	MaxAttempts  int             `yaml:"max_attempts"`
	Schedule     []time.Duration `yaml:"schedule"`
	Jitter       float64         `yaml:"jitter"`
	InitialDelay time.Duration   `yaml:"initial_delay"`
	MaxDelay     time.Duration   `yaml:"max_delay"`
}

// NewPolicy builds the configured policy. Empty fields fall back to defaults.
func NewPolicy(cfg PolicyConfig) (DelayPolicy, error) {
	switch cfg.Policy {
	case "", "fixed":
		p := DefaultPolicy()
		if cfg.FixedDelay > 0 {
			p.Delay = cfg.FixedDelay
		}
		if cfg.MaxAttempts > 0 {
			p.Attempts = cfg.MaxAttempts
		}
		return p, nil
	case "progressive":
		p := DefaultProgressive()
		if len(cfg.Schedule) > 0 {
			p.Schedule = cfg.Schedule
		}
		if cfg.Jitter > 0 {
			p.Jitter = cfg.Jitter
		}
		return p, nil
	case "exponential":
		p := &ExponentialBackoff{
			InitialDelay: 5 * time.Minute,
			MaxDelay:     4 * time.Hour,
			Attempts:     6,
		}
		if cfg.InitialDelay > 0 {
			p.InitialDelay = cfg.InitialDelay
		}
		if cfg.MaxDelay > 0 {
			p.MaxDelay = cfg.MaxDelay
		}
		if cfg.MaxAttempts > 0 {
			p.Attempts = cfg.MaxAttempts
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown retry policy %q", cfg.Policy)
	}
}
