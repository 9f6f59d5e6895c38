package retry

import (
	"strings"
	"testing"
	"time"
)

func TestFixedDelay_Default(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxAttempts() != 1 {
		t.Errorf("MaxAttempts = %d, want 1", p.MaxAttempts())
	}
	for attempt := 1; attempt <= 3; attempt++ {
		if got := p.DelayFor(attempt); got != 10*time.Minute {
			t.Errorf("DelayFor(%d) = %v, want 10m", attempt, got)
		}
	}
}

func TestProgressive_Schedule(t *testing.T) {
	p := DefaultProgressive()
	p.Jitter = 0

	want := []time.Duration{
		5 * time.Minute, 15 * time.Minute, 30 * time.Minute,
		time.Hour, 2 * time.Hour, 4 * time.Hour,
	}
	for i, w := range want {
		if got := p.DelayFor(i + 1); got != w {
			t.Errorf("DelayFor(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := p.DelayFor(10); got != 4*time.Hour {
		t.Errorf("past schedule = %v, want last step", got)
	}
	if p.MaxAttempts() != 6 {
		t.Errorf("MaxAttempts = %d, want 6", p.MaxAttempts())
	}
}

func TestProgressive_JitterBounds(t *testing.T) {
	p := DefaultProgressive()
	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		p.rand = func() float64 { return r }
		got := p.DelayFor(1)
		low := time.Duration(float64(5*time.Minute) * 0.9)
		high := time.Duration(float64(5*time.Minute) * 1.1)
		if got < low || got > high {
			t.Errorf("rand=%v: delay %v outside [%v, %v]", r, got, low, high)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	p := &ExponentialBackoff{InitialDelay: time.Minute, MaxDelay: 10 * time.Minute, Attempts: 5}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := p.DelayFor(tt.attempt); got != tt.want {
			t.Errorf("DelayFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy(PolicyConfig{})
	if err != nil || p.Name() != "fixed" || p.DelayFor(1) != 10*time.Minute {
		t.Errorf("empty config should give default fixed policy, got %v %v", p, err)
	}

	p, err = NewPolicy(PolicyConfig{Policy: "fixed", FixedDelay: time.Minute, MaxAttempts: 3})
	if err != nil || p.MaxAttempts() != 3 || p.DelayFor(2) != time.Minute {
		t.Errorf("fixed override not applied: %v %v", p, err)
	}

	p, err = NewPolicy(PolicyConfig{Policy: "progressive"})
	if err != nil || p.MaxAttempts() != 6 {
		t.Errorf("progressive: %v %v", p, err)
	}

	p, err = NewPolicy(PolicyConfig{Policy: "exponential", MaxAttempts: 2})
	if err != nil || p.MaxAttempts() != 2 {
		t.Errorf("exponential: %v %v", p, err)
	}

	if _, err := NewPolicy(PolicyConfig{Policy: "linear"}); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestAttemptKey(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	k1 := AttemptKey("tx1", 1, "API_TIMEOUT", at, 5*time.Minute)
	k2 := AttemptKey("tx1", 1, "API_TIMEOUT", at.Add(30*time.Second), 5*time.Minute)
	if k1 != k2 {
		t.Errorf("same bucket should yield same key: %s vs %s", k1, k2)
	}
	if !strings.HasPrefix(k1, "retry_") || len(k1) != len("retry_")+32 {
		t.Errorf("unexpected key format %q", k1)
	}
	if k1 == AttemptKey("tx1", 2, "API_TIMEOUT", at, 5*time.Minute) {
		t.Error("attempt number must change the key")
	}
	if k1 == AttemptKey("tx1", 1, "API_TIMEOUT", at.Add(10*time.Minute), 5*time.Minute) {
		t.Error("time bucket must change the key")
	}
}
