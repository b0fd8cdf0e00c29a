package retry

import (
	"math"
	"math/rand"
	"time"
)

// PolicyConfig sets per-class retry budgets and the backoff curve.
type PolicyConfig struct {
	TransientMaxAttempts int
	RateLimitMaxAttempts int
	UnknownMaxAttempts   int

	BaseDelay          time.Duration
	RateLimitBaseDelay time.Duration
	MaxDelay           time.Duration
	Multiplier         float64
	JitterFactor       float64
}

func (c PolicyConfig) withDefaults() PolicyConfig {
	if c.TransientMaxAttempts <= 0 {
		c.TransientMaxAttempts = 3
	}
	if c.RateLimitMaxAttempts <= 0 {
		c.RateLimitMaxAttempts = 5
	}
	if c.UnknownMaxAttempts <= 0 {
		c.UnknownMaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.RateLimitBaseDelay <= 0 {
		c.RateLimitBaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if c.JitterFactor < 0 || c.JitterFactor >= 1 {
		c.JitterFactor = 0.2
	}
	return c
}

// Policy decides whether and when an attempt may be retried.
type Policy struct {
	cfg PolicyConfig
}

// NewPolicy builds a Policy, filling unset config fields with defaults.
func NewPolicy(cfg PolicyConfig) *Policy {
	return &Policy{cfg: cfg.withDefaults()}
}

// MaxAttempts returns the retry budget for a class. Permanent, auth and DNS
// failures get no retries.
func (p *Policy) MaxAttempts(class Class) int {
	switch class {
	case ClassTransient, ClassServer:
		return p.cfg.TransientMaxAttempts
	case ClassRateLimit:
		return p.cfg.RateLimitMaxAttempts
	case ClassUnknown:
		return p.cfg.UnknownMaxAttempts
	default:
		return 0
	}
}

// ShouldRetry reports whether one more attempt is allowed after the given
// number of completed attempts.
func (p *Policy) ShouldRetry(class Class, attempts int) bool {
	return attempts < p.MaxAttempts(class)
}

// Backoff returns the jittered delay before retry number attempt (0-based).
// Rate-limited attempts start from the longer base delay.
func (p *Policy) Backoff(class Class, attempt int) time.Duration {
	base := p.cfg.BaseDelay
	if class == ClassRateLimit {
		base = p.cfg.RateLimitBaseDelay
	}
	d := float64(base) * math.Pow(p.cfg.Multiplier, float64(attempt))
	if d > float64(p.cfg.MaxDelay) {
		d = float64(p.cfg.MaxDelay)
	}
	if p.cfg.JitterFactor > 0 {
		// Uniform in [-jitter, +jitter].
		d *= 1 + p.cfg.JitterFactor*(2*rand.Float64()-1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
