package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// GateConfig tunes the per-domain token bucket in front of dispatch.
type GateConfig struct {
	DefaultRPS   float64
	DefaultBurst int
}

// Gate is the single dispatch guard workers consult before fetching: the
// domain circuit must be closed (or probing) and a rate token must be
// available. Outcomes are reported back through Report.
type Gate struct {
	breaker *Breaker
	policy  *Policy

	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// NewGate wires a breaker and retry policy behind a per-domain rate limiter.
func NewGate(cfg GateConfig, breaker *Breaker, policy *Policy) *Gate {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Gate{
		breaker:      breaker,
		policy:       policy,
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Acquire blocks until the domain may be fetched. An open circuit is a
// proactive refusal: it returns ErrCircuitOpen wrapped with the remaining
// cool-down instead of waiting it out.
func (g *Gate) Acquire(ctx context.Context, domain string) error {
	ok, remaining := g.breaker.Allow(domain)
	if !ok {
		return fmt.Errorf("%w: domain %q cools down for %s", crawl.ErrCircuitOpen, domain, remaining.Round(time.Millisecond))
	}
	if err := g.limiter(domain).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %q: %w", domain, err)
	}
	return nil
}

// Report feeds an attempt outcome back into the circuit and answers whether a
// retry is allowed and after what delay. attempts is the number of attempts
// already completed for this item.
func (g *Gate) Report(domain string, out crawl.FetchOutcome, attempts int) (Class, bool, time.Duration) {
	class := Classify(out)
	if class == ClassNone {
		g.breaker.RecordSuccess(domain)
		return class, false, 0
	}
	g.breaker.RecordFailure(domain, class)
	if !g.policy.ShouldRetry(class, attempts) {
		return class, false, 0
	}
	crawl.TotalRetries.Inc()
	return class, true, g.policy.Backoff(class, attempts)
}

func (g *Gate) limiter(domain string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[domain]
	if !ok {
		l = rate.NewLimiter(g.defaultRate, g.defaultBurst)
		g.limiters[domain] = l
	}
	return l
}
