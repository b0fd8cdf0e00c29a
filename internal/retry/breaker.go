package retry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// BreakerState is the circuit position for one domain.
type BreakerState string

// Circuit positions.
const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerConfig tunes the per-domain circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// domainCircuit holds one domain's counters behind its own lock so unrelated
// domains never serialize on each other.
type domainCircuit struct {
	mu                  sync.Mutex
	state               BreakerState
	failureCount        int
	successCount        int
	consecutiveFailures int
	halfOpenSuccesses   int
	lastFailure         time.Time
}

// Breaker tracks circuit state per domain. While a circuit is closed, only
// transient, server and DNS failures count toward opening it; once half-open,
// any failure reopens it.
type Breaker struct {
	cfg    BreakerConfig
	clock  crawl.Clock
	logger *zap.Logger

	mu      sync.Mutex
	domains map[string]*domainCircuit
}

// NewBreaker creates a Breaker with the given config.
func NewBreaker(cfg BreakerConfig, clock crawl.Clock, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		logger:  logger,
		domains: make(map[string]*domainCircuit),
	}
}

func (b *Breaker) circuit(domain string) *domainCircuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	dc, ok := b.domains[domain]
	if !ok {
		dc = &domainCircuit{state: StateClosed}
		b.domains[domain] = dc
	}
	return dc
}

// Allow reports whether a request to the domain may be dispatched. When the
// circuit is open it returns false plus the remaining cool-down. An open
// circuit whose cool-down elapsed transitions to half-open and admits the
// probe request.
func (b *Breaker) Allow(domain string) (bool, time.Duration) {
	dc := b.circuit(domain)
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.state != StateOpen {
		return true, 0
	}
	elapsed := b.clock.Now().Sub(dc.lastFailure)
	if elapsed < b.cfg.Timeout {
		return false, b.cfg.Timeout - elapsed
	}
	dc.state = StateHalfOpen
	dc.halfOpenSuccesses = 0
	b.logger.Info("circuit half-open", zap.String("domain", domain))
	return true, 0
}

// RecordSuccess feeds a successful outcome back into the domain's circuit.
func (b *Breaker) RecordSuccess(domain string) {
	dc := b.circuit(domain)
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.successCount++
	dc.consecutiveFailures = 0
	if dc.state == StateHalfOpen {
		dc.halfOpenSuccesses++
		if dc.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			dc.state = StateClosed
			dc.failureCount = 0
			b.logger.Info("circuit closed", zap.String("domain", domain))
		}
	}
}

// RecordFailure feeds a failed outcome back into the domain's circuit. While
// the circuit is closed, only classes that trip the breaker count toward the
// threshold. A half-open circuit reopens on a failed probe of any class: the
// domain has not proven itself healthy yet.
func (b *Breaker) RecordFailure(domain string, class Class) {
	dc := b.circuit(domain)
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.state == StateHalfOpen {
		dc.failureCount++
		dc.consecutiveFailures++
		dc.lastFailure = b.clock.Now()
		dc.state = StateOpen
		crawl.TotalCircuitOpens.Inc()
		b.logger.Warn("circuit reopened", zap.String("domain", domain), zap.String("class", string(class)))
		return
	}

	if !class.TripsBreaker() {
		return
	}

	dc.failureCount++
	dc.consecutiveFailures++
	dc.lastFailure = b.clock.Now()

	if dc.state == StateClosed && dc.consecutiveFailures >= b.cfg.FailureThreshold {
		dc.state = StateOpen
		crawl.TotalCircuitOpens.Inc()
		b.logger.Warn("circuit opened",
			zap.String("domain", domain),
			zap.Int("consecutive_failures", dc.consecutiveFailures),
			zap.String("class", string(class)))
	}
}

// State returns the current circuit position for a domain.
func (b *Breaker) State(domain string) BreakerState {
	dc := b.circuit(domain)
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.state
}
