// Package retry classifies fetch failures, computes backoff, and guards
// per-domain dispatch with a circuit breaker and rate limiter.
package retry

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// Class buckets a fetch outcome for retry and circuit decisions.
type Class string

// Failure classes. ClassNone marks a successful outcome.
const (
	ClassNone      Class = "none"
	ClassTransient Class = "transient"
	ClassRateLimit Class = "rate_limit"
	ClassPermanent Class = "permanent"
	ClassDNS       Class = "dns_error"
	ClassAuth      Class = "auth_error"
	ClassServer    Class = "server_error"
	ClassUnknown   Class = "unknown"
)

// Classify maps a per-attempt outcome to its failure class. Status codes win
// over the error when both are present, since a response did arrive.
func Classify(out crawl.FetchOutcome) Class {
	if out.StatusCode > 0 {
		return classifyStatus(out.StatusCode)
	}
	if out.Err != nil {
		return classifyError(out.Err)
	}
	return ClassUnknown
}

func classifyStatus(code int) Class {
	switch {
	case code >= 200 && code < 400:
		return ClassNone
	case code == 429:
		return ClassRateLimit
	case code == 401 || code == 403:
		return ClassAuth
	case code == 408:
		return ClassTransient
	case code >= 500:
		return ClassServer
	case code >= 400:
		return ClassPermanent
	default:
		return ClassUnknown
	}
}

func classifyError(err error) Class {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return ClassTransient
	}
	return ClassUnknown
}

// Retryable reports whether the class permits any retry at all.
func (c Class) Retryable() bool {
	switch c {
	case ClassTransient, ClassRateLimit, ClassServer, ClassUnknown:
		return true
	default:
		return false
	}
}

// TripsBreaker reports whether failures of this class count toward opening
// the domain circuit. A permanent 404 never opens a circuit.
func (c Class) TripsBreaker() bool {
	switch c {
	case ClassTransient, ClassServer, ClassDNS:
		return true
	default:
		return false
	}
}
