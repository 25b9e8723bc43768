package engine

import (
	"math/rand"
	"time"
)

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = &RunError{Code: "INVALID_RETRY_POLICY", Message: "retry policy is invalid"}

// RetryPolicy configures the Backtracker's retry behavior for a step.
// MaxAttempts includes the initial attempt; a value of 1 means no
// retries. Jitter defaults off, per spec.md §9's pinned open question:
// the formula is deterministic min(base*2^attempt, cap) unless a
// Rand is supplied and Jitter is true.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultRetryPolicy returns the spec-pinned defaults: base 1s, cap 10s.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxRetries + 1,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      false,
	}
}

// Validate checks the policy's invariants.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// computeBackoff calculates the delay before the next attempt:
// min(base * 2^attempt, maxDelay), optionally with bounded jitter added
// when rng is non-nil and jitter is requested. attempt is zero-based
// (0 = delay before the first retry).
func computeBackoff(attempt int, base, maxDelay time.Duration, jitter bool, rng *rand.Rand) time.Duration {
	delay := base * (1 << uint(attempt))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	if jitter && rng != nil && base > 0 {
		delay += time.Duration(rng.Int63n(int64(base)))
	}
	return delay
}

// ErrorKind classifies a step-level failure for retry/fallback decisions,
// per spec.md §6 and §7.
type ErrorKind string

const (
	ErrTransient      ErrorKind = "transient"
	ErrTimeout        ErrorKind = "timeout"
	ErrRateLimited    ErrorKind = "rate_limited"
	ErrConfiguration  ErrorKind = "configuration"
	ErrInvalidResponse ErrorKind = "invalid_response"
)

// Retryable reports whether a failure of this kind is eligible for
// another attempt. Configuration errors are final on first occurrence;
// everything else is retryable (invalid_response is capped by the
// Backtracker at one additional attempt per spec.md §7, enforced by
// the caller, not by this predicate).
func (k ErrorKind) Retryable() bool {
	return k != ErrConfiguration
}
