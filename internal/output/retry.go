package output

import (
	"errors"
	"sync"
	"time"
)

// RetryPolicy bounds the retries of a busy channel write.
type RetryPolicy struct {
	MaxAttempts int           // must be > 0
	BaseDelay   time.Duration // first backoff delay
	MaxDelay    time.Duration // cap on any single delay

	BreakerThreshold int           // exhausted writes before the breaker opens; 0 disables it
	BreakerCooldown  time.Duration // how long the breaker stays open
}

// DefaultRetryPolicy keeps the worst case well below one refresh frame.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:      5,
	BaseDelay:        200 * time.Microsecond,
	MaxDelay:         5 * time.Millisecond,
	BreakerThreshold: 3,
	BreakerCooldown:  10 * time.Second,
}

// retryBusy calls fn up to p.MaxAttempts times with exponential backoff
// while it returns ErrBusy. Any other error stops immediately.
func retryBusy(p RetryPolicy, sleep func(time.Duration), fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !errors.Is(lastErr, ErrBusy) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}
		delay := p.BaseDelay << uint(attempt)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		sleep(delay)
	}
	return lastErr
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	failures  int
	openUntil time.Time
}

// NewBreaker returns a breaker that opens after threshold consecutive failures.
// A threshold of zero never opens.
func NewBreaker(threshold int, cooldown time.Duration, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: now}
}

// Allow reports whether a call may proceed. After the cooldown the breaker is
// half-open: one call is let through and its outcome decides the next state.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	return !b.now().Before(b.openUntil)
}

// Success resets the failure count and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	b.openUntil = time.Time{}
	b.mu.Unlock()
}

// Failure records a failed call and reports whether the breaker opened.
func (b *Breaker) Failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.threshold <= 0 || b.failures < b.threshold {
		return false
	}
	b.openUntil = b.now().Add(b.cooldown)
	return true
}

// Open reports whether the breaker currently rejects calls.
func (b *Breaker) Open() bool {
	return !b.Allow()
}
