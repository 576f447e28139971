package auth

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedError aborts an attempt before any graph work and carries the
// caller-visible retry hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited; retry after %s", e.RetryAfter)
}

// Limiter is a per-sender token-bucket pool.
type Limiter struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

// NewLimiter builds a pool with the given sustained rate and burst;
// non-positive values fall back to defaults.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &Limiter{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.m[key]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.m[key] = lim
	return lim
}

// Ratelimit admits or rejects one attempt for the sender. On rejection the
// returned error is a *RateLimitedError with the retry-after hint.
func (l *Limiter) Ratelimit(sender string) error {
	lim := l.get(sender)
	r := lim.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return &RateLimitedError{RetryAfter: d}
	}
	return nil
}
