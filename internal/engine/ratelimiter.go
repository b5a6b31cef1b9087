package engine

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is the global token bucket shared by all workers, sized to the
// configured sends per minute. It paces dispatch only; retry backoff is a
// separate per-job concern.
type RateLimiter struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	perMinute int
}

// NewRateLimiter creates a limiter allowing perMinute sends per rolling
// minute. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	l := &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	l.SetRate(perMinute)
	return l
}

// SetRate reconfigures the bucket live. Workers blocked in Wait pick up the
// new rate without restarting.
func (l *RateLimiter) SetRate(perMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perMinute = perMinute

	if perMinute <= 0 {
		l.limiter.SetLimit(rate.Inf)
		l.limiter.SetBurst(0)
		return
	}

	// Burst of one refill boundary keeps the rolling-minute total within
	// perMinute plus at most one token.
	burst := perMinute / 60
	if burst < 1 {
		burst = 1
	}
	l.limiter.SetLimit(rate.Limit(perMinute) / 60)
	l.limiter.SetBurst(burst)
}

// Rate returns the currently configured sends per minute.
func (l *RateLimiter) Rate() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perMinute
}

// Wait blocks until a send token is available or the context is cancelled.
func (l *RateLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	limiter := l.limiter
	l.mu.Unlock()
	return limiter.Wait(ctx)
}

// Allow reports whether a token is immediately available, consuming it if so.
func (l *RateLimiter) Allow() bool {
	l.mu.Lock()
	limiter := l.limiter
	l.mu.Unlock()
	return limiter.Allow()
}
