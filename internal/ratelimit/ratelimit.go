package ratelimit

import (
	"sync"

	ratelib "golang.org/x/time/rate"
)

// Limiter manages one token bucket per key, created on first use.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*ratelib.Limiter
}

// Config defines the parameters for a token bucket rate limiter.
type Config struct {
	// RequestsPerSecond is the average number of requests per second allowed.
	RequestsPerSecond float64
	// Burst is the maximum number of requests that can exceed the rate limit instantaneously.
	Burst int
}

func NewLimiter() *Limiter {
	return &Limiter{
		limiters: make(map[string]*ratelib.Limiter),
	}
}

// Allow reports whether one more request may pass for key. The bucket is
// reconfigured when cfg differs from the one it was created with.
func (l *Limiter) Allow(key string, cfg Config) bool {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		lim, ok = l.limiters[key]
		if !ok {
			lim = ratelib.NewLimiter(ratelib.Limit(cfg.RequestsPerSecond), cfg.Burst)
			l.limiters[key] = lim
		}
		l.mu.Unlock()
	}

	if lim.Limit() != ratelib.Limit(cfg.RequestsPerSecond) {
		lim.SetLimit(ratelib.Limit(cfg.RequestsPerSecond))
	}
	if lim.Burst() != cfg.Burst {
		lim.SetBurst(cfg.Burst)
	}
	return lim.Allow()
}

func (l *Limiter) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}
