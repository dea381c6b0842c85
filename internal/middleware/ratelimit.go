package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig configures the process-wide request limiter.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// RateLimitMiddleware rejects requests above the configured rate with 429.
// The limit is global, not per client.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.RPS <= 0 || cfg.Burst <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	bucket := &tokenBucket{
		refillRate: cfg.RPS,
		capacity:   float64(cfg.Burst),
		available:  float64(cfg.Burst),
		refilledAt: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !bucket.take() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, `{"error":"rate limit exceeded"}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type tokenBucket struct {
	mu         sync.Mutex
	refillRate float64
	capacity   float64
	available  float64
	refilledAt time.Time
}

func (b *tokenBucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(b.refilledAt).Seconds(); elapsed > 0 {
		b.available += elapsed * b.refillRate
		if b.available > b.capacity {
			b.available = b.capacity
		}
		b.refilledAt = now
	}

	if b.available < 1 {
		return false
	}
	b.available--
	return true
}
