// Package ratelimit provides a keyed token-bucket limiter.
// Each key (client IP, user id, connection id) gets an independent bucket;
// buckets idle for longer than the eviction window are dropped.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleEviction = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter manages per-key rate limiting.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idle     time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a keyed rate limiter allowing rps requests per second per key
// with the given burst.
func New(rps float64, burst int) *KeyedRateLimiter {
	return NewWithEviction(rps, burst, defaultIdleEviction)
}

// NewWithEviction is New with an explicit idle eviction window.
func NewWithEviction(rps float64, burst int, idle time.Duration) *KeyedRateLimiter {
	krl := &KeyedRateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     idle,
		done:     make(chan struct{}),
	}
	go krl.sweepLoop()
	return krl
}

// PerInterval converts "n requests per interval" into requests per second.
func PerInterval(n int, interval time.Duration) float64 {
	return float64(n) / interval.Seconds()
}

// Allow reports whether a request for key may proceed now. It never blocks.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	return krl.getLimiter(key).Allow()
}

// Wait blocks until a request for key is allowed or ctx is canceled.
func (krl *KeyedRateLimiter) Wait(ctx context.Context, key string) error {
	return krl.getLimiter(key).Wait(ctx)
}

func (krl *KeyedRateLimiter) getLimiter(key string) *rate.Limiter {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	e, ok := krl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Sweep drops buckets not used since before cutoff.
func (krl *KeyedRateLimiter) Sweep(cutoff time.Time) int {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	removed := 0
	for key, e := range krl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(krl.limiters, key)
			removed++
		}
	}
	return removed
}

// Stop shuts down the sweep goroutine. Safe to call more than once.
func (krl *KeyedRateLimiter) Stop() {
	krl.stopOnce.Do(func() {
		close(krl.done)
	})
}

func (krl *KeyedRateLimiter) sweepLoop() {
	if krl.idle <= 0 {
		<-krl.done
		return
	}
	ticker := time.NewTicker(krl.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			krl.Sweep(time.Now().Add(-krl.idle))
		case <-krl.done:
			return
		}
	}
}
