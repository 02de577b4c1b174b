package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps a sliding log of request times per key in process memory.
// Limits are per instance.
type MemoryLimiter struct {
	rates    Rates
	mu       sync.Mutex
	hits     map[string][]time.Time
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates a limiter and starts its cleanup goroutine
func NewMemoryLimiter(rates Rates, cleanupInterval time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		rates: rates,
		hits:  make(map[string][]time.Time),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanup(cleanupInterval)
	}
	return l
}

// WithClock replaces the clock
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

// Allow records the request when it fits in the current window
func (l *MemoryLimiter) Allow(_ context.Context, address string, class Class) (Decision, error) {
	rate := l.rates.For(class)
	key := string(class) + ":" + address

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := prune(l.hits[key], now.Add(-rate.Window))

	if len(hits) >= rate.Limit {
		l.hits[key] = hits
		return Decision{
			Permitted:  false,
			Limit:      rate.Limit,
			Remaining:  0,
			RetryAfter: retryAfterSeconds(hits[0].Add(rate.Window).Sub(now)),
		}, nil
	}

	hits = append(hits, now)
	l.hits[key] = hits
	return Decision{Permitted: true, Limit: rate.Limit, Remaining: rate.Limit - len(hits)}, nil
}

// prune drops hits at or before cutoff; hits are in ascending order
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (l *MemoryLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep forgets keys whose newest hit is older than the longest window
func (l *MemoryLimiter) sweep() {
	var longest time.Duration
	for _, rate := range l.rates {
		if rate.Window > longest {
			longest = rate.Window
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-longest)
	for key, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}

// Len returns the number of tracked keys
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// Stop stops the cleanup goroutine
func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
