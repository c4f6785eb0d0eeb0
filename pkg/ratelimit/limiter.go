// Package ratelimit provides a token bucket limiter used to shield the
// session API from misbehaving frontends. Activity reporting is meant to
// be throttled client-side; the limiter catches clients that report on
// every keystroke anyway.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a per-key token bucket rate limiter.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     int // tokens per interval
	interval time.Duration
	now      func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewLimiter creates a limiter allowing rate requests per interval for
// each distinct key.
func NewLimiter(rate int, interval time.Duration) *Limiter {
	return &Limiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether a request for key fits in its budget and, when it
// does, consumes one token.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rate <= 0 {
		return false
	}

	now := l.now()
	b, exists := l.buckets[key]
	if !exists {
		l.buckets[key] = &bucket{tokens: l.rate - 1, lastRefill: now}
		return true
	}

	if elapsed := now.Sub(b.lastRefill); elapsed >= l.interval {
		b.tokens = l.rate
		b.lastRefill = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Prune drops buckets idle for longer than age, bounding memory when keys
// are client addresses.
func (l *Limiter) Prune(age time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-age)
	for key, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
