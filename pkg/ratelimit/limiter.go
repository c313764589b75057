// Package ratelimit provides token bucket limiters keyed by string, and an
// HTTP middleware that limits requests per client address and app user.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket allows bursts of up to capacity requests, refilled
// continuously at refillRate tokens per second.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     float64
	refillRate float64
	lastRefill time.Time
	now        func() time.Time
}

func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity int, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow takes one token if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// Tokens returns the tokens currently available.
func (tb *TokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	return tb.tokens
}

// Reset refills the bucket to capacity.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = float64(tb.capacity)
	tb.lastRefill = tb.now()
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastRefill
}

func (tb *TokenBucket) refillLocked() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(float64(tb.capacity), tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now
}

// RateLimiter keeps one TokenBucket per key, for example per phone number.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*TokenBucket
	capacity   int
	refillRate float64
	ttl        time.Duration
	now        func() time.Time
}

// NewRateLimiter creates a limiter. Buckets idle for longer than ttl are
// dropped; a zero ttl keeps them forever.
func NewRateLimiter(capacity int, refillRate float64, ttl time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		ttl:        ttl,
		now:        time.Now,
	}
	if ttl > 0 {
		go rl.cleanup()
	}
	return rl
}

// Allow takes one token from the bucket of key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.bucket(key).Allow()
}

// Reset refills the bucket of key.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	bucket, ok := rl.buckets[key]
	rl.mu.Unlock()
	if ok {
		bucket.Reset()
	}
}

// Remove forgets key.
func (rl *RateLimiter) Remove(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

func (rl *RateLimiter) bucket(key string) *TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = newTokenBucket(rl.capacity, rl.refillRate, rl.now)
		rl.buckets[key] = bucket
	}
	return bucket
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.ttl)
	defer ticker.Stop()
	for range ticker.C {
		rl.removeIdle()
	}
}

func (rl *RateLimiter) removeIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, bucket := range rl.buckets {
		if now.Sub(bucket.idleSince()) > rl.ttl {
			delete(rl.buckets, key)
		}
	}
}

// Stats describes a RateLimiter.
type Stats struct {
	ActiveBuckets int
	Capacity      int
	RefillRate    float64
}

func (rl *RateLimiter) Stats() Stats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return Stats{
		ActiveBuckets: len(rl.buckets),
		Capacity:      rl.capacity,
		RefillRate:    rl.refillRate,
	}
}
