package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTokenBucket_Allow(t *testing.T) {
	clock := newFakeClock()
	tb := newTokenBucket(5, 1.0, clock.Now)

	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow(), "request %d", i+1)
	}
	assert.False(t, tb.Allow())

	clock.Advance(2 * time.Second)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestTokenBucket_RefillIsCapped(t *testing.T) {
	clock := newFakeClock()
	tb := newTokenBucket(3, 1.0, clock.Now)

	tb.Allow()
	clock.Advance(time.Hour)
	assert.Equal(t, 3.0, tb.Tokens())
}

func TestTokenBucket_Reset(t *testing.T) {
	tb := NewTokenBucket(3, 0.001)
	for i := 0; i < 3; i++ {
		tb.Allow()
	}
	require.False(t, tb.Allow())

	tb.Reset()
	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "request %d after reset", i+1)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(2, 1.0, 0)
	rl.now = clock.Now

	assert.True(t, rl.Allow("+491771234567"))
	assert.True(t, rl.Allow("+491771234567"))
	assert.False(t, rl.Allow("+491771234567"))

	assert.True(t, rl.Allow("+4915119695415"))

	clock.Advance(time.Second)
	assert.True(t, rl.Allow("+491771234567"))
}

func TestRateLimiter_ResetAndRemove(t *testing.T) {
	rl := NewRateLimiter(1, 0.001, 0)

	rl.Allow("key")
	require.False(t, rl.Allow("key"))
	rl.Reset("key")
	assert.True(t, rl.Allow("key"))

	assert.Equal(t, 1, rl.Stats().ActiveBuckets)
	rl.Remove("key")
	assert.Equal(t, Stats{ActiveBuckets: 0, Capacity: 1, RefillRate: 0.001}, rl.Stats())
}

func TestRateLimiter_RemoveIdle(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(5, 1.0, 0)
	rl.ttl = time.Minute
	rl.now = clock.Now

	rl.Allow("old")
	clock.Advance(2 * time.Minute)
	rl.Allow("new")

	rl.removeIdle()
	assert.Equal(t, 1, rl.Stats().ActiveBuckets)
	assert.True(t, rl.Allow("new"))
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(100, 0.001, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if rl.Allow("shared") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
	assert.Equal(t, 1, rl.Stats().ActiveBuckets)
}

func TestMiddleware_PerIPLimit(t *testing.T) {
	config := DefaultConfig()
	config.GlobalEnabled = false
	config.PerIPCapacity = 2
	config.PerIPRefillRate = 0.001
	m := NewMiddleware(config)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/app/phone/auth", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("192.0.2.1").Code)
	rec := do("192.0.2.1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit-IP"))

	rec = do("192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusNoContent, do("192.0.2.2").Code)

	m.Reset("192.0.2.1")
	assert.Equal(t, http.StatusNoContent, do("192.0.2.1").Code)
}

func TestMiddleware_EndpointLimit(t *testing.T) {
	config := DefaultConfig()
	config.EndpointLimits["POST /app/phone/auth"] = EndpointLimit{Capacity: 1, RefillRate: 0.001}
	m := NewMiddleware(config)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	do := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/app/phone/auth"))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPost, "/app/phone/auth"))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/app/phone/login"))

	stats := m.Stats()
	assert.Contains(t, stats, "endpoint:POST /app/phone/auth")
	assert.Contains(t, stats, "global")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:4711"
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Real-IP", " 203.0.113.5 ")
	assert.Equal(t, "203.0.113.5", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}
