package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"

	apperrors "github.com/tendant/phone-login/pkg/errors"
)

// Config selects the limits applied by Middleware.
type Config struct {
	GlobalEnabled    bool
	GlobalCapacity   int
	GlobalRefillRate float64 // per second

	PerIPEnabled    bool
	PerIPCapacity   int
	PerIPRefillRate float64

	// Keyed by the "sub" claim of a verified bearer token.
	PerUserEnabled    bool
	PerUserCapacity   int
	PerUserRefillRate float64

	// Keyed by "METHOD /path", counted per client address.
	EndpointLimits map[string]EndpointLimit

	BucketTTL      time.Duration
	IncludeHeaders bool
	RetryAfter     time.Duration
}

type EndpointLimit struct {
	Capacity   int
	RefillRate float64
}

// DefaultConfig allows 1000 requests per minute overall, 100 per client
// address and 200 per app user.
func DefaultConfig() *Config {
	return &Config{
		GlobalEnabled:     true,
		GlobalCapacity:    1000,
		GlobalRefillRate:  1000.0 / 60.0,
		PerIPEnabled:      true,
		PerIPCapacity:     100,
		PerIPRefillRate:   100.0 / 60.0,
		PerUserEnabled:    true,
		PerUserCapacity:   200,
		PerUserRefillRate: 200.0 / 60.0,
		EndpointLimits:    make(map[string]EndpointLimit),
		BucketTTL:         time.Hour,
		IncludeHeaders:    true,
		RetryAfter:        time.Minute,
	}
}

// Middleware rejects requests over the configured limits with 429.
type Middleware struct {
	config    *Config
	global    *RateLimiter
	ip        *RateLimiter
	user      *RateLimiter
	endpoints map[string]*RateLimiter
	logger    *slog.Logger
}

func NewMiddleware(config *Config) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}
	m := &Middleware{
		config:    config,
		endpoints: make(map[string]*RateLimiter),
		logger:    slog.Default(),
	}
	if config.GlobalEnabled {
		m.global = NewRateLimiter(config.GlobalCapacity, config.GlobalRefillRate, config.BucketTTL)
	}
	if config.PerIPEnabled {
		m.ip = NewRateLimiter(config.PerIPCapacity, config.PerIPRefillRate, config.BucketTTL)
	}
	if config.PerUserEnabled {
		m.user = NewRateLimiter(config.PerUserCapacity, config.PerUserRefillRate, config.BucketTTL)
	}
	for endpoint, limit := range config.EndpointLimits {
		m.endpoints[endpoint] = NewRateLimiter(limit.Capacity, limit.RefillRate, config.BucketTTL)
	}
	return m
}

// Handler must run after jwtauth.Verifier for per-user limits to apply.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.global != nil && !m.global.Allow("global") {
			m.reject(w, r, "global")
			return
		}

		ip := clientIP(r)
		if m.ip != nil && ip != "" && !m.ip.Allow(ip) {
			m.reject(w, r, "ip")
			return
		}

		userID := tokenSubject(r)
		if m.user != nil && userID != "" && !m.user.Allow(userID) {
			m.reject(w, r, "user")
			return
		}

		endpoint := r.Method + " " + r.URL.Path
		if limiter, ok := m.endpoints[endpoint]; ok && !limiter.Allow(ip+":"+endpoint) {
			m.reject(w, r, "endpoint")
			return
		}

		if m.config.IncludeHeaders {
			if m.ip != nil && ip != "" {
				w.Header().Set("X-RateLimit-Limit-IP", strconv.Itoa(m.config.PerIPCapacity))
			}
			if m.user != nil && userID != "" {
				w.Header().Set("X-RateLimit-Limit-User", strconv.Itoa(m.config.PerUserCapacity))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, limit string) {
	m.logger.Warn("Rate limit exceeded",
		"limit", limit,
		"ip", clientIP(r),
		"app_user_id", tokenSubject(r),
		"method", r.Method,
		"path", r.URL.Path,
	)

	retryAfter := strconv.Itoa(int(m.config.RetryAfter.Seconds()))
	err := apperrors.RateLimitExceeded(retryAfter).WithDetail("limit", limit)
	w.Header().Set("Retry-After", retryAfter)
	render.Status(r, err.HTTPStatusCode())
	render.JSON(w, r, map[string]string{
		"error":   string(err.Code),
		"message": err.Message,
		"limit":   limit,
	})
}

// Stats returns the state of every active limiter.
func (m *Middleware) Stats() map[string]Stats {
	stats := make(map[string]Stats)
	if m.global != nil {
		stats["global"] = m.global.Stats()
	}
	if m.ip != nil {
		stats["ip"] = m.ip.Stats()
	}
	if m.user != nil {
		stats["user"] = m.user.Stats()
	}
	for endpoint, limiter := range m.endpoints {
		stats["endpoint:"+endpoint] = limiter.Stats()
	}
	return stats
}

// Reset refills the buckets of a client address or app user.
func (m *Middleware) Reset(key string) {
	if m.ip != nil {
		m.ip.Reset(key)
	}
	if m.user != nil {
		m.user.Reset(key)
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func tokenSubject(r *http.Request) string {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil || claims == nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}
