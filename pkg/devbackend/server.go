// Package devbackend is a local stand-in for the phone login API. It
// registers app users, issues project tokens and sends one-time codes
// through a pluggable CodeSender.
package devbackend

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/jwtauth/v5"

	"github.com/tendant/phone-login/pkg/ratelimit"
)

// Config holds the identity of the one app the backend serves.
type Config struct {
	AppID     string
	AppSecret string // base32 TOTP secret shared with the client
	ProjectID string // empty accepts any project

	JWTSecret string
	TokenTTL  time.Duration
	CodeTTL   time.Duration

	// Code requests per phone number
	CodeRequestCapacity   int
	CodeRequestRefillRate float64 // per second

	// FixedCode, when set, is sent instead of a generated code.
	FixedCode string
}

// DefaultConfig returns a configuration for local development.
func DefaultConfig() Config {
	return Config{
		AppID:                 "dev-app",
		AppSecret:             "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP",
		ProjectID:             "dev-project",
		JWTSecret:             "very-secure-jwt-secret",
		TokenTTL:              time.Hour,
		CodeTTL:               5 * time.Minute,
		CodeRequestCapacity:   3,
		CodeRequestRefillRate: 1.0 / 30.0,
	}
}

// CodeSender delivers one-time codes.
type CodeSender interface {
	SendCode(ctx context.Context, phoneNumber, code string) error
}

// LogCodeSender writes codes to the log instead of sending an SMS.
type LogCodeSender struct {
	Logger *slog.Logger
}

func (s LogCodeSender) SendCode(ctx context.Context, phoneNumber, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("One-time code", "phone_number", phoneNumber, "code", code)
	return nil
}

// Stats counts handled requests.
type Stats struct {
	Registrations int64
	TokenFetches  int64
	CodesSent     int64
	Logins        int64
	Deletions     int64
}

type pendingCode struct {
	code      string
	expiresAt time.Time
}

// Server implements the phone login API in memory.
type Server struct {
	config      Config
	sender      CodeSender
	logger      *slog.Logger
	jwtAuth     *jwtauth.JWTAuth
	codeLimiter *ratelimit.RateLimiter
	rateLimit   *ratelimit.Config

	mu         sync.Mutex
	users      map[string]string      // app user id → secret
	accounts   map[string]string      // phone number → app user id
	codes      map[string]pendingCode // phone number → code
	generation string

	registrations atomic.Int64
	tokenFetches  atomic.Int64
	codesSent     atomic.Int64
	logins        atomic.Int64
	deletions     atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithCodeSender replaces the log sender.
func WithCodeSender(sender CodeSender) Option {
	return func(s *Server) {
		s.sender = sender
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRateLimit enables per-client request limiting on all routes.
func WithRateLimit(config *ratelimit.Config) Option {
	return func(s *Server) {
		s.rateLimit = config
	}
}

// New creates a server. Zero durations and limits fall back to DefaultConfig.
func New(config Config, opts ...Option) *Server {
	defaults := DefaultConfig()
	if config.TokenTTL == 0 {
		config.TokenTTL = defaults.TokenTTL
	}
	if config.CodeTTL == 0 {
		config.CodeTTL = defaults.CodeTTL
	}
	if config.CodeRequestCapacity == 0 {
		config.CodeRequestCapacity = defaults.CodeRequestCapacity
	}
	if config.CodeRequestRefillRate == 0 {
		config.CodeRequestRefillRate = defaults.CodeRequestRefillRate
	}
	if config.JWTSecret == "" {
		config.JWTSecret = defaults.JWTSecret
	}

	s := &Server{
		config:     config,
		logger:     slog.Default(),
		users:      make(map[string]string),
		accounts:   make(map[string]string),
		codes:      make(map[string]pendingCode),
		generation: newGeneration(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sender == nil {
		s.sender = LogCodeSender{Logger: s.logger}
	}
	s.jwtAuth = jwtauth.New("HS256", []byte(config.JWTSecret), nil)
	s.codeLimiter = ratelimit.NewRateLimiter(config.CodeRequestCapacity, config.CodeRequestRefillRate, time.Hour)
	return s
}

// Stats returns the request counters.
func (s *Server) Stats() Stats {
	return Stats{
		Registrations: s.registrations.Load(),
		TokenFetches:  s.tokenFetches.Load(),
		CodesSent:     s.codesSent.Load(),
		Logins:        s.logins.Load(),
		Deletions:     s.deletions.Load(),
	}
}

// RevokeTokens invalidates every token issued so far.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	s.generation = newGeneration()
	s.mu.Unlock()
	s.logger.Info("All tokens revoked")
}

// PendingCode returns the unexpired code sent to phoneNumber.
func (s *Server) PendingCode(phoneNumber string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, ok := s.codes[phoneNumber]
	if !ok || time.Now().After(pending.expiresAt) {
		return "", false
	}
	return pending.code, true
}

// Account returns the app user bound to phoneNumber.
func (s *Server) Account(phoneNumber string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.accounts[phoneNumber]
	return id, ok
}
