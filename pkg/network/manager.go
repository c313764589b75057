package network

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/tendant/phone-login/pkg/errors"
)

// Manager performs authenticated requests.
type Manager struct {
	client        Doer
	authenticator *Authenticator
	logger        *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for all requests.
func WithHTTPClient(client Doer) Option {
	return func(m *Manager) {
		m.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager with its own authenticator.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		client: &http.Client{Timeout: 15 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.authenticator = NewAuthenticator(m.client, m.logger)
	return m
}

// Authenticator returns the token source of m.
func (m *Manager) Authenticator() *Authenticator {
	return m.authenticator
}

// Perform runs ep with a valid bearer token. A 401 or 403 drops the cached
// token and the whole sequence is tried exactly once more. A non-nil
// *AppUser result is forwarded to the authenticator delegate.
func Perform[T any](ctx context.Context, m *Manager, ep Endpoint[T]) (T, error) {
	result, err := performOnce(ctx, m, ep)
	if err != nil && apperrors.IsAuthorizationFailure(err) {
		m.logger.Info("Request unauthorized, retrying with fresh token",
			"method", ep.Method, "path", ep.Path, "status", apperrors.StatusCode(err))
		m.authenticator.InvalidateToken()
		result, err = performOnce(ctx, m, ep)
	}
	if err != nil {
		return result, err
	}

	if appUser, ok := any(result).(*AppUser); ok && appUser != nil {
		m.authenticator.UpdateAppUser(ep.Configuration, *appUser)
	}
	return result, nil
}

func performOnce[T any](ctx context.Context, m *Manager, ep Endpoint[T]) (T, error) {
	token, err := m.authenticator.ValidToken(ctx, ep.Configuration, false)
	if err != nil {
		var zero T
		return zero, err
	}
	return Do(ctx, m.client, ep.WithToken(token))
}
