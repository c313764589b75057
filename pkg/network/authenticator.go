package network

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/tendant/phone-login/pkg/errors"
)

// AuthenticatorDelegate supplies and receives the app-user identity.
type AuthenticatorDelegate interface {
	// AppUser returns the stored app user, or nil to register a new one.
	AppUser(cfg Configuration) *AppUser
	// AppUserUpdated is called whenever the backend hands out an app user.
	AppUserUpdated(cfg Configuration, appUser AppUser)
	// ProjectID returns the project tokens are requested for.
	ProjectID(cfg Configuration) string
}

// Authenticator caches one bearer token and refreshes it on demand.
// Concurrent refreshes are coalesced into a single backend round trip.
type Authenticator struct {
	client Doer
	logger *slog.Logger

	mu         sync.Mutex
	delegate   AuthenticatorDelegate
	token      *Token
	refreshing bool

	group singleflight.Group
}

// NewAuthenticator creates an authenticator using client for its requests.
func NewAuthenticator(client Doer, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		client: client,
		logger: logger,
	}
}

// SetDelegate replaces the delegate.
func (a *Authenticator) SetDelegate(delegate AuthenticatorDelegate) {
	a.mu.Lock()
	a.delegate = delegate
	a.mu.Unlock()
}

func (a *Authenticator) currentDelegate() AuthenticatorDelegate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.delegate
}

// Token returns the cached token, if any.
func (a *Authenticator) Token() *Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == nil {
		return nil
	}
	t := *a.token
	return &t
}

// InvalidateToken drops the cached token.
func (a *Authenticator) InvalidateToken() {
	a.mu.Lock()
	a.token = nil
	a.mu.Unlock()
}

// UpdateAppUser forwards appUser to the delegate.
func (a *Authenticator) UpdateAppUser(cfg Configuration, appUser AppUser) {
	if d := a.currentDelegate(); d != nil {
		d.AppUserUpdated(cfg, appUser)
	}
}

// ValidToken returns a token that has not expired. A refresh already in
// flight is joined. Otherwise the cached token is returned unless it is
// expired or forceRefresh is set.
func (a *Authenticator) ValidToken(ctx context.Context, cfg Configuration, forceRefresh bool) (Token, error) {
	a.mu.Lock()
	if !a.refreshing && !forceRefresh && a.token != nil && a.token.IsValid() {
		t := *a.token
		a.mu.Unlock()
		return t, nil
	}
	a.mu.Unlock()

	// The refresh outlives the caller that started it.
	refreshCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan(cfg.key(), func() (interface{}, error) {
		a.mu.Lock()
		// A flight that ended after the check above may have stored a token.
		if !forceRefresh && a.token != nil && a.token.IsValid() {
			t := *a.token
			a.mu.Unlock()
			return t, nil
		}
		a.refreshing = true
		a.mu.Unlock()
		defer func() {
			a.mu.Lock()
			a.refreshing = false
			a.mu.Unlock()
		}()
		return a.refresh(refreshCtx, cfg)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

func (a *Authenticator) refresh(ctx context.Context, cfg Configuration) (Token, error) {
	delegate := a.currentDelegate()
	if delegate == nil {
		return Token{}, apperrors.New(apperrors.ErrCodeMissingAuthenticator, "no authenticator delegate")
	}
	projectID := delegate.ProjectID(cfg)
	if projectID == "" {
		return Token{}, apperrors.New(apperrors.ErrCodeMissingProject, "no project id")
	}

	appUser, err := a.validAppUser(ctx, cfg, delegate)
	if err != nil {
		return Token{}, err
	}

	ep, err := FetchToken(cfg, appUser, projectID, ScopeRetailerApp)
	if err != nil {
		return Token{}, err
	}
	token, err := Do(ctx, a.client, ep)
	if err != nil {
		a.logger.Warn("Token fetch failed", "app_user", appUser, "project", projectID, "error", err)
		return Token{}, err
	}

	a.mu.Lock()
	a.token = &token
	a.mu.Unlock()

	a.logger.Debug("Token refreshed", "token", token, "project", projectID)
	return token, nil
}

func (a *Authenticator) validAppUser(ctx context.Context, cfg Configuration, delegate AuthenticatorDelegate) (AppUser, error) {
	if appUser := delegate.AppUser(cfg); appUser != nil {
		return *appUser, nil
	}

	ep, err := RegisterAppUser(cfg, "")
	if err != nil {
		return AppUser{}, err
	}
	resp, err := Do(ctx, a.client, ep)
	if err != nil {
		a.logger.Warn("App user registration failed", "app_id", cfg.AppID, "error", err)
		return AppUser{}, err
	}

	if resp.Token != nil {
		a.mu.Lock()
		a.token = resp.Token
		a.mu.Unlock()
	}
	a.logger.Info("App user registered", "app_user", resp.AppUser)
	delegate.AppUserUpdated(cfg, resp.AppUser)
	return resp.AppUser, nil
}
