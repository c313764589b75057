package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tendant/phone-login/pkg/errors"
)

func TestAuthenticator_RegistersAndFetchesToken(t *testing.T) {
	backend, server := newFakeBackend(t)
	delegate := &mockDelegate{projectID: "project"}

	auth := NewAuthenticator(server.Client(), nil)
	auth.SetDelegate(delegate)

	token, err := auth.ValidToken(context.Background(), testConfiguration(server.URL), false)
	require.NoError(t, err)
	assert.Equal(t, "value-1", token.Value)

	assert.Equal(t, int32(1), backend.registrations.Load())
	assert.Equal(t, int32(1), backend.tokenFetches.Load())
	require.Len(t, delegate.Updates(), 1)
	assert.Equal(t, AppUser{ID: "user-1", Secret: "user-secret"}, delegate.Updates()[0])

	require.NotNil(t, auth.Token())
	assert.Equal(t, "value-1", auth.Token().Value)
}

func TestAuthenticator_ReusesValidToken(t *testing.T) {
	backend, server := newFakeBackend(t)
	auth := NewAuthenticator(server.Client(), nil)
	auth.SetDelegate(&mockDelegate{projectID: "project"})
	cfg := testConfiguration(server.URL)

	first, err := auth.ValidToken(context.Background(), cfg, false)
	require.NoError(t, err)
	second, err := auth.ValidToken(context.Background(), cfg, false)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), backend.tokenFetches.Load())
}

func TestAuthenticator_ForceRefresh(t *testing.T) {
	backend, server := newFakeBackend(t)
	auth := NewAuthenticator(server.Client(), nil)
	auth.SetDelegate(&mockDelegate{projectID: "project"})
	cfg := testConfiguration(server.URL)

	_, err := auth.ValidToken(context.Background(), cfg, false)
	require.NoError(t, err)
	token, err := auth.ValidToken(context.Background(), cfg, true)
	require.NoError(t, err)

	assert.Equal(t, "value-2", token.Value)
	assert.Equal(t, int32(1), backend.registrations.Load())
	assert.Equal(t, int32(2), backend.tokenFetches.Load())
}

func TestAuthenticator_RefreshRechecksStoredToken(t *testing.T) {
	backend, server := newFakeBackend(t)
	auth := NewAuthenticator(server.Client(), nil)
	auth.SetDelegate(&mockDelegate{projectID: "project"})
	cfg := testConfiguration(server.URL)

	// A caller that saw a refresh running, joining after it stored its token.
	now := time.Now()
	stored := Token{ID: "token-0", Value: "value-0", IssuedAt: NewTimestamp(now), ExpiresAt: NewTimestamp(now.Add(time.Hour))}
	auth.mu.Lock()
	auth.token = &stored
	auth.refreshing = true
	auth.mu.Unlock()

	token, err := auth.ValidToken(context.Background(), cfg, false)
	require.NoError(t, err)
	assert.Equal(t, "value-0", token.Value)
	assert.Equal(t, int32(0), backend.registrations.Load())
	assert.Equal(t, int32(0), backend.tokenFetches.Load())

	token, err = auth.ValidToken(context.Background(), cfg, true)
	require.NoError(t, err)
	assert.Equal(t, "value-1", token.Value)
}

func TestAuthenticator_InvalidateToken(t *testing.T) {
	backend, server := newFakeBackend(t)
	auth := NewAuthenticator(server.Client(), nil)
	auth.SetDelegate(&mockDelegate{projectID: "project"})
	cfg := testConfiguration(server.URL)

	_, err := auth.ValidToken(context.Background(), cfg, false)
	require.NoError(t, err)

	auth.InvalidateToken()
	assert.Nil(t, auth.Token())

	_, err = auth.ValidToken(context.Background(), cfg, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.tokenFetches.Load())
}

func TestAuthenticator_UsesStoredAppUser(t *testing.T) {
	backend, server := newFakeBackend(t)
	auth := NewAuthenticator(server.Client(), nil)
	auth.SetDelegate(&mockDelegate{projectID: "project", appUser: &AppUser{ID: "known", Secret: "s"}})

	_, err := auth.ValidToken(context.Background(), testConfiguration(server.URL), false)
	require.NoError(t, err)

	assert.Equal(t, int32(0), backend.registrations.Load())
	assert.Equal(t, int32(1), backend.tokenFetches.Load())
}

func TestAuthenticator_ConcurrentCallsShareOneRefresh(t *testing.T) {
	backend, server := newFakeBackend(t)
	backend.registrationGate = make(chan struct{})

	auth := NewAuthenticator(server.Client(), nil)
	auth.SetDelegate(&mockDelegate{projectID: "project"})
	cfg := testConfiguration(server.URL)

	var wg sync.WaitGroup
	tokens := make([]Token, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		tokens[0], errs[0] = auth.ValidToken(context.Background(), cfg, false)
	}()

	// Wait until the first refresh reached the backend.
	select {
	case <-backend.registered:
	case <-time.After(2 * time.Second):
		t.Fatal("registration was not requested")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		tokens[1], errs[1] = auth.ValidToken(context.Background(), cfg, false)
	}()

	time.Sleep(100 * time.Millisecond)
	close(backend.registrationGate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, tokens[0], tokens[1])
	assert.Equal(t, int32(1), backend.registrations.Load())
	assert.Equal(t, int32(1), backend.tokenFetches.Load())
}

func TestAuthenticator_CallerCancellationDoesNotAbortRefresh(t *testing.T) {
	backend, server := newFakeBackend(t)
	backend.registrationGate = make(chan struct{})

	auth := NewAuthenticator(server.Client(), nil)
	auth.SetDelegate(&mockDelegate{projectID: "project"})
	cfg := testConfiguration(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := auth.ValidToken(ctx, cfg, false)
		done <- err
	}()

	<-backend.registered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(backend.registrationGate)
	assert.Eventually(t, func() bool { return auth.Token() != nil }, 2*time.Second, 10*time.Millisecond)
}

func TestAuthenticator_MissingDelegate(t *testing.T) {
	_, server := newFakeBackend(t)
	auth := NewAuthenticator(server.Client(), nil)

	_, err := auth.ValidToken(context.Background(), testConfiguration(server.URL), false)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingAuthenticator))
}

func TestAuthenticator_MissingProject(t *testing.T) {
	backend, server := newFakeBackend(t)
	auth := NewAuthenticator(server.Client(), nil)
	auth.SetDelegate(&mockDelegate{})

	_, err := auth.ValidToken(context.Background(), testConfiguration(server.URL), false)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingProject))
	assert.Equal(t, int32(0), backend.registrations.Load())
}
