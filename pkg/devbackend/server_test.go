package devbackend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tendant/phone-login/pkg/errors"
	"github.com/tendant/phone-login/pkg/network"
	"github.com/tendant/phone-login/pkg/ratelimit"
)

const phoneNumber = "+491771234567"

type recordingSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *recordingSender) SendCode(ctx context.Context, phoneNumber, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[phoneNumber] = code
	return nil
}

func (s *recordingSender) Code(phoneNumber string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phoneNumber]
}

type testDelegate struct {
	mu      sync.Mutex
	appUser *network.AppUser
}

func (d *testDelegate) AppUser(cfg network.Configuration) *network.AppUser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appUser
}

func (d *testDelegate) AppUserUpdated(cfg network.Configuration, appUser network.AppUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appUser = &appUser
}

func (d *testDelegate) ProjectID(cfg network.Configuration) string {
	return cfg.ProjectID
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AppID = "app"
	cfg.ProjectID = "project"
	return cfg
}

type fixture struct {
	server   *Server
	sender   *recordingSender
	manager  *network.Manager
	delegate *testDelegate
	cfg      network.Configuration
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	sender := &recordingSender{}
	s := New(cfg, append([]Option{WithCodeSender(sender)}, opts...)...)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	delegate := &testDelegate{}
	m := network.NewManager(network.WithHTTPClient(ts.Client()))
	m.Authenticator().SetDelegate(delegate)

	return &fixture{
		server:   s,
		sender:   sender,
		manager:  m,
		delegate: delegate,
		cfg: network.Configuration{
			AppID:     cfg.AppID,
			AppSecret: cfg.AppSecret,
			ProjectID: cfg.ProjectID,
			BaseURL:   ts.URL,
		},
	}
}

func (f *fixture) requestCode(t *testing.T) error {
	t.Helper()
	ep, err := network.PhoneAuth(f.cfg, phoneNumber)
	require.NoError(t, err)
	_, err = network.Perform(context.Background(), f.manager, ep)
	return err
}

func (f *fixture) login(t *testing.T, code string) *network.AppUser {
	t.Helper()
	ep, err := network.PhoneLogin(f.cfg, phoneNumber, code)
	require.NoError(t, err)
	appUser, err := network.Perform(context.Background(), f.manager, ep)
	require.NoError(t, err)
	return appUser
}

func TestServer_PhoneLoginFlow(t *testing.T) {
	f := newFixture(t, testConfig())

	require.NoError(t, f.requestCode(t))
	code := f.sender.Code(phoneNumber)
	assert.Len(t, code, 6)
	pending, ok := f.server.PendingCode(phoneNumber)
	require.True(t, ok)
	assert.Equal(t, code, pending)

	appUser := f.login(t, code)
	require.NotNil(t, appUser)
	assert.True(t, appUser.IsValid())
	assert.Equal(t, f.delegate.AppUser(f.cfg).ID, appUser.ID)

	account, ok := f.server.Account(phoneNumber)
	require.True(t, ok)
	assert.Equal(t, appUser.ID, account)

	// The code is single use.
	_, ok = f.server.PendingCode(phoneNumber)
	assert.False(t, ok)

	ep, err := network.PhoneDelete(f.cfg, phoneNumber)
	require.NoError(t, err)
	_, err = network.Perform(context.Background(), f.manager, ep)
	require.NoError(t, err)
	_, ok = f.server.Account(phoneNumber)
	assert.False(t, ok)

	assert.Equal(t, Stats{
		Registrations: 1,
		TokenFetches:  1,
		CodesSent:     1,
		Logins:        1,
		Deletions:     1,
	}, f.server.Stats())
}

func TestServer_VerificationPathStyle(t *testing.T) {
	f := newFixture(t, testConfig())
	f.cfg.PathStyle = network.PathStyleVerification

	require.NoError(t, f.requestCode(t))
	appUser := f.login(t, f.sender.Code(phoneNumber))
	require.NotNil(t, appUser)

	ep, err := network.PhoneDelete(f.cfg, phoneNumber)
	require.NoError(t, err)
	_, err = network.Perform(context.Background(), f.manager, ep)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.server.Stats().Deletions)
}

func TestServer_WrongCodeReturnsNoAppUser(t *testing.T) {
	cfg := testConfig()
	cfg.FixedCode = "123456"
	f := newFixture(t, cfg)

	require.NoError(t, f.requestCode(t))
	assert.Nil(t, f.login(t, "654321"))
	assert.Nil(t, f.login(t, "12345"))

	// A rejected attempt leaves the code usable.
	assert.NotNil(t, f.login(t, "123456"))
}

func TestServer_ExistingAccountIsReturned(t *testing.T) {
	cfg := testConfig()
	cfg.FixedCode = "123456"
	f := newFixture(t, cfg)

	require.NoError(t, f.requestCode(t))
	first := f.login(t, "123456")
	require.NotNil(t, first)

	// A second device logs in with the same number.
	other := &fixture{
		server:   f.server,
		sender:   f.sender,
		manager:  network.NewManager(),
		delegate: &testDelegate{},
		cfg:      f.cfg,
	}
	other.manager.Authenticator().SetDelegate(other.delegate)
	require.NoError(t, other.requestCode(t))
	appUser := other.login(t, "123456")
	require.NotNil(t, appUser)
	assert.Equal(t, first.ID, appUser.ID)
	assert.Equal(t, first.Secret, appUser.Secret)
	assert.Equal(t, first.ID, other.delegate.AppUser(other.cfg).ID)
	assert.Equal(t, int64(2), f.server.Stats().Registrations)
}

func TestServer_RevokedTokenIsRetried(t *testing.T) {
	f := newFixture(t, testConfig())

	require.NoError(t, f.requestCode(t))
	f.server.RevokeTokens()
	require.NoError(t, f.requestCode(t))

	stats := f.server.Stats()
	assert.Equal(t, int64(2), stats.TokenFetches)
	assert.Equal(t, int64(1), stats.Registrations)
	assert.Equal(t, int64(2), stats.CodesSent)
}

func TestServer_CodeRequestsAreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.CodeRequestCapacity = 1
	cfg.CodeRequestRefillRate = 0.001
	f := newFixture(t, cfg)

	require.NoError(t, f.requestCode(t))
	err := f.requestCode(t)
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, apperrors.StatusCode(err))
}

func TestServer_RateLimitMiddleware(t *testing.T) {
	limits := ratelimit.DefaultConfig()
	limits.GlobalEnabled = false
	limits.PerUserEnabled = false
	limits.PerIPCapacity = 1
	limits.PerIPRefillRate = 0.001
	f := newFixture(t, testConfig(), WithRateLimit(limits))

	// Registration and the token fetch exhaust the bucket.
	err := f.requestCode(t)
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, apperrors.StatusCode(err))
}

func TestServer_RejectsBadCredentials(t *testing.T) {
	f := newFixture(t, testConfig())

	wrong := f.cfg
	wrong.AppSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	register, err := network.RegisterAppUser(wrong, "")
	require.NoError(t, err)
	_, err = network.Do(context.Background(), http.DefaultClient, register)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, apperrors.StatusCode(err))

	fetch, err := network.FetchToken(f.cfg, network.AppUser{ID: "nobody", Secret: "nothing"}, "project", "")
	require.NoError(t, err)
	_, err = network.Do(context.Background(), http.DefaultClient, fetch)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, apperrors.StatusCode(err))
}

func TestServer_PhoneRoutesRequireBearer(t *testing.T) {
	f := newFixture(t, testConfig())

	ep, err := network.PhoneAuth(f.cfg, phoneNumber)
	require.NoError(t, err)
	_, err = network.Do(context.Background(), http.DefaultClient, ep)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, apperrors.StatusCode(err))
	assert.Equal(t, int64(0), f.server.Stats().CodesSent)
}

func TestServer_RejectsLocalPhoneNumber(t *testing.T) {
	f := newFixture(t, testConfig())

	ep, err := network.PhoneAuth(f.cfg, "0177 1234567")
	require.NoError(t, err)
	_, err = network.Perform(context.Background(), f.manager, ep)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperrors.StatusCode(err))
}
