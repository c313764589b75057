package network

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func testConfiguration(baseURL string) Configuration {
	return Configuration{
		AppID:       "app",
		AppSecret:   testSecret,
		Environment: EnvironmentTesting,
		ProjectID:   "project",
		BaseURL:     baseURL,
	}
}

// mockDelegate records what the authenticator hands out.
type mockDelegate struct {
	mu        sync.Mutex
	appUser   *AppUser
	projectID string
	updates   []AppUser
}

func (d *mockDelegate) AppUser(cfg Configuration) *AppUser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appUser
}

func (d *mockDelegate) AppUserUpdated(cfg Configuration, appUser AppUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appUser = &appUser
	d.updates = append(d.updates, appUser)
}

func (d *mockDelegate) ProjectID(cfg Configuration) string {
	return d.projectID
}

func (d *mockDelegate) Updates() []AppUser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]AppUser(nil), d.updates...)
}

// fakeBackend serves app-user registration and token endpoints and counts calls.
type fakeBackend struct {
	registrations atomic.Int32
	tokenFetches  atomic.Int32
	tokenSeq      atomic.Int32

	// registrationGate, when set, blocks registration until closed.
	registrationGate chan struct{}
	registered       chan struct{}

	mux *http.ServeMux
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	b := &fakeBackend{
		mux:        http.NewServeMux(),
		registered: make(chan struct{}, 10),
	}
	b.mux.HandleFunc("/apps/app/users", func(w http.ResponseWriter, r *http.Request) {
		b.registrations.Add(1)
		b.registered <- struct{}{}
		if b.registrationGate != nil {
			<-b.registrationGate
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"appUser": map[string]string{"id": "user-1", "secret": "user-secret"},
		})
	})
	b.mux.HandleFunc("/tokens", func(w http.ResponseWriter, r *http.Request) {
		b.tokenFetches.Add(1)
		seq := b.tokenSeq.Add(1)
		now := time.Now()
		writeJSON(w, http.StatusOK, map[string]any{
			"id":        "token-" + string(rune('0'+seq)),
			"token":     "value-" + string(rune('0'+seq)),
			"issuedAt":  now.Unix(),
			"expiresAt": now.Add(time.Hour).Unix(),
		})
	})

	server := httptest.NewServer(b.mux)
	t.Cleanup(server.Close)
	return b, server
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
