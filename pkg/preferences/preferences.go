// Package preferences persists the state a phone login keeps between runs:
// the phone number a code was requested for, the selected country, the app
// user and the action log.
package preferences

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tendant/phone-login/pkg/actionlog"
	"github.com/tendant/phone-login/pkg/network"
)

const (
	keyPhoneNumber     = "phoneNumber"
	keySelectedCountry = "country"
	keyAppUser         = "appUser"
	keyLastPage        = "lastPage"
	keyLogActions      = "logActions"
)

// Preferences offers typed access to a Store.
type Preferences struct {
	store Store
}

func New(store Store) *Preferences {
	return &Preferences{store: store}
}

// Store returns the underlying store.
func (p *Preferences) Store() Store {
	return p.store
}

func (p *Preferences) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, found, err := p.store.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (p *Preferences) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return p.store.Set(ctx, key, data)
}

func (p *Preferences) getString(ctx context.Context, key string) (string, error) {
	var s string
	_, err := p.getJSON(ctx, key, &s)
	return s, err
}

// setString removes the key for an empty value.
func (p *Preferences) setString(ctx context.Context, key, value string) error {
	if value == "" {
		return p.store.Del(ctx, key)
	}
	return p.setJSON(ctx, key, value)
}

// PhoneNumber returns the number a code was last requested for, or "".
func (p *Preferences) PhoneNumber(ctx context.Context) (string, error) {
	return p.getString(ctx, keyPhoneNumber)
}

func (p *Preferences) SetPhoneNumber(ctx context.Context, phoneNumber string) error {
	return p.setString(ctx, keyPhoneNumber, phoneNumber)
}

// SelectedCountry returns the stored country code, or "".
func (p *Preferences) SelectedCountry(ctx context.Context) (string, error) {
	return p.getString(ctx, keySelectedCountry)
}

func (p *Preferences) SetSelectedCountry(ctx context.Context, countryCode string) error {
	return p.setString(ctx, keySelectedCountry, countryCode)
}

// AppUser returns the stored app user, or nil.
func (p *Preferences) AppUser(ctx context.Context) (*network.AppUser, error) {
	var appUser network.AppUser
	found, err := p.getJSON(ctx, keyAppUser, &appUser)
	if err != nil || !found || !appUser.IsValid() {
		return nil, err
	}
	return &appUser, nil
}

// SetAppUser stores appUser. nil removes it.
func (p *Preferences) SetAppUser(ctx context.Context, appUser *network.AppUser) error {
	if appUser == nil {
		return p.store.Del(ctx, keyAppUser)
	}
	return p.setJSON(ctx, keyAppUser, appUser)
}

// LastPage returns the last page shown by a front end, or "".
func (p *Preferences) LastPage(ctx context.Context) (string, error) {
	return p.getString(ctx, keyLastPage)
}

func (p *Preferences) SetLastPage(ctx context.Context, page string) error {
	return p.setString(ctx, keyLastPage, page)
}

// LogActions returns the persisted action log.
func (p *Preferences) LogActions(ctx context.Context) ([]actionlog.LogAction, error) {
	var actions []actionlog.LogAction
	_, err := p.getJSON(ctx, keyLogActions, &actions)
	return actions, err
}

// SetLogActions persists actions. An empty list removes the key.
func (p *Preferences) SetLogActions(ctx context.Context, actions []actionlog.LogAction) error {
	if len(actions) == 0 {
		return p.store.Del(ctx, keyLogActions)
	}
	return p.setJSON(ctx, keyLogActions, actions)
}
