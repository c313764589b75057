// Package phoneauth exposes the phone login endpoints as plain blocking
// calls, without the login state machine.
package phoneauth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tendant/phone-login/pkg/countrycode"
	"github.com/tendant/phone-login/pkg/network"
)

// Provider is implemented by Client.
type Provider interface {
	StartAuthorization(ctx context.Context, phoneNumber string) error
	Login(ctx context.Context, phoneNumber, otp string) (*network.AppUser, error)
	Delete(ctx context.Context, phoneNumber string) error
}

// Delegate is told about every app user the backend hands out.
type Delegate interface {
	AppUserReceived(appUser network.AppUser)
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(appUser network.AppUser)

func (f DelegateFunc) AppUserReceived(appUser network.AppUser) {
	f(appUser)
}

type Client struct {
	configuration network.Configuration
	manager       *network.Manager
	logger        *slog.Logger

	mu       sync.Mutex
	appUser  *network.AppUser
	delegate Delegate
}

type Option func(*Client)

func WithManager(manager *network.Manager) Option {
	return func(c *Client) {
		c.manager = manager
	}
}

// WithAppUser starts the client with known credentials instead of
// registering a new app user on the first request.
func WithAppUser(appUser network.AppUser) Option {
	return func(c *Client) {
		c.appUser = &appUser
	}
}

func WithDelegate(delegate Delegate) Option {
	return func(c *Client) {
		c.delegate = delegate
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(cfg network.Configuration, opts ...Option) *Client {
	c := &Client{
		configuration: cfg,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.manager == nil {
		c.manager = network.NewManager(network.WithLogger(c.logger))
	}
	c.manager.Authenticator().SetDelegate(authenticatorDelegate{c})
	return c
}

func (c *Client) Configuration() network.Configuration {
	return c.configuration
}

func (c *Client) SetDelegate(delegate Delegate) {
	c.mu.Lock()
	c.delegate = delegate
	c.mu.Unlock()
}

// AppUser returns the credentials used to fetch tokens, or nil before the
// first request.
func (c *Client) AppUser() *network.AppUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.appUser == nil {
		return nil
	}
	u := *c.appUser
	return &u
}

// StartAuthorization asks the backend to send a code to phoneNumber, which
// must be in international format.
func (c *Client) StartAuthorization(ctx context.Context, phoneNumber string) error {
	ep, err := network.PhoneAuth(c.configuration, phoneNumber)
	if err != nil {
		return err
	}
	_, err = network.Perform(ctx, c.manager, ep)
	return err
}

func (c *Client) StartAuthorizationWithCountry(ctx context.Context, country countrycode.CountryCallingCode, phoneNumber string) error {
	return c.StartAuthorization(ctx, country.InternationalPhoneNumber(phoneNumber))
}

// Login returns the app user bound to phoneNumber, or nil if otp was not
// accepted.
func (c *Client) Login(ctx context.Context, phoneNumber, otp string) (*network.AppUser, error) {
	ep, err := network.PhoneLogin(c.configuration, phoneNumber, otp)
	if err != nil {
		return nil, err
	}
	return network.Perform(ctx, c.manager, ep)
}

func (c *Client) LoginWithCountry(ctx context.Context, country countrycode.CountryCallingCode, phoneNumber, otp string) (*network.AppUser, error) {
	return c.Login(ctx, country.InternationalPhoneNumber(phoneNumber), otp)
}

// Delete removes the account bound to phoneNumber.
func (c *Client) Delete(ctx context.Context, phoneNumber string) error {
	ep, err := network.PhoneDelete(c.configuration, phoneNumber)
	if err != nil {
		return err
	}
	_, err = network.Perform(ctx, c.manager, ep)
	return err
}

func (c *Client) DeleteWithCountry(ctx context.Context, country countrycode.CountryCallingCode, phoneNumber string) error {
	return c.Delete(ctx, country.InternationalPhoneNumber(phoneNumber))
}

type authenticatorDelegate struct {
	c *Client
}

func (d authenticatorDelegate) AppUser(network.Configuration) *network.AppUser {
	return d.c.AppUser()
}

func (d authenticatorDelegate) AppUserUpdated(_ network.Configuration, appUser network.AppUser) {
	d.c.mu.Lock()
	d.c.appUser = &appUser
	delegate := d.c.delegate
	d.c.mu.Unlock()

	d.c.logger.Debug("App user received", "app_user", appUser)
	if delegate != nil {
		delegate.AppUserReceived(appUser)
	}
}

func (d authenticatorDelegate) ProjectID(cfg network.Configuration) string {
	return cfg.ProjectID
}
