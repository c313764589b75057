package loginflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tendant/phone-login/pkg/actionlog"
	"github.com/tendant/phone-login/pkg/countrycode"
	apperrors "github.com/tendant/phone-login/pkg/errors"
	"github.com/tendant/phone-login/pkg/network"
	"github.com/tendant/phone-login/pkg/waittimer"
)

const (
	// PinCodeLength is the number of digits of a one-time code.
	PinCodeLength = 6

	DefaultWaitInterval   = 30 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// ErrInvalidCode is reported when the backend accepted the login request
// but returned no app user.
var ErrInvalidCode = errors.New("the entered code is invalid")

// Storage persists what survives a restart of the flow.
type Storage interface {
	PhoneNumber(ctx context.Context) (string, error)
	SetPhoneNumber(ctx context.Context, phoneNumber string) error
	SelectedCountry(ctx context.Context) (string, error)
	SetSelectedCountry(ctx context.Context, countryCode string) error
	AppUser(ctx context.Context) (*network.AppUser, error)
	SetAppUser(ctx context.Context, appUser *network.AppUser) error
}

// Snapshot is a consistent view of the flow.
type Snapshot struct {
	State        State
	PhoneNumber  string
	PinCode      string
	ErrorMessage string
	Country      countrycode.CountryCallingCode
	AppUser      *network.AppUser
	TimerRunning bool
}

// PhoneLogin drives the phone number login. All state changes are
// serialized; network requests run in the background and report back
// through the state machine.
type PhoneLogin struct {
	configuration  network.Configuration
	projectID      string
	manager        *network.Manager
	storage        Storage
	countries      countrycode.Table
	actions        *actionlog.Logger
	logger         *slog.Logger
	waitInterval   time.Duration
	requestTimeout time.Duration

	machine *StateMachine
	timer   *waittimer.WaitTimer

	mu           sync.Mutex
	phoneNumber  string
	pinCode      string
	errorMessage string
	country      countrycode.CountryCallingCode
	appUser      *network.AppUser
	cancel       context.CancelFunc
	requestID    uint64
	closed       bool
	pending      []Snapshot

	subMu       sync.Mutex
	subscribers []func(Snapshot)
}

// Option configures a PhoneLogin.
type Option func(*PhoneLogin)

// WithManager sets the network manager. Its authenticator delegate is
// replaced by the flow.
func WithManager(manager *network.Manager) Option {
	return func(p *PhoneLogin) {
		p.manager = manager
	}
}

// WithProjectID overrides the project id of the configuration.
func WithProjectID(projectID string) Option {
	return func(p *PhoneLogin) {
		p.projectID = projectID
	}
}

// WithActionLog records the user-visible steps. Without it nothing is recorded.
func WithActionLog(actions *actionlog.Logger) Option {
	return func(p *PhoneLogin) {
		p.actions = actions
	}
}

// WithWaitInterval sets the cooldown between two code requests.
func WithWaitInterval(interval time.Duration) Option {
	return func(p *PhoneLogin) {
		p.waitInterval = interval
	}
}

// WithRequestTimeout bounds each backend round trip.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(p *PhoneLogin) {
		p.requestTimeout = timeout
	}
}

// WithCountries sets the selectable countries.
func WithCountries(countries countrycode.Table) Option {
	return func(p *PhoneLogin) {
		p.countries = countries
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *PhoneLogin) {
		p.logger = logger
	}
}

// NewPhoneLogin restores the flow from storage. A stored phone number means
// a code was already requested and the flow starts in waitingForCode.
func NewPhoneLogin(ctx context.Context, cfg network.Configuration, storage Storage, opts ...Option) (*PhoneLogin, error) {
	p := &PhoneLogin{
		configuration:  cfg,
		projectID:      cfg.ProjectID,
		storage:        storage,
		countries:      countrycode.Default(),
		logger:         slog.Default(),
		waitInterval:   DefaultWaitInterval,
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.manager == nil {
		p.manager = network.NewManager(network.WithLogger(p.logger))
	}

	phoneNumber, err := storage.PhoneNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load phone number: %w", err)
	}
	appUser, err := storage.AppUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load app user: %w", err)
	}
	selected, err := storage.SelectedCountry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load selected country: %w", err)
	}

	p.country = p.resolveCountry(selected)
	p.appUser = appUser
	p.phoneNumber = phoneNumber

	initial := StateStart
	if phoneNumber != "" {
		initial = StateWaitingForCode
	}
	p.machine = NewStateMachine(initial)
	p.machine.Observe(Observer{Leave: p.leaveState, Enter: p.enterState})

	p.timer = waittimer.New(p.waitInterval)
	p.timer.OnExpire(func() {
		p.run(p.markChangedLocked)
	})

	p.manager.Authenticator().SetDelegate(authenticatorDelegate{p})

	if appUser != nil {
		p.logAction("appID", appUser.ID)
	}
	p.logger.Info("Phone login initialized", "state", initial, "country", p.country.CountryCode, "app_id", cfg.AppID)
	return p, nil
}

func (p *PhoneLogin) resolveCountry(countryCode string) countrycode.CountryCallingCode {
	if c, ok := p.countries.Lookup(countryCode); ok {
		return c
	}
	if c, ok := p.countries.Lookup(countrycode.DefaultCountry); ok {
		return c
	}
	if len(p.countries) > 0 {
		return p.countries[0]
	}
	return countrycode.New(countrycode.DefaultCountry, 49).WithTrunkPrefix(0)
}

// run executes fn with the flow locked and then publishes the snapshots
// fn produced. Every state machine event is fired from inside run.
func (p *PhoneLogin) run(fn func()) {
	p.mu.Lock()
	fn()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	p.subMu.Lock()
	subscribers := slices.Clone(p.subscribers)
	p.subMu.Unlock()
	for _, snapshot := range pending {
		for _, fn := range subscribers {
			fn(snapshot)
		}
	}
}

func (p *PhoneLogin) markChangedLocked() {
	p.pending = append(p.pending, p.snapshotLocked())
}

func (p *PhoneLogin) snapshotLocked() Snapshot {
	var appUser *network.AppUser
	if p.appUser != nil {
		u := *p.appUser
		appUser = &u
	}
	return Snapshot{
		State:        p.machine.State(),
		PhoneNumber:  p.phoneNumber,
		PinCode:      p.pinCode,
		ErrorMessage: p.errorMessage,
		Country:      p.country,
		AppUser:      appUser,
		TimerRunning: p.timer.IsRunning(),
	}
}

// Subscribe registers fn for every change of the flow. fn is called
// without the flow locked and may call back into it.
func (p *PhoneLogin) Subscribe(fn func(Snapshot)) {
	p.subMu.Lock()
	p.subscribers = append(p.subscribers, fn)
	p.subMu.Unlock()
}

// Snapshot returns the current view of the flow.
func (p *PhoneLogin) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *PhoneLogin) State() State {
	return p.machine.State()
}

func (p *PhoneLogin) PhoneNumber() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phoneNumber
}

func (p *PhoneLogin) PinCode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pinCode
}

func (p *PhoneLogin) ErrorMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorMessage
}

func (p *PhoneLogin) Country() countrycode.CountryCallingCode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.country
}

// AppUser returns the current app user, or nil.
func (p *PhoneLogin) AppUser() *network.AppUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.appUser == nil {
		return nil
	}
	u := *p.appUser
	return &u
}

// Countries returns the selectable countries.
func (p *PhoneLogin) Countries() countrycode.Table {
	return p.countries
}

// WaitTimer returns the cooldown timer between code requests.
func (p *PhoneLogin) WaitTimer() *waittimer.WaitTimer {
	return p.timer
}

// Authenticator returns the token source used by the flow.
func (p *PhoneLogin) Authenticator() *network.Authenticator {
	return p.manager.Authenticator()
}

// SetPhoneNumber updates the number as typed by the user.
func (p *PhoneLogin) SetPhoneNumber(phoneNumber string) {
	p.run(func() {
		p.phoneNumber = phoneNumber
		p.markChangedLocked()
	})
}

// SetPinCode updates the code as typed by the user.
func (p *PhoneLogin) SetPinCode(pinCode string) {
	p.run(func() {
		p.pinCode = pinCode
		p.markChangedLocked()
	})
}

// SetCountry selects a country from the table and persists the choice.
func (p *PhoneLogin) SetCountry(countryCode string) error {
	c, ok := p.countries.Lookup(countryCode)
	if !ok {
		return apperrors.InvalidInput("country", countryCode)
	}
	var err error
	p.run(func() {
		p.country = c
		err = p.storage.SetSelectedCountry(context.Background(), c.CountryCode)
		p.markChangedLocked()
	})
	return err
}

// DialString is the phone number in international format, e.g. "+491771234567".
func (p *PhoneLogin) DialString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dialStringLocked()
}

func (p *PhoneLogin) dialStringLocked() string {
	return p.country.InternationalPhoneNumber(p.phoneNumber)
}

// PhoneNumberPrettyPrint is the phone number as "+<calling code> <number>".
func (p *PhoneLogin) PhoneNumberPrettyPrint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.country.PrettyPrint(p.phoneNumber)
}

// CodeWasSentOnce reports whether a phone number is persisted.
func (p *PhoneLogin) CodeWasSentOnce() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.storedPhoneNumberLocked() != ""
}

func (p *PhoneLogin) storedPhoneNumberLocked() string {
	phoneNumber, err := p.storage.PhoneNumber(context.Background())
	if err != nil {
		p.logger.Error("Failed to read phone number", "error", err)
		return ""
	}
	return phoneNumber
}

// CanSendPhoneNumber reports whether the number is longer than two
// characters and the flow is in start, waitingForCode or error.
func (p *PhoneLogin) CanSendPhoneNumber() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canSendPhoneNumberLocked()
}

func (p *PhoneLogin) canSendPhoneNumberLocked() bool {
	if utf8.RuneCountInString(p.phoneNumber) <= 2 {
		return false
	}
	switch p.machine.State() {
	case StateStart, StateWaitingForCode, StateError:
		return true
	}
	return false
}

// CanRequestCode is CanSendPhoneNumber while the wait timer is not running.
func (p *PhoneLogin) CanRequestCode() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canRequestCodeLocked()
}

func (p *PhoneLogin) canRequestCodeLocked() bool {
	return p.canSendPhoneNumberLocked() && !p.timer.IsRunning()
}

// CanLogin reports whether the pin has PinCodeLength characters and the
// flow is in waitingForCode or error.
func (p *PhoneLogin) CanLogin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canLoginWithLocked(p.pinCode)
}

func (p *PhoneLogin) canLoginWithLocked(pinCode string) bool {
	if utf8.RuneCountInString(pinCode) != PinCodeLength {
		return false
	}
	switch p.machine.State() {
	case StateWaitingForCode, StateError:
		return true
	}
	return false
}

// IsWaiting reports whether a backend request is in progress.
func (p *PhoneLogin) IsWaiting() bool {
	switch p.machine.State() {
	case StatePushedToServer, StateSendCode, StateDeletingAccount:
		return true
	}
	return false
}

func (p *PhoneLogin) IsLoggedIn() bool {
	return p.machine.State() == StateLoggedIn
}

func (p *PhoneLogin) TimerIsRunning() bool {
	return p.timer.IsRunning()
}

// SendPhoneNumber requests a one-time code for the current phone number.
// It reports false without side effects unless CanRequestCode holds.
func (p *PhoneLogin) SendPhoneNumber() bool {
	var fired bool
	p.run(func() {
		if !p.canRequestCodeLocked() {
			return
		}
		p.logAction("request code for", p.dialStringLocked())
		fired = p.machine.TryEvent(EventSendingPhoneNumber)
	})
	return fired
}

// LoginWithCode verifies pinCode with the backend. It reports false
// without side effects unless pinCode has PinCodeLength characters and the
// flow is in waitingForCode or error.
func (p *PhoneLogin) LoginWithCode(pinCode string) bool {
	var fired bool
	p.run(func() {
		if !p.canLoginWithLocked(pinCode) {
			return
		}
		p.pinCode = pinCode
		p.logAction("login with OTP", p.dialStringLocked())
		fired = p.machine.TryEvent(EventLoggingIn)
	})
	return fired
}

// Login verifies the current pin code.
func (p *PhoneLogin) Login() bool {
	return p.LoginWithCode(p.PinCode())
}

// DeleteAccount asks the backend to delete the account of the persisted
// phone number. It is a no-op without an app user or persisted number.
func (p *PhoneLogin) DeleteAccount() bool {
	var fired bool
	p.run(func() {
		if p.appUser == nil || p.storedPhoneNumberLocked() == "" {
			return
		}
		p.logAction("deleting account", p.dialStringLocked())
		fired = p.machine.TryEvent(EventTrashAccount)
	})
	return fired
}

// StartTimer starts the cooldown unless it is already running.
func (p *PhoneLogin) StartTimer() {
	p.run(func() {
		p.startTimerLocked()
		p.markChangedLocked()
	})
}

func (p *PhoneLogin) startTimerLocked() {
	if !p.timer.IsRunning() {
		p.timer.Start()
	}
}

// Logout forgets the app user and phone number and returns to start.
func (p *PhoneLogin) Logout() {
	p.logAction("logout", "")
	p.Reset()
}

// Reset cancels any request in flight, stops the timer, clears the app
// user, phone number, pin and error and forces the flow to start.
func (p *PhoneLogin) Reset() {
	p.run(p.resetLocked)
}

func (p *PhoneLogin) resetLocked() {
	if p.timer.IsRunning() {
		p.timer.Stop()
	}
	p.cancelRequestLocked()
	p.setAppUserLocked(nil)
	p.phoneNumber = ""
	p.pinCode = ""
	p.errorMessage = ""
	if err := p.storage.SetPhoneNumber(context.Background(), ""); err != nil {
		p.logger.Error("Failed to clear phone number", "error", err)
	}
	p.manager.Authenticator().InvalidateToken()
	p.machine.ForceState(StateStart)
}

// Close cancels any request in flight and stops the timer. Completions
// arriving afterwards are ignored.
func (p *PhoneLogin) Close() {
	p.run(func() {
		p.closed = true
		p.cancelRequestLocked()
		p.timer.Stop()
	})
}

func (p *PhoneLogin) setErrorLocked(err error) {
	p.errorMessage = describeError(err)
	p.logAction("error", p.errorMessage)
	p.logger.Warn("Phone login request failed", "state", p.machine.State(), "error", err)
}

func describeError(err error) string {
	if errors.Is(err, ErrInvalidCode) {
		return ErrInvalidCode.Error()
	}
	if status := apperrors.StatusCode(err); status != 0 {
		return fmt.Sprintf("Error: statusCode: %d", status)
	}
	return err.Error()
}

func (p *PhoneLogin) setAppUserLocked(appUser *network.AppUser) {
	previous := p.appUser
	p.appUser = appUser

	if previous != nil && appUser != nil && previous.ID == appUser.ID && previous.Secret == appUser.Secret {
		return
	}
	if previous == nil && appUser == nil {
		return
	}
	if appUser != nil {
		p.logAction("appID", appUser.ID)
	} else {
		p.logAction("remove appID", "")
	}
	if err := p.storage.SetAppUser(context.Background(), appUser); err != nil {
		p.logger.Error("Failed to persist app user", "error", err)
	}
	p.markChangedLocked()
}

func (p *PhoneLogin) logAction(action, info string) {
	if p.actions != nil {
		p.actions.Add(action, info)
	}
}

func (p *PhoneLogin) leaveState(t Transition) {
	p.logAction("leave state", string(t.From))
}

// enterState runs the side effects of a state. It is called from inside run.
func (p *PhoneLogin) enterState(t Transition) {
	p.logAction("enter state", string(t.To))
	p.logger.Debug("Phone login state changed", "from", t.From, "to", t.To, "event", t.Event)

	switch t.To {
	case StateWaitingForCode:
		if err := p.storage.SetPhoneNumber(context.Background(), p.phoneNumber); err != nil {
			p.logger.Error("Failed to persist phone number", "error", err)
		}
		p.startTimerLocked()
	case StatePushedToServer:
		p.errorMessage = ""
		p.pushToServerLocked()
	case StateSendCode:
		p.errorMessage = ""
		p.sendCodeLocked()
	case StateDeletingAccount:
		p.errorMessage = ""
		p.deleteAccountLocked()
	}
	p.markChangedLocked()
}

func (p *PhoneLogin) cancelRequestLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.requestID++
}

func (p *PhoneLogin) beginRequestLocked() (context.Context, uint64) {
	p.cancelRequestLocked()
	ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout)
	p.cancel = cancel
	return ctx, p.requestID
}

// finishRequest runs fn unless the request was superseded, reset or the
// flow was closed in the meantime.
func (p *PhoneLogin) finishRequest(id uint64, fn func()) {
	p.run(func() {
		if p.closed || id != p.requestID {
			return
		}
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		fn()
	})
}

func (p *PhoneLogin) failLocked(err error) {
	p.setErrorLocked(err)
	p.machine.TryEvent(EventFailure)
}

func (p *PhoneLogin) pushToServerLocked() {
	ctx, id := p.beginRequestLocked()
	cfg := p.configuration
	dialString := p.dialStringLocked()

	go func() {
		ep, err := network.PhoneAuth(cfg, dialString)
		if err == nil {
			_, err = network.Perform(ctx, p.manager, ep)
		}
		p.finishRequest(id, func() {
			if err != nil {
				p.failLocked(err)
				return
			}
			p.machine.TryEvent(EventSendingPhoneNumber)
		})
	}()
}

func (p *PhoneLogin) sendCodeLocked() {
	ctx, id := p.beginRequestLocked()
	cfg := p.configuration
	dialString := p.dialStringLocked()
	pinCode := p.pinCode

	go func() {
		var appUser *network.AppUser
		ep, err := network.PhoneLogin(cfg, dialString, pinCode)
		if err == nil {
			appUser, err = network.Perform(ctx, p.manager, ep)
		}
		if err == nil && appUser == nil {
			err = ErrInvalidCode
		}
		p.finishRequest(id, func() {
			if err != nil {
				p.failLocked(err)
				return
			}
			p.logAction("logged in", appUser.ID)
			p.machine.TryEvent(EventSuccess)
		})
	}()
}

func (p *PhoneLogin) deleteAccountLocked() {
	ctx, id := p.beginRequestLocked()
	cfg := p.configuration
	dialString := p.dialStringLocked()

	go func() {
		ep, err := network.PhoneDelete(cfg, dialString)
		if err == nil {
			_, err = network.Perform(ctx, p.manager, ep)
		}
		p.finishRequest(id, func() {
			if err != nil {
				p.failLocked(err)
				return
			}
			p.logAction("account deleted", dialString)
			p.machine.TryEvent(EventSuccess)
			p.resetLocked()
		})
	}()
}

// authenticatorDelegate hands the flow's app user to the authenticator.
type authenticatorDelegate struct {
	p *PhoneLogin
}

func (d authenticatorDelegate) AppUser(network.Configuration) *network.AppUser {
	return d.p.AppUser()
}

// AppUserUpdated keeps appUser only while a flow request is in flight. A
// registration finishing after Reset or Close is dropped.
func (d authenticatorDelegate) AppUserUpdated(_ network.Configuration, appUser network.AppUser) {
	d.p.run(func() {
		if d.p.closed || d.p.cancel == nil {
			d.p.logger.Debug("Dropping app user of a cancelled request", "app_user", appUser)
			return
		}
		d.p.setAppUserLocked(&appUser)
	})
}

func (d authenticatorDelegate) ProjectID(network.Configuration) string {
	return d.p.projectID
}
