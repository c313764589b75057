// Package actionlog records the user-visible steps of a login session.
package actionlog

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogAction is one recorded step.
type LogAction struct {
	ID        uuid.UUID `json:"id"`
	Action    string    `json:"action"`
	Info      string    `json:"info,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// String renders "[action] > info", or "[action]" without info.
func (a LogAction) String() string {
	if a.Info == "" {
		return fmt.Sprintf("[%s]", a.Action)
	}
	return fmt.Sprintf("[%s] > %s", a.Action, a.Info)
}

// Logger keeps actions in order and mirrors them to slog.
type Logger struct {
	logger *slog.Logger

	mu        sync.Mutex
	actions   []LogAction
	listeners []func(LogAction)
}

// New creates a logger. A nil slog logger means slog.Default().
func New(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

// Restore seeds the log with previously recorded actions.
func (l *Logger) Restore(actions []LogAction) {
	l.mu.Lock()
	l.actions = append([]LogAction(nil), actions...)
	l.mu.Unlock()
}

// Add records an action and notifies listeners.
func (l *Logger) Add(action, info string) LogAction {
	entry := LogAction{
		ID:        uuid.New(),
		Action:    action,
		Info:      info,
		Timestamp: time.Now().UTC(),
	}

	l.mu.Lock()
	l.actions = append(l.actions, entry)
	listeners := slices.Clone(l.listeners)
	l.mu.Unlock()

	l.logger.Info("Action", "action", action, "info", info)
	for _, fn := range listeners {
		fn(entry)
	}
	return entry
}

// Actions returns a copy of the recorded actions, oldest first.
func (l *Logger) Actions() []LogAction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogAction(nil), l.actions...)
}

// Reset drops all recorded actions.
func (l *Logger) Reset() {
	l.mu.Lock()
	l.actions = nil
	l.mu.Unlock()
}

// Subscribe registers fn for every future action.
func (l *Logger) Subscribe(fn func(LogAction)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}
