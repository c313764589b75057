package loginflow

import (
	"sync"
)

// State is a step of the phone login flow.
type State string

const (
	StateStart           State = "start"
	StatePushedToServer  State = "pushedToServer"
	StateWaitingForCode  State = "waitingForCode"
	StateSendCode        State = "sendCode"
	StateLoggedIn        State = "loggedIn"
	StateDeletingAccount State = "deletingAccount"
	StateError           State = "error"
)

// Event drives the state machine.
type Event string

const (
	EventEnterPhoneNumber   Event = "enterPhoneNumber"
	EventSendingPhoneNumber Event = "sendingPhoneNumber"
	EventEnterCode          Event = "enterCode"
	EventLoggingIn          Event = "loggingIn"
	EventTrashAccount       Event = "trashAccount"
	EventSuccess            Event = "success"
	EventFailure            Event = "failure"
)

// transitions lists every valid (state, event) pair. Pairs not listed are
// rejected without side effects.
var transitions = map[State]map[Event]State{
	StateStart: {
		EventEnterPhoneNumber:   StatePushedToServer,
		EventSendingPhoneNumber: StatePushedToServer,
	},
	StatePushedToServer: {
		EventEnterPhoneNumber:   StatePushedToServer,
		EventSendingPhoneNumber: StateWaitingForCode,
		EventEnterCode:          StateSendCode,
		EventFailure:            StateError,
	},
	StateWaitingForCode: {
		EventEnterPhoneNumber:   StatePushedToServer,
		EventSendingPhoneNumber: StatePushedToServer,
		EventEnterCode:          StateWaitingForCode,
		EventLoggingIn:          StateSendCode,
		EventTrashAccount:       StateDeletingAccount,
		EventFailure:            StateError,
	},
	StateSendCode: {
		EventLoggingIn: StateWaitingForCode,
		EventSuccess:   StateLoggedIn,
		EventFailure:   StateError,
	},
	StateLoggedIn: {
		EventEnterPhoneNumber: StateStart,
		EventSuccess:          StateStart,
		EventTrashAccount:     StateDeletingAccount,
	},
	StateDeletingAccount: {
		EventEnterPhoneNumber: StateStart,
		EventTrashAccount:     StateStart,
		EventSuccess:          StateStart,
		EventFailure:          StateError,
	},
	StateError: {
		EventEnterPhoneNumber:   StateStart,
		EventSendingPhoneNumber: StatePushedToServer,
		EventLoggingIn:          StateWaitingForCode,
		EventTrashAccount:       StateDeletingAccount,
	},
}

// NextState looks up the target of event in state.
func NextState(state State, event Event) (State, bool) {
	next, ok := transitions[state][event]
	return next, ok
}

// Transition describes one accepted state change.
type Transition struct {
	From  State
	To    State
	Event Event // empty for forced changes
}

// Observer is notified around every state change: first Leave with the old
// state, then Enter with the new one. Both run on the goroutine that caused
// the change, after the new state is visible.
type Observer struct {
	Leave func(Transition)
	Enter func(Transition)
}

// StateMachine holds the current state of the flow.
type StateMachine struct {
	mu        sync.Mutex
	state     State
	observers []Observer
}

// NewStateMachine creates a machine in initial.
func NewStateMachine(initial State) *StateMachine {
	return &StateMachine{state: initial}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Observe registers o for future transitions.
func (m *StateMachine) Observe(o Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// TryEvent applies event if it is valid in the current state and reports
// whether a transition happened. Observers have been notified when it
// returns true.
func (m *StateMachine) TryEvent(event Event) bool {
	m.mu.Lock()
	next, ok := NextState(m.state, event)
	if !ok {
		m.mu.Unlock()
		return false
	}
	t := Transition{From: m.state, To: next, Event: event}
	m.state = next
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	notify(observers, t)
	return true
}

// ForceState moves to state unconditionally. Observers are notified even
// when state equals the current state.
func (m *StateMachine) ForceState(state State) {
	m.mu.Lock()
	t := Transition{From: m.state, To: state}
	m.state = state
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	notify(observers, t)
}

func notify(observers []Observer, t Transition) {
	for _, o := range observers {
		if o.Leave != nil {
			o.Leave(t)
		}
	}
	for _, o := range observers {
		if o.Enter != nil {
			o.Enter(t)
		}
	}
}
