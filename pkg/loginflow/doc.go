// Package loginflow drives the phone number login of an app.
//
// A user enters a phone number, the backend sends a one-time code by SMS,
// and the user enters the code to receive the app user bound to that number.
// The same flow deletes the account again.
//
// # Overview
//
// The loginflow package provides:
//   - StateMachine, the table of valid (state, event) transitions
//   - PhoneLogin, the controller that runs backend requests on state entry
//   - Persistence of the phone number, selected country and app user
//   - A cooldown timer between two code requests
//
// # States
//
//	start ──send──▶ pushedToServer ──ok──▶ waitingForCode ──login──▶ sendCode ──ok──▶ loggedIn
//	                      │                      │                      │
//	                      └────────failure───────┴────────failure───────┴──▶ error
//
// Entering waitingForCode persists the phone number and starts the timer.
// Entering pushedToServer, sendCode or deletingAccount clears the error
// message and starts the matching backend request. A request that fails
// moves the flow to error with a readable ErrorMessage.
//
// # Basic Usage
//
//	import "github.com/tendant/phone-login/pkg/loginflow"
//
//	prefs := preferences.New(preferences.NewMemoryStore())
//	flow, err := loginflow.NewPhoneLogin(ctx, cfg, prefs,
//		loginflow.WithWaitInterval(30*time.Second),
//	)
//	if err != nil {
//		return err
//	}
//	defer flow.Close()
//
//	flow.Subscribe(func(s loginflow.Snapshot) {
//		fmt.Println(s.State, s.ErrorMessage)
//	})
//
//	flow.SetPhoneNumber("0177 1234567")
//	flow.SendPhoneNumber()
//	// later, with the code from the SMS
//	flow.LoginWithCode("123456")
//
// # Concurrency
//
// Every mutation of a PhoneLogin is serialized by one mutex. Backend
// requests run on their own goroutines and report back through the same
// lock. Reset, Logout and Close cancel a request in flight; its result is
// dropped. Subscribers are called after the lock is released and may call
// back into the flow.
package loginflow
