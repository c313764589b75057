package actionlog

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAction_String(t *testing.T) {
	assert.Equal(t, "[Login] > +491771234567", LogAction{Action: "Login", Info: "+491771234567"}.String())
	assert.Equal(t, "[Logout]", LogAction{Action: "Logout"}.String())
}

func TestLogger_AddAndReset(t *testing.T) {
	l := New(nil)

	var seen []string
	l.Subscribe(func(a LogAction) { seen = append(seen, a.String()) })

	first := l.Add("sendPhoneNumber", "+491771234567")
	l.Add("logout", "")

	actions := l.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, first, actions[0])
	assert.NotEqual(t, uuid.Nil, actions[0].ID)
	assert.NotEqual(t, actions[0].ID, actions[1].ID)
	assert.False(t, actions[1].Timestamp.Before(actions[0].Timestamp))
	assert.Equal(t, []string{"[sendPhoneNumber] > +491771234567", "[logout]"}, seen)

	l.Reset()
	assert.Empty(t, l.Actions())
}

func TestLogger_Restore(t *testing.T) {
	l := New(nil)
	l.Restore([]LogAction{{ID: uuid.New(), Action: "restored"}})

	l.Add("next", "")
	actions := l.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, "restored", actions[0].Action)
}
