package waittimer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitTimer_ExpiresOnItsOwn(t *testing.T) {
	w := New(50 * time.Millisecond)

	var expired atomic.Int32
	w.OnExpire(func() { expired.Add(1) })

	w.Start()
	assert.True(t, w.IsRunning())

	start, ok := w.StartTime()
	require.True(t, ok)
	assert.False(t, start.IsZero())
	_, ok = w.EndTime()
	assert.False(t, ok)

	assert.Eventually(t, func() bool { return !w.IsRunning() }, time.Second, 10*time.Millisecond)

	end, ok := w.EndTime()
	require.True(t, ok)
	assert.False(t, end.Before(start))
	assert.Equal(t, int32(1), expired.Load())
}

func TestWaitTimer_ManualStop(t *testing.T) {
	w := New(time.Hour)

	var expired atomic.Int32
	w.OnExpire(func() { expired.Add(1) })

	w.Start()
	assert.Greater(t, w.Remaining(), time.Duration(0))

	w.Stop()
	assert.False(t, w.IsRunning())
	assert.Equal(t, time.Duration(0), w.Remaining())
	_, ok := w.EndTime()
	assert.True(t, ok)
	assert.Equal(t, int32(0), expired.Load())
}

func TestWaitTimer_RestartDiscardsPreviousInterval(t *testing.T) {
	w := New(80 * time.Millisecond)

	var expired atomic.Int32
	w.OnExpire(func() { expired.Add(1) })

	w.Start()
	time.Sleep(50 * time.Millisecond)
	w.Start()
	time.Sleep(50 * time.Millisecond)

	// The first interval would have ended by now.
	assert.True(t, w.IsRunning())

	assert.Eventually(t, func() bool { return !w.IsRunning() }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), expired.Load())
}

func TestWaitTimer_StopBeforeStart(t *testing.T) {
	w := New(time.Second)
	w.Stop()

	assert.False(t, w.IsRunning())
	_, ok := w.StartTime()
	assert.False(t, ok)
}
