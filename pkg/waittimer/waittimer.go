// Package waittimer implements a one-shot cooldown timer.
package waittimer

import (
	"sync"
	"time"
)

// WaitTimer runs for a fixed interval after Start and then stops itself.
// Stop may be called earlier. Both record an end time.
type WaitTimer struct {
	interval time.Duration

	mu        sync.Mutex
	running   bool
	startTime time.Time
	endTime   time.Time
	timer     *time.Timer
	gen       uint64
	onExpire  func()
	now       func() time.Time
}

// New creates a stopped timer.
func New(interval time.Duration) *WaitTimer {
	return &WaitTimer{
		interval: interval,
		now:      time.Now,
	}
}

// Interval returns the configured duration.
func (w *WaitTimer) Interval() time.Duration {
	return w.interval
}

// OnExpire registers fn to be called after the interval elapsed on its own.
// fn runs on the timer goroutine and is not called for manual stops.
func (w *WaitTimer) OnExpire(fn func()) {
	w.mu.Lock()
	w.onExpire = fn
	w.mu.Unlock()
}

// Start begins a new interval, discarding any running one.
func (w *WaitTimer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.running = true
	w.startTime = w.now()
	w.endTime = time.Time{}
	w.timer = time.AfterFunc(w.interval, func() { w.expire(gen) })
}

// Stop ends the current interval. Calling Stop on a stopped timer only
// refreshes the end time.
func (w *WaitTimer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *WaitTimer) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
	w.running = false
	w.endTime = w.now()
}

func (w *WaitTimer) expire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.stopLocked()
	fn := w.onExpire
	w.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// IsRunning reports whether an interval is in progress.
func (w *WaitTimer) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// StartTime returns when the last interval started.
func (w *WaitTimer) StartTime() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startTime, !w.startTime.IsZero()
}

// EndTime returns when the last interval ended. It is unset while running.
func (w *WaitTimer) EndTime() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.endTime, !w.endTime.IsZero()
}

// Remaining returns the time left in the running interval, or 0.
func (w *WaitTimer) Remaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return 0
	}
	left := w.interval - w.now().Sub(w.startTime)
	if left < 0 {
		return 0
	}
	return left
}
