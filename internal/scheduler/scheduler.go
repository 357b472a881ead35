// Package scheduler provides the delayed-execution primitive bulk tasks
// schedule their batches on: a one-shot timer with a cancellable handle
// that can report how long remains until it fires.
package scheduler

import (
	"errors"
	"time"

	"go.uber.org/atomic"
)

// ErrStopped is returned by Schedule once the scheduler has been shut
// down. It is fatal to a batch loop; nothing retries it.
var ErrStopped = errors.New("scheduler is stopped")

// Handle is a scheduled, not-yet-fired action.
type Handle interface {
	// Cancel stops the action before it starts. It returns true only if
	// the action had not started yet; false means the action is already
	// running, finished, or was canceled by someone else. The
	// distinction matters: a caller that gets true owns the right to
	// schedule a replacement.
	Cancel() bool

	// TimeRemaining reports how long until the action is due. It may be
	// negative when the deadline has passed but the runtime has not
	// invoked the action yet; callers clamp if they need to.
	TimeRemaining() time.Duration
}

// Scheduler accepts delayed actions.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) (Handle, error)
}

const (
	statePending int32 = iota
	stateRunning
	stateDone
	stateCanceled
)

// TimerScheduler runs actions on time.Timer. Each action runs on its
// own goroutine when its timer fires.
type TimerScheduler struct {
	stopped *atomic.Bool
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{stopped: atomic.NewBool(false)}
}

func (s *TimerScheduler) Schedule(delay time.Duration, fn func()) (Handle, error) {
	if s.stopped.Load() {
		return nil, ErrStopped
	}
	h := &timerHandle{
		deadline: time.Now().Add(delay),
		state:    atomic.NewInt32(statePending),
	}
	h.timer = time.AfterFunc(delay, func() {
		// A cancellation that wins this swap stops the action; losing it
		// means the timer fired first and the cancel was too late.
		if !h.state.CompareAndSwap(statePending, stateRunning) {
			return
		}
		fn()
		h.state.Store(stateDone)
	})
	return h, nil
}

// Stop makes all further Schedule calls fail with ErrStopped. Actions
// already scheduled still fire.
func (s *TimerScheduler) Stop() {
	s.stopped.Store(true)
}

type timerHandle struct {
	timer    *time.Timer
	deadline time.Time
	state    *atomic.Int32
}

func (h *timerHandle) Cancel() bool {
	if !h.state.CompareAndSwap(statePending, stateCanceled) {
		return false
	}
	h.timer.Stop()
	return true
}

func (h *timerHandle) TimeRemaining() time.Duration {
	return time.Until(h.deadline)
}
