// Package task implements the paced bulk-mutation task: cumulative
// progress counters plus a throttled rescheduler that holds at most one
// pending batch action and guarantees it fires exactly once no matter
// how many goroutines rethrottle it concurrently.
package task

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	uatomic "go.uber.org/atomic"

	"github.com/scrollpace/scrollpace/internal/scheduler"
)

// BulkTask tracks and paces one long-running bulk mutation. Counter
// mutators, Rethrottle and Status are all safe to call from any number
// of goroutines; the batch loop itself must only ever have one batch
// pending or executing at a time.
type BulkTask struct {
	id          int64
	taskType    string
	action      string
	description string
	parentID    int64

	progress
	requestsPerSecond *uatomic.Float64

	// pending holds the one scheduled-but-not-fired batch, or nil. The
	// pointer identity is the generation token: every replacement or
	// clear is a CompareAndSwap against the exact generation the caller
	// observed, so concurrent rethrottles can never install two handles
	// for the same generation.
	pending atomic.Pointer[delayedBatch]

	canceled atomic.Pointer[string]
}

// New creates a task. A non-positive requestsPerSecond means unthrottled.
func New(id int64, taskType, action, description string, parentID int64, requestsPerSecond float64) *BulkTask {
	if ValidateRate(requestsPerSecond) != nil {
		requestsPerSecond = math.Inf(1)
	}
	return &BulkTask{
		id:                id,
		taskType:          taskType,
		action:            action,
		description:       description,
		parentID:          parentID,
		requestsPerSecond: uatomic.NewFloat64(requestsPerSecond),
	}
}

func (t *BulkTask) ID() int64           { return t.id }
func (t *BulkTask) Type() string        { return t.taskType }
func (t *BulkTask) Action() string      { return t.action }
func (t *BulkTask) Description() string { return t.description }
func (t *BulkTask) ParentID() int64     { return t.parentID }

func (t *BulkTask) RequestsPerSecond() float64 {
	return t.requestsPerSecond.Load()
}

// delayedBatch is one generation of the scheduled next-batch action.
// Rescheduling never reuses a generation; it installs a fresh one
// sharing the same runOnce so the action still runs at most once even
// if two generations' timers both fire.
type delayedBatch struct {
	sched             scheduler.Scheduler
	handle            scheduler.Handle
	requestsPerSecond float64
	delay             time.Duration
	run               *runOnce
}

// runOnce lets exactly one caller through, regardless of how many
// handles end up wrapping it across reschedules.
type runOnce struct {
	ran *uatomic.Bool
	fn  func()
}

func (r *runOnce) Run() {
	if r.ran.CompareAndSwap(false, true) {
		r.fn()
	}
}

// DelayNextBatch schedules action to run once the throttle allows the
// next batch: the perfectly throttled time for the batch that just
// finished, less the time it already took, counted from lastBatchStart.
// The caller must not have another batch pending. A scheduling refusal
// is returned as-is and is fatal to the batch loop.
func (t *BulkTask) DelayNextBatch(sched scheduler.Scheduler, lastBatchStart time.Time, lastBatchSize int, action func()) error {
	rate := t.requestsPerSecond.Load()
	delay := throttleWaitTime(rate, lastBatchStart, lastBatchSize)
	if t.CanceledReason() != "" {
		// The loop only learns about the cancellation when the action
		// runs, so run it as soon as possible.
		delay = 0
	}
	d := &delayedBatch{
		sched:             sched,
		requestsPerSecond: rate,
		delay:             delay,
		run:               &runOnce{ran: uatomic.NewBool(false), fn: action},
	}
	handle, err := sched.Schedule(d.delay, func() { t.fire(d) })
	if err != nil {
		return fmt.Errorf("schedule next batch: %w", err)
	}
	d.handle = handle
	t.pending.Store(d)
	return nil
}

// fire clears the pending slot for this generation before anything
// else, charges the wait to the throttled-time counter, then runs the
// action at most once.
func (t *BulkTask) fire(d *delayedBatch) {
	t.pending.CompareAndSwap(d, nil)
	t.throttledNanos.Add(d.delay.Nanoseconds())
	d.run.Run()
}

// Rethrottle changes the task's throttle rate. If a batch is waiting
// and the new rate is faster, the wait is cut short; a slower rate
// applies from the next batch, so no delay ever grows past what was
// originally scheduled. Losing a cancellation race to the firing action
// or to another rethrottle is expected and is not an error.
func (t *BulkTask) Rethrottle(newRequestsPerSecond float64) error {
	if err := ValidateRate(newRequestsPerSecond); err != nil {
		return err
	}
	t.requestsPerSecond.Store(newRequestsPerSecond)
	t.hurryPending(newRequestsPerSecond)
	return nil
}

// hurryPending replaces the pending generation with one scheduled at
// the new, faster rate. It retries only when another rethrottle swapped
// the slot between our load and our install.
func (t *BulkTask) hurryPending(newRate float64) {
	for {
		cur := t.pending.Load()
		if cur == nil {
			return
		}
		replacement := t.reschedule(cur, newRate)
		if replacement == nil {
			return
		}
		if t.pending.CompareAndSwap(cur, replacement) {
			return
		}
		// Someone else replaced or fired this generation first. Our
		// replacement must not stand; its timer may still be stopped
		// here, and if not, the shared runOnce keeps the action single.
		replacement.handle.Cancel()
	}
}

// reschedule builds the replacement generation for cur at newRate, or
// returns nil when cur should stand: the new rate is not faster, the
// action already started, or another caller canceled cur first. The
// replacement's delay is the remaining wait scaled by oldRate/newRate,
// so it is always within [0, remaining].
func (t *BulkTask) reschedule(cur *delayedBatch, newRate float64) *delayedBatch {
	if newRate <= cur.requestsPerSecond {
		return nil
	}
	remaining := cur.handle.TimeRemaining()
	if remaining < 0 {
		remaining = 0
	}
	newDelay := time.Duration(float64(remaining) * cur.requestsPerSecond / newRate)
	if math.IsInf(newRate, 1) {
		newDelay = 0
	}
	if !cur.handle.Cancel() {
		return nil
	}
	d := &delayedBatch{
		sched:             cur.sched,
		requestsPerSecond: newRate,
		delay:             newDelay,
		run:               cur.run,
	}
	handle, err := cur.sched.Schedule(newDelay, func() { t.fire(d) })
	if err != nil {
		// We canceled the only scheduled copy and the scheduler refuses
		// a new one (shutdown). Run the action now rather than lose it.
		t.fire(d)
		return nil
	}
	d.handle = handle
	return d
}

// Cancel marks the task canceled, once. The pending batch, if any, is
// hurried so the batch loop observes the cancellation without waiting
// out the throttle delay.
func (t *BulkTask) Cancel(reason string) {
	if reason == "" {
		reason = "canceled"
	}
	if !t.canceled.CompareAndSwap(nil, &reason) {
		return
	}
	t.hurryPending(math.Inf(1))
}

// CanceledReason returns the cancellation reason, or "" while the task
// is live.
func (t *BulkTask) CanceledReason() string {
	if r := t.canceled.Load(); r != nil {
		return *r
	}
	return ""
}

// throttledUntil is the time remaining before the pending batch fires,
// never negative. A timer whose deadline has passed but whose action
// has not run yet reports as due now.
func (t *BulkTask) throttledUntil() time.Duration {
	d := t.pending.Load()
	if d == nil {
		return 0
	}
	remaining := d.handle.TimeRemaining()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Status returns a snapshot of the task's progress. It never blocks the
// counter mutators or the rescheduler.
func (t *BulkTask) Status() Status {
	return Status{
		Total:                t.total.Load(),
		Created:              t.created.Load(),
		Updated:              t.updated.Load(),
		Deleted:              t.deleted.Load(),
		VersionConflicts:     t.versionConflicts.Load(),
		Batches:              t.batches.Load(),
		Noops:                t.noops.Load(),
		BulkRetries:          t.bulkRetries.Load(),
		SearchRetries:        t.searchRetries.Load(),
		ThrottledMillis:      time.Duration(t.throttledNanos.Load()).Milliseconds(),
		RequestsPerSecond:    t.requestsPerSecond.Load(),
		ThrottledUntilMillis: t.throttledUntil().Milliseconds(),
		Canceled:             t.CanceledReason(),
	}
}
