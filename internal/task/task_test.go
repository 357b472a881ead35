package task

import (
	"encoding/json"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrollpace/scrollpace/internal/scheduler"
)

func newTestTask() *BulkTask {
	return New(1, "test_type", "test_action", "test", 0, math.Inf(1))
}

func TestBasicData(t *testing.T) {
	bt := newTestTask()
	assert.Equal(t, int64(1), bt.ID())
	assert.Equal(t, "test_type", bt.Type())
	assert.Equal(t, "test_action", bt.Action())
	assert.Equal(t, "test", bt.Description())
	assert.Equal(t, int64(0), bt.ParentID())
}

// TestProgress walks the counters randomly, checking after every step
// that a snapshot reports exactly the increments issued so far.
func TestProgress(t *testing.T) {
	bt := newTestTask()
	var created, updated, deleted, versionConflicts, batches, noops int64

	status := bt.Status()
	assert.Equal(t, int64(0), status.Total)
	assert.Equal(t, int64(0), status.Created)

	totalHits := int64(10 + rand.Intn(991))
	bt.SetTotal(totalHits)
	for p := int64(0); p < totalHits; p++ {
		status = bt.Status()
		assert.Equal(t, totalHits, status.Total)
		assert.Equal(t, created, status.Created)
		assert.Equal(t, updated, status.Updated)
		assert.Equal(t, deleted, status.Deleted)
		assert.Equal(t, versionConflicts, status.VersionConflicts)
		assert.Equal(t, batches, status.Batches)
		assert.Equal(t, noops, status.Noops)

		switch rand.Intn(3) {
		case 0:
			created++
			bt.CountCreated()
		case 1:
			updated++
			bt.CountUpdated()
		default:
			deleted++
			bt.CountDeleted()
		}
		if rand.Intn(10) == 0 {
			versionConflicts++
			bt.CountVersionConflict()
		}
		if rand.Intn(10) == 0 {
			batches++
			bt.CountBatch()
		}
		if rand.Intn(10) == 0 {
			noops++
			bt.CountNoop()
		}
	}
	status = bt.Status()
	assert.Equal(t, totalHits, status.Total)
	assert.Equal(t, created, status.Created)
	assert.Equal(t, updated, status.Updated)
	assert.Equal(t, deleted, status.Deleted)
	assert.Equal(t, versionConflicts, status.VersionConflicts)
	assert.Equal(t, batches, status.Batches)
	assert.Equal(t, noops, status.Noops)
}

func TestCountersConcurrent(t *testing.T) {
	bt := newTestTask()
	const goroutines = 8
	const perGoroutine = 1000
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				bt.CountCreated()
				bt.CountUpdated()
				bt.CountVersionConflict()
			}
		}()
	}
	wg.Wait()
	status := bt.Status()
	assert.Equal(t, int64(goroutines*perGoroutine), status.Created)
	assert.Equal(t, int64(goroutines*perGoroutine), status.Updated)
	assert.Equal(t, int64(goroutines*perGoroutine), status.VersionConflicts)
}

// boundedScheduler fails the test if it is ever asked to schedule a
// delay outside [0, max]. Rethrottling only ever shortens waits, so no
// reschedule may exceed the originally scheduled delay.
type boundedScheduler struct {
	t     *testing.T
	max   time.Duration
	inner scheduler.Scheduler
}

func (s *boundedScheduler) Schedule(delay time.Duration, fn func()) (scheduler.Handle, error) {
	if delay < 0 || delay > s.max {
		s.t.Errorf("scheduled delay %v outside [0, %v]", delay, s.max)
	}
	return s.inner.Schedule(delay, fn)
}

// TestDelayAndRethrottle furiously rethrottles a waiting batch from a
// random number of goroutines and checks the action runs exactly once.
func TestDelayAndRethrottle(t *testing.T) {
	for threads := 1; threads <= 10; threads++ {
		bt := newTestTask()
		originalRate := 1 + rand.Float64()*999
		assert.NoError(t, bt.Rethrottle(originalRate))

		// Never actually waited out: the storm below keeps ratcheting
		// the delay down.
		maxDelay := time.Duration(1+rand.Intn(2)) * time.Second
		batchSizeForMaxDelay := int(maxDelay.Seconds() * originalRate)

		sched := &boundedScheduler{t: t, max: maxDelay, inner: scheduler.NewTimerScheduler()}
		var done atomic.Bool
		err := bt.DelayNextBatch(sched, time.Now(), batchSizeForMaxDelay, func() {
			if done.Swap(true) {
				t.Error("batch action ran twice")
			}
		})
		assert.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < threads; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r := rand.New(rand.NewSource(rand.Int63()))
				for !done.Load() {
					rate := r.Float64() * originalRate * 2
					if rate <= 0 {
						continue
					}
					if err := bt.Rethrottle(rate); err != nil {
						t.Errorf("rethrottle(%v): %v", rate, err)
						return
					}
				}
			}()
		}
		wg.Wait()
		assert.True(t, done.Load())
	}
}

// negativeDelayScheduler hands out handles that claim their deadline
// already passed, the way a real runtime can just before invoking the
// action.
type negativeDelayScheduler struct{}

type negativeDelayHandle struct{}

func (negativeDelayScheduler) Schedule(delay time.Duration, fn func()) (scheduler.Handle, error) {
	return negativeDelayHandle{}, nil
}
func (negativeDelayHandle) Cancel() bool                 { return false }
func (negativeDelayHandle) TimeRemaining() time.Duration { return -1 * time.Nanosecond }

func TestDelayNeverNegative(t *testing.T) {
	bt := newTestTask()
	err := bt.DelayNextBatch(negativeDelayScheduler{}, time.Now(), 1, func() {})
	assert.NoError(t, err)
	// Even though the handle reports a negative delay, the status says
	// zero because the time is up.
	assert.Equal(t, int64(0), bt.Status().ThrottledUntilMillis)
}

func TestPerfectlyThrottledBatchTime(t *testing.T) {
	assert.Equal(t, time.Duration(0), perfectlyThrottledBatchTime(math.Inf(1), rand.Intn(1<<30)))

	total := rand.Intn(1_000_001)
	got := perfectlyThrottledBatchTime(1, total)
	want := time.Duration(total) * time.Second
	assert.InDelta(t, float64(want), float64(got), float64(time.Second))
}

func TestRethrottleRejectsInvalidRates(t *testing.T) {
	bt := newTestTask()
	for _, rate := range []float64{0, -1, math.Inf(-1), math.NaN()} {
		assert.ErrorIs(t, bt.Rethrottle(rate), ErrInvalidRate)
	}
	assert.NoError(t, bt.Rethrottle(math.Inf(1)))
	assert.NoError(t, bt.Rethrottle(0.5))
	assert.Equal(t, 0.5, bt.RequestsPerSecond())
}

func TestParseRequestsPerSecond(t *testing.T) {
	rate, err := ParseRequestsPerSecond("unlimited")
	assert.NoError(t, err)
	assert.True(t, math.IsInf(rate, 1))

	rate, err = ParseRequestsPerSecond("-1")
	assert.NoError(t, err)
	assert.True(t, math.IsInf(rate, 1))

	rate, err = ParseRequestsPerSecond("12.5")
	assert.NoError(t, err)
	assert.Equal(t, 12.5, rate)

	for _, s := range []string{"0", "-2", "fast", ""} {
		_, err = ParseRequestsPerSecond(s)
		assert.ErrorIs(t, err, ErrInvalidRate)
	}
}

func TestSlowerRethrottleLeavesPendingBatchAlone(t *testing.T) {
	bt := newTestTask()
	assert.NoError(t, bt.Rethrottle(100))

	sched := scheduler.NewTimerScheduler()
	fired := make(chan struct{})
	err := bt.DelayNextBatch(sched, time.Now(), 100, func() { close(fired) })
	assert.NoError(t, err)
	before := bt.pending.Load()

	// Slowing down must not reschedule the waiting batch.
	assert.NoError(t, bt.Rethrottle(10))
	assert.Same(t, before, bt.pending.Load())

	// Speeding up replaces the generation and shortens the wait.
	assert.NoError(t, bt.Rethrottle(math.Inf(1)))
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not fire after unthrottling")
	}
}

func TestCancelHurriesPendingBatch(t *testing.T) {
	bt := newTestTask()
	assert.NoError(t, bt.Rethrottle(1))

	sched := scheduler.NewTimerScheduler()
	fired := make(chan struct{})
	err := bt.DelayNextBatch(sched, time.Now(), 60, func() { close(fired) })
	assert.NoError(t, err)

	bt.Cancel("user request")
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("pending batch did not fire promptly after cancel")
	}
	assert.Equal(t, "user request", bt.CanceledReason())
	assert.Equal(t, "user request", bt.Status().Canceled)

	// Cancellation is sticky; a second reason does not overwrite it.
	bt.Cancel("other reason")
	assert.Equal(t, "user request", bt.CanceledReason())
}

func TestThrottledMillisAccumulates(t *testing.T) {
	bt := newTestTask()
	assert.NoError(t, bt.Rethrottle(100))

	sched := scheduler.NewTimerScheduler()
	fired := make(chan struct{})
	// 50 items at 100/s is a 500ms wait.
	err := bt.DelayNextBatch(sched, time.Now(), 50, func() { close(fired) })
	assert.NoError(t, err)
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not fire")
	}
	assert.GreaterOrEqual(t, bt.Status().ThrottledMillis, int64(400))
}

func TestStatusJSON(t *testing.T) {
	bt := newTestTask()
	bt.SetTotal(10)
	bt.CountCreated()
	bt.CountBatch()

	data, err := json.Marshal(bt.Status())
	assert.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, `"requests_per_second":"unlimited"`)
	assert.Contains(t, body, `"total":10`)
	assert.Contains(t, body, `"created":1`)
	assert.Contains(t, body, `"batches":1`)
	assert.False(t, strings.Contains(body, `"canceled"`))

	assert.NoError(t, bt.Rethrottle(2.5))
	data, err = json.Marshal(bt.Status())
	assert.NoError(t, err)
	assert.Contains(t, string(data), `"requests_per_second":2.5`)
}
