// Package runner executes bulk mutation jobs: it scrolls matching
// documents out of the store batch by batch, applies the mutation,
// records progress on the task, and lets the task's throttle decide
// when the next batch may start.
package runner

import (
	"fmt"
	"log"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/scrollpace/scrollpace/internal/models"
	"github.com/scrollpace/scrollpace/internal/registry"
	"github.com/scrollpace/scrollpace/internal/scheduler"
	"github.com/scrollpace/scrollpace/internal/store"
	"github.com/scrollpace/scrollpace/internal/task"
	"github.com/scrollpace/scrollpace/internal/websocket"
)

// Job types.
const (
	TypeUpdateByQuery = "update_by_query"
	TypeDeleteByQuery = "delete_by_query"
	TypeReindex       = "reindex"
)

// maxStoreRetries bounds how often a failed scroll or write is retried
// before it fails the task. SQLite reports transient contention as an
// error (SQLITE_BUSY), so a single failure should not kill a long job.
const maxStoreRetries = 3

// JobSpec describes one bulk mutation job.
type JobSpec struct {
	Type  string           `json:"type"`
	Index string           `json:"index"`
	Query store.FieldQuery `json:"query"`
	// Set holds the fields update_by_query writes into each document.
	Set map[string]interface{} `json:"set,omitempty"`
	// DestIndex is where reindex copies documents to.
	DestIndex string `json:"dest_index,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
	// RequestsPerSecond throttles the job; <= 0 means use the
	// configured default.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
}

// Runner owns the batch loops for all live tasks.
type Runner struct {
	store    *store.Store
	sched    scheduler.Scheduler
	registry *registry.Registry
	hub      *websocket.Hub

	mu               sync.Mutex
	defaultBatchSize int
	defaultRate      float64
}

func New(st *store.Store, sched scheduler.Scheduler, reg *registry.Registry, hub *websocket.Hub, defaultBatchSize int, defaultRate float64) *Runner {
	r := &Runner{
		store:            st,
		sched:            sched,
		registry:         reg,
		hub:              hub,
		defaultBatchSize: 500,
		defaultRate:      math.Inf(1),
	}
	r.SetDefaults(defaultBatchSize, defaultRate)
	return r
}

// SetDefaults updates the batch size and rate applied to future jobs
// that do not choose their own. A non-positive rate means unthrottled.
// Live-reloaded from config.
func (r *Runner) SetDefaults(batchSize int, rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if batchSize > 0 {
		r.defaultBatchSize = batchSize
	}
	if task.ValidateRate(rate) == nil {
		r.defaultRate = rate
	} else {
		r.defaultRate = math.Inf(1)
	}
}

func (r *Runner) defaults() (int, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultBatchSize, r.defaultRate
}

// Submit validates the spec, registers a task and starts its batch
// loop. The first batch runs immediately; only later batches are
// throttled.
func (r *Runner) Submit(spec JobSpec) (*registry.Entry, error) {
	switch spec.Type {
	case TypeUpdateByQuery:
		if len(spec.Set) == 0 {
			return nil, fmt.Errorf("update_by_query requires fields to set")
		}
	case TypeDeleteByQuery:
	case TypeReindex:
		if spec.DestIndex == "" || spec.DestIndex == spec.Index {
			return nil, fmt.Errorf("reindex requires a dest_index different from the source index")
		}
	default:
		return nil, fmt.Errorf("unknown job type %q", spec.Type)
	}
	if spec.Index == "" {
		return nil, fmt.Errorf("job requires an index")
	}
	defaultBatchSize, defaultRate := r.defaults()
	if spec.BatchSize <= 0 {
		spec.BatchSize = defaultBatchSize
	}
	// Zero or absent means the server default; any negative value is
	// the explicit "unlimited" of the wire format.
	if spec.RequestsPerSecond == 0 {
		spec.RequestsPerSecond = defaultRate
	} else if spec.RequestsPerSecond < 0 {
		spec.RequestsPerSecond = math.Inf(1)
	}

	entry := r.registry.Register(spec.Type, actionName(spec.Type), describe(spec), 0, spec.RequestsPerSecond)
	t := entry.Task

	total, err := r.store.CountDocuments(spec.Index, spec.Query)
	if err != nil {
		r.registry.Finish(t.ID(), registry.StateFailed, err.Error())
		return nil, fmt.Errorf("count matching documents: %w", err)
	}
	t.SetTotal(total)

	log.Printf("Starting task %d (%s) on index %q, %d documents to process", t.ID(), spec.Type, spec.Index, total)
	go r.runBatch(entry, spec, 0)
	return entry, nil
}

func actionName(jobType string) string {
	return "indices:data/write/" + jobType
}

func describe(spec JobSpec) string {
	desc := spec.Type + " on [" + spec.Index + "]"
	if spec.Type == TypeReindex {
		desc += " to [" + spec.DestIndex + "]"
	}
	if !spec.Query.IsMatchAll() {
		desc += fmt.Sprintf(" where %s=%s", spec.Query.Field, spec.Query.Value)
	}
	return desc
}

// runBatch processes one scroll batch and schedules the next one
// through the task's throttle. It runs on whatever goroutine the
// scheduler fires.
func (r *Runner) runBatch(entry *registry.Entry, spec JobSpec, afterID int64) {
	t := entry.Task

	if reason := t.CanceledReason(); reason != "" {
		r.finish(entry, registry.StateCanceled, reason)
		return
	}

	batchStart := time.Now()
	var docs []*models.Document
	err := withRetry(t.CountSearchRetry, func() error {
		var err error
		docs, err = r.store.ScrollDocuments(spec.Index, spec.Query, afterID, spec.BatchSize)
		return err
	})
	if err != nil {
		r.finish(entry, registry.StateFailed, fmt.Sprintf("scroll failed: %v", err))
		return
	}
	if len(docs) == 0 {
		r.finish(entry, registry.StateCompleted, "")
		return
	}

	for _, doc := range docs {
		if err := r.applyMutation(t, spec, doc); err != nil {
			r.finish(entry, registry.StateFailed, err.Error())
			return
		}
	}
	t.CountBatch()
	r.broadcast(entry, registry.StateRunning, fmt.Sprintf("processed batch of %d", len(docs)), false)

	lastID := docs[len(docs)-1].ID
	err = t.DelayNextBatch(r.sched, batchStart, len(docs), func() {
		r.runBatch(entry, spec, lastID)
	})
	if err != nil {
		// The scheduler is gone; nothing will run the loop again.
		r.finish(entry, registry.StateFailed, err.Error())
	}
}

// applyMutation applies the job's mutation to one document. Version
// conflicts are counted and skipped, matching a bulk request that
// proceeds on conflict.
func (r *Runner) applyMutation(t *task.BulkTask, spec JobSpec, doc *models.Document) error {
	switch spec.Type {
	case TypeUpdateByQuery:
		changed := false
		for field, value := range spec.Set {
			if !reflect.DeepEqual(doc.Source[field], value) {
				doc.Source[field] = value
				changed = true
			}
		}
		if !changed {
			t.CountNoop()
			return nil
		}
		var ok bool
		err := withRetry(t.CountBulkRetry, func() error {
			var err error
			ok, err = r.store.UpdateDocumentVersioned(doc.ID, doc.Source, doc.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", doc.Index, doc.DocID, err)
		}
		if !ok {
			t.CountVersionConflict()
			return nil
		}
		t.CountUpdated()

	case TypeDeleteByQuery:
		var ok bool
		err := withRetry(t.CountBulkRetry, func() error {
			var err error
			ok, err = r.store.DeleteDocumentVersioned(doc.ID, doc.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", doc.Index, doc.DocID, err)
		}
		if !ok {
			t.CountVersionConflict()
			return nil
		}
		t.CountDeleted()

	case TypeReindex:
		var created bool
		err := withRetry(t.CountBulkRetry, func() error {
			var err error
			created, err = r.store.CopyDocument(spec.DestIndex, doc.DocID, doc.Source)
			return err
		})
		if err != nil {
			return fmt.Errorf("reindex %s/%s: %w", doc.Index, doc.DocID, err)
		}
		if created {
			t.CountCreated()
		} else {
			t.CountUpdated()
		}
	}
	return nil
}

// withRetry runs op, retrying transient failures with a short linear
// backoff. count records each retry against the task's counters.
func withRetry(count func(), op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || attempt >= maxStoreRetries {
			return err
		}
		count()
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
}

func (r *Runner) finish(entry *registry.Entry, state, errMsg string) {
	t := entry.Task
	r.registry.Finish(t.ID(), state, errMsg)
	msg := "task " + state
	if errMsg != "" {
		msg += ": " + errMsg
	}
	log.Printf("Task %d %s", t.ID(), msg)
	r.broadcast(entry, state, msg, true)
}

func (r *Runner) broadcast(entry *registry.Entry, state, message string, done bool) {
	if r.hub == nil {
		return
	}
	t := entry.Task
	r.hub.BroadcastJSON(models.ProgressUpdate{
		TaskID:  t.ID(),
		Action:  t.Action(),
		State:   state,
		Message: message,
		Status:  t.Status(),
		Done:    done,
	})
}
