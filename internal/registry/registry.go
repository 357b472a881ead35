// Package registry tracks the bulk tasks that exist in this process:
// running ones and recently finished ones kept around for the API.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scrollpace/scrollpace/internal/task"
)

// Task lifecycle states.
const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCanceled  = "canceled"
)

// ErrTaskNotFound is returned when a task id does not resolve.
type ErrTaskNotFound struct{ ID int64 }

func (e ErrTaskNotFound) Error() string {
	return fmt.Sprintf("task %d not found", e.ID)
}

// Entry is one registered task plus its lifecycle bookkeeping. Task is
// safe for concurrent use; State/EndTime/Error are guarded by the
// registry and read through Info().
type Entry struct {
	Task      *task.BulkTask
	State     string
	StartTime time.Time
	EndTime   time.Time
	Error     string
}

// Info is the API-facing view of an entry.
type Info struct {
	ID          int64       `json:"id"`
	Type        string      `json:"type"`
	Action      string      `json:"action"`
	Description string      `json:"description"`
	ParentID    int64       `json:"parent_id,omitempty"`
	State       string      `json:"state"`
	StartTime   time.Time   `json:"start_time"`
	EndTime     *time.Time  `json:"end_time,omitempty"`
	Error       string      `json:"error,omitempty"`
	Status      task.Status `json:"status"`
}

// Registry hands out task ids and keeps the id → task map.
type Registry struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[int64]*Entry)}
}

// Register creates a task under a fresh id and tracks it as running.
func (r *Registry) Register(taskType, action, description string, parentID int64, requestsPerSecond float64) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry := &Entry{
		Task:      task.New(r.nextID, taskType, action, description, parentID, requestsPerSecond),
		State:     StateRunning,
		StartTime: time.Now(),
	}
	r.entries[r.nextID] = entry
	return entry
}

// Get returns the entry for a task id.
func (r *Registry) Get(id int64) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, ErrTaskNotFound{ID: id}
	}
	return entry, nil
}

// Finish moves a task to a terminal state. The first terminal state
// sticks; later calls are ignored.
func (r *Registry) Finish(id int64, state, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.State != StateRunning {
		return
	}
	entry.State = state
	entry.Error = errMsg
	entry.EndTime = time.Now()
}

// Info snapshots one entry.
func (r *Registry) Info(id int64) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return Info{}, ErrTaskNotFound{ID: id}
	}
	return entry.info(), nil
}

// List snapshots every tracked task, ordered by id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]Info, 0, len(r.entries))
	for _, entry := range r.entries {
		infos = append(infos, entry.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// PruneFinished drops terminal tasks that ended before the retention
// window and returns how many were removed.
func (r *Registry) PruneFinished(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for id, entry := range r.entries {
		if entry.State != StateRunning && entry.EndTime.Before(cutoff) {
			delete(r.entries, id)
			pruned++
		}
	}
	return pruned
}

// info builds the snapshot; callers hold r.mu.
func (e *Entry) info() Info {
	info := Info{
		ID:          e.Task.ID(),
		Type:        e.Task.Type(),
		Action:      e.Task.Action(),
		Description: e.Task.Description(),
		ParentID:    e.Task.ParentID(),
		State:       e.State,
		StartTime:   e.StartTime,
		Error:       e.Error,
		Status:      e.Task.Status(),
	}
	if !e.EndTime.IsZero() {
		end := e.EndTime
		info.EndTime = &end
	}
	return info
}
