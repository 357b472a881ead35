package registry_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrollpace/scrollpace/internal/registry"
)

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	reg := registry.New()
	a := reg.Register("update_by_query", "indices:data/write/update/byquery", "update items", 0, math.Inf(1))
	b := reg.Register("delete_by_query", "indices:data/write/delete/byquery", "delete items", 0, 100)

	assert.Equal(t, int64(1), a.Task.ID())
	assert.Equal(t, int64(2), b.Task.ID())

	infos := reg.List()
	assert.Len(t, infos, 2)
	assert.Equal(t, int64(1), infos[0].ID)
	assert.Equal(t, int64(2), infos[1].ID)
	assert.Equal(t, registry.StateRunning, infos[0].State)
}

func TestGetAndInfo(t *testing.T) {
	reg := registry.New()
	entry := reg.Register("update_by_query", "action", "desc", 7, math.Inf(1))

	got, err := reg.Get(entry.Task.ID())
	assert.NoError(t, err)
	assert.Same(t, entry, got)

	info, err := reg.Info(entry.Task.ID())
	assert.NoError(t, err)
	assert.Equal(t, int64(7), info.ParentID)
	assert.Nil(t, info.EndTime)

	_, err = reg.Get(999)
	assert.ErrorAs(t, err, &registry.ErrTaskNotFound{})
}

func TestFinishIsSticky(t *testing.T) {
	reg := registry.New()
	entry := reg.Register("update_by_query", "action", "desc", 0, math.Inf(1))
	id := entry.Task.ID()

	reg.Finish(id, registry.StateFailed, "boom")
	reg.Finish(id, registry.StateCompleted, "")

	info, err := reg.Info(id)
	assert.NoError(t, err)
	assert.Equal(t, registry.StateFailed, info.State)
	assert.Equal(t, "boom", info.Error)
	assert.NotNil(t, info.EndTime)
}

func TestPruneFinished(t *testing.T) {
	reg := registry.New()
	running := reg.Register("update_by_query", "action", "running", 0, math.Inf(1))
	finished := reg.Register("update_by_query", "action", "finished", 0, math.Inf(1))
	reg.Finish(finished.Task.ID(), registry.StateCompleted, "")

	// Nothing is old enough yet.
	assert.Equal(t, 0, reg.PruneFinished(time.Hour))

	// With zero retention the finished task goes; the running one stays.
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, reg.PruneFinished(0))

	_, err := reg.Get(finished.Task.ID())
	assert.Error(t, err)
	_, err = reg.Get(running.Task.ID())
	assert.NoError(t, err)
}
