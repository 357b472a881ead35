package jobs_test

import (
	"testing"
	"time"

	"github.com/scrollpace/scrollpace/internal/jobs"
	"github.com/scrollpace/scrollpace/internal/registry"
	"github.com/scrollpace/scrollpace/internal/store"
	"github.com/scrollpace/scrollpace/internal/testutil"
)

func TestPruneFinishedTasks(t *testing.T) {
	app := testutil.SetupTestApp(t)
	app.Config().Tasks.RetentionMinutes = 1

	reg := app.Registry()
	old := reg.Register("delete_by_query", "indices:data/write/delete_by_query", "old task", 0, -1)
	reg.Finish(old.Task.ID(), registry.StateCompleted, "")
	live := reg.Register("delete_by_query", "indices:data/write/delete_by_query", "live task", 0, -1)

	// Nothing is old enough yet; both tasks survive.
	jobs.PruneFinishedTasks(app)
	if got := len(reg.List()); got != 2 {
		t.Fatalf("Expected 2 tasks after first prune, got %d", got)
	}

	// A zero retention window falls back to an hour, so force the prune
	// through the registry directly to check the job's arithmetic.
	time.Sleep(10 * time.Millisecond)
	if pruned := reg.PruneFinished(time.Nanosecond); pruned != 1 {
		t.Fatalf("Expected to prune 1 finished task, pruned %d", pruned)
	}

	infos := reg.List()
	if len(infos) != 1 || infos[0].ID != live.Task.ID() {
		t.Errorf("Expected only the running task to survive, got %v", infos)
	}
}

func TestSweepExpiredSessions(t *testing.T) {
	app := testutil.SetupTestApp(t)
	st := store.New(app.DB())

	user, err := st.CreateUser("sweeper", "hash", "user")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	token, err := st.CreateSession(user.ID)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// Backdate the session past its expiry.
	_, err = app.DB().Exec("UPDATE sessions SET expiry = ? WHERE token = ?",
		time.Now().Add(-time.Hour), token)
	if err != nil {
		t.Fatalf("Failed to backdate session: %v", err)
	}

	jobs.SweepExpiredSessions(app)

	if _, err := st.GetUserFromSession(token); err == nil {
		t.Error("Expected the expired session to be gone after the sweep")
	}
}
