// Package jobs runs the periodic maintenance work: pruning finished
// tasks out of the registry and sweeping expired sessions.
package jobs

import (
	"database/sql"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/scrollpace/scrollpace/internal/config"
	"github.com/scrollpace/scrollpace/internal/registry"
	"github.com/scrollpace/scrollpace/internal/store"
)

// JobContext provides the dependencies jobs need to run. The core.App
// struct implements this interface.
type JobContext interface {
	DB() *sql.DB
	Config() *config.Config
	Registry() *registry.Registry
}

// StartJobs starts the background job scheduler and returns it so the
// caller can stop it on shutdown.
func StartJobs(app JobContext) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	startTaskPruneJob(s, app)
	startSessionSweepJob(s, app)

	log.Println("Starting background job scheduler...")
	s.StartAsync()
	return s
}

func startTaskPruneJob(s *gocron.Scheduler, app JobContext) {
	interval := app.Config().Tasks.PruneIntervalMinutes
	if interval == 0 {
		log.Println("Task prune interval is 0, pruning is disabled.")
		return
	}

	log.Printf("Scheduling job: 'task-prune' to run every %d minutes.", interval)
	_, err := s.Every(interval).Minutes().Do(func() {
		PruneFinishedTasks(app)
	})
	if err != nil {
		log.Printf("Error scheduling 'task-prune' job: %v", err)
	}
}

func startSessionSweepJob(s *gocron.Scheduler, app JobContext) {
	log.Println("Scheduling job: 'session-sweep' to run every hour.")
	_, err := s.Every(1).Hour().Do(func() {
		SweepExpiredSessions(app)
	})
	if err != nil {
		log.Printf("Error scheduling 'session-sweep' job: %v", err)
	}
}

// PruneFinishedTasks removes finished tasks older than the configured
// retention window.
func PruneFinishedTasks(app JobContext) {
	retention := time.Duration(app.Config().Tasks.RetentionMinutes) * time.Minute
	if retention <= 0 {
		retention = time.Hour
	}
	if pruned := app.Registry().PruneFinished(retention); pruned > 0 {
		log.Printf("Pruned %d finished tasks older than %s", pruned, retention)
	}
}

// SweepExpiredSessions deletes sessions past their expiry.
func SweepExpiredSessions(app JobContext) {
	deleted, err := store.New(app.DB()).DeleteExpiredSessions()
	if err != nil {
		log.Printf("Session sweep failed: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Removed %d expired sessions", deleted)
	}
}
