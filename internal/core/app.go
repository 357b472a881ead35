package core

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/scrollpace/scrollpace/internal/config"
	"github.com/scrollpace/scrollpace/internal/db"
	"github.com/scrollpace/scrollpace/internal/registry"
	"github.com/scrollpace/scrollpace/internal/runner"
	"github.com/scrollpace/scrollpace/internal/scheduler"
	"github.com/scrollpace/scrollpace/internal/store"
	"github.com/scrollpace/scrollpace/internal/websocket"
)

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	config   *config.Config
	database *sql.DB
	hub      *websocket.Hub
	sched    *scheduler.TimerScheduler
	registry *registry.Registry
	runner   *runner.Runner
	version  string
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running
// migrations.
func New(version string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app := NewWith(cfg, database, version)

	// Pick up throttle default changes without a restart.
	config.Watch(func(fresh *config.Config) {
		app.runner.SetDefaults(fresh.Throttle.BatchSize, fresh.Throttle.RequestsPerSecond)
	})

	log.Println("Core application setup complete.")
	return app, nil
}

// NewWith assembles an App around an already prepared config and
// database. Used directly by tests.
func NewWith(cfg *config.Config, database *sql.DB, version string) *App {
	hub := websocket.NewHub()
	go hub.Run()

	sched := scheduler.NewTimerScheduler()
	reg := registry.New()
	run := runner.New(store.New(database), sched, reg, hub,
		cfg.Throttle.BatchSize, cfg.Throttle.RequestsPerSecond)

	return &App{
		config:   cfg,
		database: database,
		hub:      hub,
		sched:    sched,
		registry: reg,
		runner:   run,
		version:  version,
	}
}

func (a *App) Config() *config.Config               { return a.config }
func (a *App) DB() *sql.DB                          { return a.database }
func (a *App) WsHub() *websocket.Hub                { return a.hub }
func (a *App) Scheduler() *scheduler.TimerScheduler { return a.sched }
func (a *App) Registry() *registry.Registry         { return a.registry }
func (a *App) Runner() *runner.Runner               { return a.runner }
func (a *App) Version() string                      { return a.version }

// Close gracefully closes the application's resources. The scheduler
// stops accepting new batches first so running loops fail fast instead
// of queueing work against a closing database.
func (a *App) Close() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.database != nil {
		a.database.Close()
	}
}
