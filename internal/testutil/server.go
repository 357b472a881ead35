// A shared test server setup utility, which simplifies all API tests.

package testutil

import (
	"database/sql"
	"testing"

	"github.com/scrollpace/scrollpace/internal/api"
	"github.com/scrollpace/scrollpace/internal/config"
	"github.com/scrollpace/scrollpace/internal/core"
)

// SetupTestApp initializes a core.App backed by an in-memory database.
func SetupTestApp(t *testing.T) *core.App {
	t.Helper()
	db := SetupTestDB(t)

	cfg := &config.Config{}
	cfg.Throttle.BatchSize = 500
	cfg.Throttle.RequestsPerSecond = -1

	app := core.NewWith(cfg, db, "test")
	t.Cleanup(app.Close)
	return app
}

// SetupTestServer initializes a full core.App and api.Server for integration testing.
func SetupTestServer(t *testing.T) (*api.Server, *sql.DB) {
	t.Helper()
	app := SetupTestApp(t)
	return api.NewServer(app), app.DB()
}
