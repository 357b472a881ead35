// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/scrollpace/scrollpace/internal/core"
	"github.com/scrollpace/scrollpace/internal/store"
)

// Server holds the dependencies for our API.
type Server struct {
	app   *core.App
	db    *sql.DB
	store *store.Store
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:   app,
		db:    app.DB(),
		store: store.New(app.DB()),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Logs requests to the console
	r.Use(middleware.Recoverer) // Recovers from panics
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/api/users/login", s.handleLogin)
	r.Get("/api/version", s.handleGetVersion)

	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)

		r.Post("/api/users/logout", s.handleLogout)
		r.Get("/api/users/me", s.handleGetMe)

		r.Route("/api", func(r chi.Router) {
			r.Get("/tasks", s.handleListTasks)
			r.Get("/tasks/{taskID}", s.handleGetTask)

			r.Get("/indices/{index}/documents/count", s.handleCountDocuments)
			r.Get("/indices/{index}/documents/{docID}", s.handleGetDocument)

			// Submitting, rethrottling and canceling bulk tasks, and
			// loading documents, all mutate data and need admin.
			r.Group(func(r chi.Router) {
				r.Use(s.AdminOnlyMiddleware)

				r.Post("/tasks", s.handleSubmitTask)
				r.Post("/tasks/{taskID}/rethrottle", s.handleRethrottleTask)
				r.Post("/tasks/{taskID}/cancel", s.handleCancelTask)

				r.Post("/indices/{index}/documents", s.handleBulkInsertDocuments)
			})
		})
	})

	// WebSocket route for live task progress.
	r.Get("/ws/progress", func(w http.ResponseWriter, r *http.Request) {
		s.app.WsHub().ServeWs(w, r)
	})

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.Ping(); err != nil {
			RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
			return
		}
		RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"version": s.app.Version()})
}
