package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/scrollpace/scrollpace/internal/runner"
	"github.com/scrollpace/scrollpace/internal/task"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.Registry().List())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	info, err := s.app.Registry().Info(id)
	if err != nil {
		RespondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, info)
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var spec runner.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	entry, err := s.app.Runner().Submit(spec)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.app.Registry().Info(entry.Task.ID())
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusCreated, info)
}

// handleRethrottleTask changes a running task's throttle. The new rate
// comes from the requests_per_second query parameter; "unlimited" and
// "-1" remove the throttle entirely.
func (s *Server) handleRethrottleTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}

	rate, err := task.ParseRequestsPerSecond(r.URL.Query().Get("requests_per_second"))
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.app.Registry().Get(id)
	if err != nil {
		RespondWithError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := entry.Task.Rethrottle(rate); err != nil {
		if errors.Is(err, task.ErrInvalidRate) {
			RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	info, _ := s.app.Registry().Info(id)
	RespondWithJSON(w, http.StatusOK, info)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}

	var payload struct {
		Reason string `json:"reason"`
	}
	// The body is optional; a bare POST cancels with the default reason.
	json.NewDecoder(r.Body).Decode(&payload)

	entry, err := s.app.Registry().Get(id)
	if err != nil {
		RespondWithError(w, http.StatusNotFound, err.Error())
		return
	}

	entry.Task.Cancel(payload.Reason)

	info, _ := s.app.Registry().Info(id)
	RespondWithJSON(w, http.StatusOK, info)
}

// taskID parses the {taskID} route parameter, writing the error
// response itself when the id is malformed.
func (s *Server) taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid task ID")
		return 0, false
	}
	return id, true
}
