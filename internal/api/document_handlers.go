package api

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/scrollpace/scrollpace/internal/store"
)

// handleBulkInsertDocuments loads a batch of documents into an index.
// The payload maps doc ids to their sources.
func (s *Server) handleBulkInsertDocuments(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")

	var payload map[string]map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(payload) == 0 {
		RespondWithError(w, http.StatusBadRequest, "No documents in payload")
		return
	}

	inserted := 0
	for docID, source := range payload {
		if _, err := s.store.InsertDocument(index, docID, source); err != nil {
			RespondWithError(w, http.StatusConflict, "Failed to insert document "+docID+": "+err.Error())
			return
		}
		inserted++
	}
	RespondWithJSON(w, http.StatusCreated, map[string]int{"inserted": inserted})
}

// handleCountDocuments counts documents in an index, optionally
// filtered by field/value query parameters.
func (s *Server) handleCountDocuments(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	q := store.FieldQuery{
		Field: r.URL.Query().Get("field"),
		Value: r.URL.Query().Get("value"),
	}

	count, err := s.store.CountDocuments(index, q)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to count documents")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	docID := chi.URLParam(r, "docID")

	doc, err := s.store.GetDocument(index, docID)
	if err != nil {
		if err == sql.ErrNoRows {
			RespondWithError(w, http.StatusNotFound, "Document not found")
			return
		}
		RespondWithError(w, http.StatusInternalServerError, "Failed to fetch document")
		return
	}
	RespondWithJSON(w, http.StatusOK, doc)
}
