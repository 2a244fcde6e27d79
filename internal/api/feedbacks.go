package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/rx1-bridge/internal/host"
	"github.com/nerrad567/rx1-bridge/internal/rx1/condition"
)

// WatchRequest is the body of PUT /feedbacks/{id}.
type WatchRequest struct {
	Kind    string          `json:"kind"`
	Options json.RawMessage `json:"options,omitempty"`
}

func (s *Server) handleListFeedbacks(w http.ResponseWriter, _ *http.Request) {
	feedbacks := s.registry.Feedbacks()
	writeJSON(w, http.StatusOK, map[string]any{
		"feedbacks": feedbacks,
		"count":     len(feedbacks),
	})
}

// handleWatchFeedback adds or replaces a watched feedback and returns its
// first evaluation.
func (s *Server) handleWatchFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req WatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "kind is required")
		return
	}

	fb, err := s.registry.Watch(id, req.Kind, req.Options)
	if err != nil {
		if errors.Is(err, host.ErrWatchIDRequired) || errors.Is(err, condition.ErrUnknownKind) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

func (s *Server) handleUnwatchFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Unwatch(id); err != nil {
		if errors.Is(err, host.ErrWatchNotFound) {
			writeNotFound(w, "feedback not found")
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
