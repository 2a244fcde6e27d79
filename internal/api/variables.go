package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/rx1-bridge/internal/host"
)

func (s *Server) handleListVariables(w http.ResponseWriter, _ *http.Request) {
	values := s.registry.Values()
	writeJSON(w, http.StatusOK, map[string]any{
		"variables": values,
		"count":     len(values),
	})
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, _ *http.Request) {
	defs := s.registry.Definitions()
	writeJSON(w, http.StatusOK, map[string]any{
		"definitions": defs,
		"count":       len(defs),
	})
}

func (s *Server) handleGetVariable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	value, err := s.registry.Value(id)
	if errors.Is(err, host.ErrVariableNotFound) {
		writeNotFound(w, "variable not found")
		return
	}
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    id,
		"value": value,
	})
}
