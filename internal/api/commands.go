package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/rx1-bridge/internal/rx1/command"
	"github.com/nerrad567/rx1-bridge/internal/rx1/condition"
)

// readOptions returns the request body as raw JSON options. An empty body
// yields nil options.
func readOptions(r *http.Request) (json.RawMessage, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	return raw, nil
}

// handleCommand decodes the options body for {kind}, runs the command and
// returns its result.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	options, err := readOptions(r)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	cmd, err := command.Decode(kind, options)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := s.executor.Execute(r.Context(), cmd)
	s.auditCommand(cmd, options, err)
	if err != nil {
		s.logger.Warn("command failed", "kind", kind, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCondition evaluates one condition against the current snapshot.
func (s *Server) handleCondition(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	options, err := readOptions(r)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	cond, err := condition.Decode(kind, options)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kind":   cond.Kind(),
		"result": condition.Evaluate(s.reader, cond),
	})
}
