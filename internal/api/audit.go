package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nerrad567/rx1-bridge/internal/audit"
	"github.com/nerrad567/rx1-bridge/internal/rx1/command"
)

// auditCommand queues an audit entry for a command run through the API.
func (s *Server) auditCommand(cmd command.Command, options json.RawMessage, err error) {
	if s.auditor == nil {
		return
	}
	var ref string
	if r, ok := command.ServiceOf(cmd); ok {
		ref = r.String()
	}
	s.auditor.Record(audit.CommandEntry(string(cmd.Kind()), ref, audit.SourceAPI, options, err))
}

// handleListAuditLogs lists recorded commands, newest first.
//
// Query parameters: action, entity_type, entity_id ("type/id"),
// source (api or mqtt), limit and offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	filter, msg := auditFilter(r.URL.Query())
	if msg != "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// auditFilter parses the query. A non-empty message describes the first
// invalid parameter.
func auditFilter(q url.Values) (audit.Filter, string) {
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Source:     q.Get("source"),
	}

	switch filter.Source {
	case "", audit.SourceAPI, audit.SourceMQTT:
	default:
		return filter, "source must be api or mqtt"
	}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, name + " must be a non-negative integer"
		}
		*dst = n
	}
	return filter, ""
}
