package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ServiceChoice is one entry of a service picker.
type ServiceChoice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	services := s.reader.Services()
	writeJSON(w, http.StatusOK, map[string]any{
		"services": services,
		"count":    len(services),
	})
}

// handleServiceChoices lists services as "type/id" references with a
// "name (type)" label.
func (s *Server) handleServiceChoices(w http.ResponseWriter, _ *http.Request) {
	services := s.reader.Services()
	choices := make([]ServiceChoice, 0, len(services))
	for _, svc := range services {
		choices = append(choices, ServiceChoice{ID: svc.Ref(), Label: svc.Label()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"choices": choices})
}

func (s *Server) handleGetServiceStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, ok := s.reader.ServiceStatus(name)
	if !ok {
		writeNotFound(w, "no status for service "+name)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetServer(w http.ResponseWriter, _ *http.Request) {
	status := s.reader.ServerStatus()
	if status == nil {
		writeNotFound(w, "server status not available")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
