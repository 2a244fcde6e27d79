package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/rx1-bridge/internal/rx1/engine"
)

// PollingRequest updates the engine's polling settings. Omitted fields
// keep their current value.
type PollingRequest struct {
	Enabled  *bool `json:"enabled"`
	Interval *int  `json:"interval"`
}

// PollingResponse reports the effective polling settings.
type PollingResponse struct {
	Enabled  bool `json:"enabled"`
	Interval int  `json:"interval"`
}

func pollingResponse(s engine.Settings) PollingResponse {
	return PollingResponse{Enabled: s.Polling, Interval: int(s.Interval / time.Second)}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"device":  s.registry.Status(),
		"polling": pollingResponse(s.engine.Settings()),
	})
}

// handleRefresh runs one refresh cycle and returns the resulting status.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.engine.RefreshAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"device": s.registry.Status(),
	})
}

func (s *Server) handleSetPolling(w http.ResponseWriter, r *http.Request) {
	var req PollingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	settings := s.engine.Settings()
	if req.Enabled != nil {
		settings.Polling = *req.Enabled
	}
	if req.Interval != nil {
		settings.Interval = time.Duration(*req.Interval) * time.Second
	}

	if err := s.engine.Reconfigure(settings); err != nil {
		if errors.Is(err, engine.ErrInvalidInterval) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	s.logger.Info("polling reconfigured via API",
		"polling", settings.Polling,
		"interval", settings.Interval.String(),
	)
	writeJSON(w, http.StatusOK, pollingResponse(settings))
}
