package api

import (
	"net/http"
	"runtime"
	"time"

	bridge "github.com/nerrad567/rx1-bridge/internal/bridges/rx1"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/rx1-bridge/internal/rx1"
)

// SystemMetrics is the JSON body of GET /api/v1/metrics.
type SystemMetrics struct {
	Timestamp     string                   `json:"timestamp"`
	Version       string                   `json:"version"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Runtime       RuntimeMetrics           `json:"runtime"`
	Device        DeviceMetrics            `json:"device"`
	Polling       PollingResponse          `json:"polling"`
	WebSocket     WSMetrics                `json:"websocket"`
	MQTT          *MQTTMetrics             `json:"mqtt,omitempty"`
	Bridge        *bridge.BridgeStatistics `json:"bridge,omitempty"`
	Database      *DatabaseMetrics         `json:"database,omitempty"`
}

type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics is the broker link state plus the client's counters.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
	mqtt.Stats
}

// DeviceMetrics summarises the receiver as last polled.
type DeviceMetrics struct {
	Connection string `json:"connection"`
	Services   int    `json:"services"`
	Running    int    `json:"running"`
	Stopped    int    `json:"stopped"`
	Variables  int    `json:"variables"`
	Feedbacks  int    `json:"feedbacks"`
}

// DatabaseMetrics is the audit database connection pool.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) deviceMetrics() DeviceMetrics {
	services := s.reader.Services()
	m := DeviceMetrics{
		Connection: string(s.registry.Status().State),
		Services:   len(services),
		Variables:  len(s.registry.Values()),
		Feedbacks:  len(s.registry.Feedbacks()),
	}
	for _, svc := range services {
		switch svc.State {
		case rx1.StateStarted:
			m.Running++
		case rx1.StateStopped:
			m.Stopped++
		}
	}
	return m
}

// handleMetrics returns JSON system metrics. Prometheus metrics are
// served separately at /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		Device:    s.deviceMetrics(),
		Polling:   pollingResponse(s.engine.Settings()),
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected(), Stats: s.mqtt.Stats()}
	}
	if s.bridge != nil {
		stats := s.bridge.Statistics()
		metrics.Bridge = &stats
	}
	if s.db != nil {
		st := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
