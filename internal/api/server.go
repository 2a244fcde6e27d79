package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/rx1-bridge/internal/audit"
	"github.com/nerrad567/rx1-bridge/internal/host"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/database"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/rx1-bridge/internal/rx1/command"
	"github.com/nerrad567/rx1-bridge/internal/rx1/engine"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"

	bridge "github.com/nerrad567/rx1-bridge/internal/bridges/rx1"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Poller is the polling engine as seen by the API. *engine.Engine
// satisfies it.
type Poller interface {
	RefreshAll(ctx context.Context)
	Reconfigure(s engine.Settings) error
	Settings() engine.Settings
}

// Executor runs decoded commands. *command.Dispatcher satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (command.Result, error)
}

// AuditRecorder queues audit entries. *audit.Recorder satisfies it.
type AuditRecorder interface {
	Record(entry *audit.Entry)
}

// BrokerStatus reports the broker link. *mqtt.Client satisfies it.
type BrokerStatus interface {
	IsConnected() bool
	Stats() mqtt.Stats
}

// BridgeStatsProvider exposes MQTT bridge counters.
type BridgeStatsProvider interface {
	Statistics() bridge.BridgeStatistics
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *host.Registry
	Reader   snapshot.Reader
	Engine   Poller
	Executor Executor

	// Optional collaborators.
	AuditRepo audit.Repository
	Auditor   AuditRecorder
	MQTT      BrokerStatus
	Bridge    BridgeStatsProvider
	DB        *database.DB
	Gatherer  prometheus.Gatherer

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  *host.Registry
	reader    snapshot.Reader
	engine    Poller
	executor  Executor
	auditRepo audit.Repository
	auditor   AuditRecorder
	mqtt      BrokerStatus
	bridge    BridgeStatsProvider
	db        *database.DB
	gatherer  prometheus.Gatherer
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies and registers
// its WebSocket hub as a registry listener.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil || deps.Reader == nil {
		return nil, fmt.Errorf("host registry and snapshot reader are required")
	}
	if deps.Engine == nil || deps.Executor == nil {
		return nil, fmt.Errorf("engine and command executor are required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		reader:    deps.Reader,
		engine:    deps.Engine,
		executor:  deps.Executor,
		auditRepo: deps.AuditRepo,
		auditor:   deps.Auditor,
		mqtt:      deps.MQTT,
		bridge:    deps.Bridge,
		db:        deps.DB,
		gatherer:  gatherer,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger, deps.Registry),
	}
	deps.Registry.AddListener(s.hub)
	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the router. Start serves it; tests use it directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start runs the WebSocket hub and begins listening for HTTP connections
// in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
