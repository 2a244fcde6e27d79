// Package engine is the synchronization engine: it polls the receiver,
// merges the three API responses into the snapshot and pushes field
// definitions and values to the host.
//
// A refresh cycle runs strictly in order: service list, server status,
// then each service's status one at a time. Only a service list failure
// ends a cycle early; every other failure is logged and contained.
// Cycles may overlap (a slow cycle and a timer tick); the snapshot always
// reflects the most recently completed write per collection.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/rx1-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rx1-bridge/internal/rx1"
	"github.com/nerrad567/rx1-bridge/internal/rx1/fields"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// DeferredRefreshDelay is how long ScheduleRefresh waits before refreshing.
const DeferredRefreshDelay = time.Second

// DeviceClient is the subset of *rx1.Client the engine polls with.
type DeviceClient interface {
	Host() string
	Services(ctx context.Context) ([]rx1.Service, error)
	ServerStatus(ctx context.Context) (*rx1.ServerStatus, error)
	ServiceStatus(ctx context.Context, serviceID string) (*rx1.ServiceStatus, error)
}

// Host receives everything the engine publishes.
type Host interface {
	SetDefinitions(defs []fields.Definition)
	SetValues(values fields.Values)
	SetStatus(state snapshot.ConnectionState, message string)
	CheckFeedbacks()
}

// Telemetry receives numeric samples after each service fetch.
// *influxdb.Client satisfies it.
type Telemetry interface {
	WriteServiceCounts(deviceHost string, total, running, stopped, blocked int)
	WriteSourceStats(deviceHost, service, source string, stats map[string]any)
	WriteVideoStats(deviceHost, service string, stats map[string]any)
	WriteServiceUptime(deviceHost, service string, uptimeSec int64, blocked bool)
}

// Logger is the structured logger the engine writes to.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Settings are the runtime-adjustable polling parameters.
type Settings struct {
	Polling  bool
	Interval time.Duration
}

// SettingsFromConfig reads polling settings from the device section.
func SettingsFromConfig(cfg config.DeviceConfig) Settings {
	return Settings{Polling: cfg.Polling, Interval: cfg.PollIntervalDuration()}
}

// Validate checks the interval is within 1-60 seconds.
func (s Settings) Validate() error {
	if s.Interval < config.MinPollInterval*time.Second || s.Interval > config.MaxPollInterval*time.Second {
		return fmt.Errorf("%w: got %v", ErrInvalidInterval, s.Interval)
	}
	return nil
}

// Options configures a new Engine.
type Options struct {
	// Client polls the device. Required.
	Client DeviceClient

	// Host receives definitions, values, status and feedback checks. Required.
	Host Host

	// Snapshot is the store the engine owns. A new one is created if nil.
	Snapshot *snapshot.Writer

	Layout   fields.Layout
	Settings Settings

	// Clock defaults to RealClock.
	Clock Clock

	// Metrics, Telemetry and Logger are optional.
	Metrics   *Metrics
	Telemetry Telemetry
	Logger    Logger
}

// Engine owns the snapshot and runs refresh cycles.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	client    DeviceClient
	host      Host
	writer    *snapshot.Writer
	layout    fields.Layout
	clock     Clock
	metrics   *Metrics
	telemetry Telemetry
	logger    Logger

	projection atomic.Pointer[fields.Set]

	settings   Settings
	settingsMu sync.RWMutex

	deferred   Timer
	deferredMu sync.Mutex

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	lifeMu   sync.Mutex
	reloadCh chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New validates opts and creates an Engine. Nothing is fetched until
// Start or RefreshAll is called.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, ErrClientRequired
	}
	if opts.Host == nil {
		return nil, ErrHostRequired
	}
	if opts.Snapshot == nil {
		opts.Snapshot = snapshot.New()
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Layout == (fields.Layout{}) {
		opts.Layout = fields.DefaultLayout()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		client:    opts.Client,
		host:      opts.Host,
		writer:    opts.Snapshot,
		layout:    opts.Layout,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
		settings:  opts.Settings,
		ctx:       ctx,
		cancel:    cancel,
		reloadCh:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	e.projection.Store(fields.Project(e.writer.View(), e.layout))
	return e, nil
}

// Snapshot returns the read-only view of the engine's snapshot.
func (e *Engine) Snapshot() *snapshot.View {
	return e.writer.View()
}

// Definitions returns the current projected field set.
func (e *Engine) Definitions() *fields.Set {
	return e.projection.Load()
}

// Layout returns the field layout.
func (e *Engine) Layout() fields.Layout {
	return e.layout
}

// Settings returns the current polling settings.
func (e *Engine) Settings() Settings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings
}

// Start publishes the initial definitions and begins polling: one
// immediate refresh, then a refresh on every tick while polling is
// enabled. With no device host configured the status becomes bad_config
// and nothing is polled.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.started {
		return nil
	}

	e.setConnection(snapshot.Connecting, "")
	e.host.SetDefinitions(e.Definitions().Definitions())

	if e.client.Host() == "" {
		e.setConnection(snapshot.BadConfig, rx1.ErrHostRequired.Error())
		e.logError("RX1 IP address is required", rx1.ErrHostRequired)
		return nil
	}

	e.cancel()
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.started = true

	e.wg.Add(1)
	go e.run(e.ctx)

	settings := e.Settings()
	e.logInfo("Engine started",
		"host", e.client.Host(),
		"polling", settings.Polling,
		"interval", settings.Interval.String(),
	)
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	var ticker Ticker
	var tick <-chan time.Time
	reset := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if s := e.Settings(); s.Polling {
			ticker = e.clock.Ticker(s.Interval)
			tick = ticker.Chan()
		}
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	e.RefreshAll(ctx)
	reset()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-tick:
			e.spawnRefresh(ctx)
		case <-e.reloadCh:
			reset()
			s := e.Settings()
			e.logInfo("Polling reconfigured", "polling", s.Polling, "interval", s.Interval.String())
			e.spawnRefresh(ctx)
		}
	}
}

func (e *Engine) spawnRefresh(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.RefreshAll(ctx)
	}()
}

// Reconfigure swaps the polling settings. A running engine restarts its
// timer and refreshes immediately.
func (e *Engine) Reconfigure(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	e.settingsMu.Lock()
	e.settings = s
	e.settingsMu.Unlock()

	select {
	case e.reloadCh <- struct{}{}:
	default:
	}
	return nil
}

// ScheduleRefresh runs RefreshAll after DeferredRefreshDelay. Calls made
// while a refresh is already pending are coalesced into it.
func (e *Engine) ScheduleRefresh() {
	e.deferredMu.Lock()
	defer e.deferredMu.Unlock()

	if e.deferred != nil {
		return
	}
	select {
	case <-e.done:
		return
	default:
	}

	e.wg.Add(1)
	e.deferred = e.clock.AfterFunc(DeferredRefreshDelay, func() {
		defer e.wg.Done()

		e.deferredMu.Lock()
		e.deferred = nil
		e.deferredMu.Unlock()

		select {
		case <-e.done:
			return
		default:
		}
		e.RefreshAll(e.runContext())
	})
}

func (e *Engine) runContext() context.Context {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.ctx
}

// Stop ends polling, cancels a pending deferred refresh and waits for
// in-flight cycles, including a deferred refresh that already fired, to
// finish. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)

		e.deferredMu.Lock()
		if e.deferred != nil {
			if e.deferred.Stop() {
				e.wg.Done()
			}
			e.deferred = nil
		}
		e.deferredMu.Unlock()

		e.lifeMu.Lock()
		e.cancel()
		e.lifeMu.Unlock()

		e.wg.Wait()
		e.logInfo("Engine stopped")
	})
}

// logInfo logs an info message if logger is set.
func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (e *Engine) logError(msg string, err error) {
	if e.logger != nil {
		e.logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, keysAndValues...)
	}
}
