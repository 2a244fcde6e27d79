package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/rx1-bridge/internal/rx1"
	"github.com/nerrad567/rx1-bridge/internal/rx1/engine"
	"github.com/nerrad567/rx1-bridge/internal/rx1/fields"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// mockDevice is a testify mock of the device client.
type mockDevice struct {
	mock.Mock
	host          string
	servicesCalls atomic.Int32
}

func (m *mockDevice) Host() string { return m.host }

func (m *mockDevice) Services(ctx context.Context) ([]rx1.Service, error) {
	m.servicesCalls.Add(1)
	args := m.Called(ctx)
	services, _ := args.Get(0).([]rx1.Service)
	return services, args.Error(1)
}

func (m *mockDevice) ServerStatus(ctx context.Context) (*rx1.ServerStatus, error) {
	args := m.Called(ctx)
	status, _ := args.Get(0).(*rx1.ServerStatus)
	return status, args.Error(1)
}

func (m *mockDevice) ServiceStatus(ctx context.Context, id string) (*rx1.ServiceStatus, error) {
	args := m.Called(ctx, id)
	status, _ := args.Get(0).(*rx1.ServiceStatus)
	return status, args.Error(1)
}

type hostEvent struct {
	kind   string
	values fields.Values
	state  snapshot.ConnectionState
}

// recordingHost records every call in order. Definitions are kept as a
// set so value pushes can be checked against the latest one.
type recordingHost struct {
	mu     sync.Mutex
	events []hostEvent
	latest map[string]bool
	undecl []string
	checks int
}

func (h *recordingHost) SetDefinitions(defs []fields.Definition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = make(map[string]bool, len(defs))
	for _, d := range defs {
		h.latest[d.ID] = true
	}
	h.events = append(h.events, hostEvent{kind: "definitions"})
}

func (h *recordingHost) SetValues(values fields.Values) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range values {
		if !h.latest[id] {
			h.undecl = append(h.undecl, id)
		}
	}
	h.events = append(h.events, hostEvent{kind: "values", values: values})
}

func (h *recordingHost) SetStatus(state snapshot.ConnectionState, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hostEvent{kind: "status", state: state})
}

func (h *recordingHost) CheckFeedbacks() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks++
	h.events = append(h.events, hostEvent{kind: "feedbacks"})
}

func (h *recordingHost) merged() fields.Values {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := fields.Values{}
	for _, ev := range h.events {
		if ev.kind == "values" {
			all.Merge(ev.values)
		}
	}
	return all
}

func (h *recordingHost) statuses() []snapshot.ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []snapshot.ConnectionState
	for _, ev := range h.events {
		if ev.kind == "status" {
			out = append(out, ev.state)
		}
	}
	return out
}

func (h *recordingHost) feedbackChecks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.checks
}

// fakeClock hands out manually driven tickers and timers.
type fakeClock struct {
	mu        sync.Mutex
	tickers   []*fakeTicker
	intervals []time.Duration
	pending   []*fakeTimer
	timers    int
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()                  { t.stopped.Store(true) }

// fakeTimer runs f once when fired unless stopped first. Stop reports
// whether it prevented the call, as time.Timer.Stop does.
type fakeTimer struct {
	f     func()
	state atomic.Int32 // 0 pending, 1 fired, 2 stopped
}

func (t *fakeTimer) Stop() bool { return t.state.CompareAndSwap(0, 2) }

func (t *fakeTimer) fire() {
	if t.state.CompareAndSwap(0, 1) {
		t.f()
	}
}

func (c *fakeClock) Now() time.Time { return time.Unix(1_700_000_000, 0) }

func (c *fakeClock) Ticker(d time.Duration) engine.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	c.intervals = append(c.intervals, d)
	return t
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) engine.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers++
	t := &fakeTimer{f: f}
	c.pending = append(c.pending, t)
	return t
}

func (c *fakeClock) fire() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, t := range pending {
		t.fire()
	}
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func threeServices() []rx1.Service {
	return []rx1.Service{
		{ServiceID: "S1", ServiceName: "Cam 1", ServiceType: "content_processing", State: rx1.StateStarted},
		{ServiceID: "S2", ServiceName: "Cam 2", ServiceType: "content_processing", State: rx1.StateStarted},
		{ServiceID: "S3", ServiceName: "Cam 3", ServiceType: "content_processing", State: rx1.StateStopped},
	}
}

func runningStatus(bitrate float64) *rx1.ServiceStatus {
	idx := rx1.Count(0)
	return &rx1.ServiceStatus{
		RunningState: "running",
		Inputs: &rx1.Inputs{
			ActiveSourceIndex: &idx,
			Sources:           []rx1.Source{{Type: "asi", Receiving: true, BitRate: &bitrate}},
		},
	}
}

type fixture struct {
	device *mockDevice
	host   *recordingHost
	clock  *fakeClock
	engine *engine.Engine
}

func newFixture(t *testing.T, host string) *fixture {
	t.Helper()
	f := &fixture{
		device: &mockDevice{host: host},
		host:   &recordingHost{},
		clock:  &fakeClock{},
	}
	e, err := engine.New(engine.Options{
		Client:   f.device,
		Host:     f.host,
		Clock:    f.clock,
		Layout:   fields.DefaultLayout(),
		Settings: engine.Settings{Polling: true, Interval: 5 * time.Second},
	})
	require.NoError(t, err)
	f.engine = e
	t.Cleanup(e.Stop)
	return f
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := engine.New(engine.Options{Host: &recordingHost{}})
	assert.ErrorIs(t, err, engine.ErrClientRequired)

	_, err = engine.New(engine.Options{Client: &mockDevice{}})
	assert.ErrorIs(t, err, engine.ErrHostRequired)
}

func TestRefreshAll_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	f.device.On("Services", mock.Anything).Return(threeServices(), nil)
	f.device.On("ServerStatus", mock.Anything).Return(nil, errors.New("server down"))
	f.device.On("ServiceStatus", mock.Anything, "S1").Return(runningStatus(15_000_000), nil)
	f.device.On("ServiceStatus", mock.Anything, "S2").Return(nil, &rx1.StatusError{StatusCode: 500, Body: "boom"})
	f.device.On("ServiceStatus", mock.Anything, "S3").Return(runningStatus(2_500_000), nil)

	f.engine.RefreshAll(context.Background())

	vals := f.host.merged()
	assert.Equal(t, "15.00 Mbps", vals["service_Cam_1_primary_bitrate"])
	assert.Equal(t, "running", vals["service_Cam_1_running_state"])
	assert.Equal(t, "2.50 Mbps", vals["service_Cam_3_primary_bitrate"])

	assert.Equal(t, "offline", vals["service_Cam_2_running_state"])
	assert.Equal(t, "No Data", vals["service_Cam_2_primary_bitrate"])
	assert.Equal(t, "No", vals["service_Cam_2_secondary_receiving"])

	status, ok := f.engine.Snapshot().ServiceStatus("Cam 2")
	require.True(t, ok)
	assert.Equal(t, rx1.RunningStateOffline, status.RunningState)

	assert.Equal(t, 3, vals[fields.FieldTotalServices])
	assert.Equal(t, 2, vals[fields.FieldRunningServices])
	assert.Equal(t, 0, vals[fields.FieldBlockedServices])
	f.device.AssertNumberOfCalls(t, "ServiceStatus", 3)
}

func TestRefreshAll_ServiceListFailureEndsCycle(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	f.device.On("Services", mock.Anything).Return(nil, rx1.ErrRequestFailed)

	f.engine.RefreshAll(context.Background())

	assert.Equal(t, snapshot.ConnectionFailure, f.engine.Snapshot().Connection())
	assert.Equal(t, []snapshot.ConnectionState{snapshot.ConnectionFailure}, f.host.statuses())
	assert.Equal(t, 1, f.host.feedbackChecks())
	f.device.AssertNotCalled(t, "ServerStatus", mock.Anything)
	f.device.AssertNotCalled(t, "ServiceStatus", mock.Anything, mock.Anything)
}

func TestRefreshAll_DefinitionsPrecedeValues(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	f.device.On("Services", mock.Anything).Return(threeServices(), nil)
	f.device.On("ServerStatus", mock.Anything).Return(&rx1.ServerStatus{
		SDIPorts: []rx1.SDIPort{{Type: "3G", ServiceName: "Cam 1"}},
	}, nil)
	f.device.On("ServiceStatus", mock.Anything, mock.Anything).Return(runningStatus(1_000_000), nil)

	f.engine.RefreshAll(context.Background())

	f.host.mu.Lock()
	defer f.host.mu.Unlock()
	assert.Empty(t, f.host.undecl, "values pushed before their definitions")
	require.NotEmpty(t, f.host.events)
	for _, ev := range f.host.events {
		if ev.kind == "values" {
			t.Fatal("values pushed before any definitions")
		}
		if ev.kind == "definitions" {
			break
		}
	}
	assert.Equal(t, "feedbacks", f.host.events[len(f.host.events)-1].kind)
}

func TestRefreshAll_ServerFailureKeepsPreviousStatus(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	f.device.On("Services", mock.Anything).Return(threeServices()[:1], nil)
	f.device.On("ServiceStatus", mock.Anything, "S1").Return(runningStatus(1), nil)
	f.device.On("ServerStatus", mock.Anything).Return(&rx1.ServerStatus{Version: "4.2"}, nil).Once()
	f.device.On("ServerStatus", mock.Anything).Return(nil, errors.New("timeout"))

	f.engine.RefreshAll(context.Background())
	f.engine.RefreshAll(context.Background())

	require.NotNil(t, f.engine.Snapshot().ServerStatus())
	assert.Equal(t, "4.2", f.engine.Snapshot().ServerStatus().Version)
	assert.Equal(t, "4.2", f.host.merged()["server_version"])
}

func TestRefreshAll_MergesEmbeddedStatusesByID(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	services := threeServices()[:2]
	f.device.On("Services", mock.Anything).Return(services, nil)
	f.device.On("ServerStatus", mock.Anything).Return(&rx1.ServerStatus{
		Services: []rx1.ServiceStatus{
			{ID: "S2", RunningState: "running_blocked"},
			{ID: "unknown", RunningState: "running"},
		},
	}, nil)
	f.device.On("ServiceStatus", mock.Anything, "S1").Return(runningStatus(1), nil)
	f.device.On("ServiceStatus", mock.Anything, "S2").Return(&rx1.ServiceStatus{RunningState: "blocked"}, nil)

	f.engine.RefreshAll(context.Background())

	assert.Equal(t, 1, f.host.merged()[fields.FieldBlockedServices])
	assert.Equal(t, 2, f.engine.Snapshot().ServiceStatusCount())
}

func TestRefreshAll_EmptyIDFallsBackToName(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	f.device.On("Services", mock.Anything).Return([]rx1.Service{{ServiceName: "Legacy"}}, nil)
	f.device.On("ServerStatus", mock.Anything).Return(nil, errors.New("no"))
	f.device.On("ServiceStatus", mock.Anything, "Legacy").Return(runningStatus(1), nil)

	f.engine.RefreshAll(context.Background())

	f.device.AssertCalled(t, "ServiceStatus", mock.Anything, "Legacy")
}

func TestRefreshAll_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	device := &mockDevice{host: "10.0.0.5"}
	device.On("Services", mock.Anything).Return(nil, errors.New("refused")).Once()
	device.On("Services", mock.Anything).Return(threeServices()[:1], nil)
	device.On("ServerStatus", mock.Anything).Return(&rx1.ServerStatus{}, nil)
	device.On("ServiceStatus", mock.Anything, "S1").Return(nil, errors.New("gone"))

	e, err := engine.New(engine.Options{Client: device, Host: &recordingHost{}, Clock: &fakeClock{}, Metrics: metrics})
	require.NoError(t, err)

	e.RefreshAll(context.Background())
	e.RefreshAll(context.Background())

	count, err := testutil.GatherAndCount(reg, "rx1bridge_refresh_cycles_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err := testutil.GatherAndCount(reg, "rx1bridge_fetch_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStart_BadConfig(t *testing.T) {
	f := newFixture(t, "")

	require.NoError(t, f.engine.Start(context.Background()))

	assert.Equal(t, snapshot.BadConfig, f.engine.Snapshot().Connection())
	assert.Contains(t, f.host.statuses(), snapshot.BadConfig)
	assert.Equal(t, 0, f.clock.tickerCount())
	f.device.AssertNotCalled(t, "Services", mock.Anything)
}

func TestStart_PollsOnTick(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	f.device.On("Services", mock.Anything).Return([]rx1.Service{}, nil)
	f.device.On("ServerStatus", mock.Anything).Return(&rx1.ServerStatus{}, nil)

	require.NoError(t, f.engine.Start(context.Background()))

	require.Eventually(t, func() bool { return f.clock.tickerCount() == 1 }, time.Second, 5*time.Millisecond)
	f.clock.mu.Lock()
	assert.Equal(t, 5*time.Second, f.clock.intervals[0])
	ticker := f.clock.tickers[0]
	f.clock.mu.Unlock()

	ticker.ch <- time.Now()
	assert.Eventually(t, func() bool {
		return f.device.servicesCalls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestReconfigure(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	f.device.On("Services", mock.Anything).Return([]rx1.Service{}, nil)
	f.device.On("ServerStatus", mock.Anything).Return(&rx1.ServerStatus{}, nil)

	assert.ErrorIs(t, f.engine.Reconfigure(engine.Settings{Polling: true, Interval: 0}), engine.ErrInvalidInterval)
	assert.ErrorIs(t, f.engine.Reconfigure(engine.Settings{Polling: true, Interval: 61 * time.Second}), engine.ErrInvalidInterval)

	require.NoError(t, f.engine.Start(context.Background()))
	require.Eventually(t, func() bool { return f.clock.tickerCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.engine.Reconfigure(engine.Settings{Polling: true, Interval: 10 * time.Second}))

	require.Eventually(t, func() bool { return f.clock.tickerCount() == 2 }, time.Second, 5*time.Millisecond)
	f.clock.mu.Lock()
	assert.Equal(t, 10*time.Second, f.clock.intervals[1])
	assert.True(t, f.clock.tickers[0].stopped.Load())
	f.clock.mu.Unlock()
	assert.Equal(t, 10*time.Second, f.engine.Settings().Interval)
	assert.Eventually(t, func() bool { return f.device.servicesCalls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduleRefresh_Coalesces(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	f.device.On("Services", mock.Anything).Return([]rx1.Service{}, nil)
	f.device.On("ServerStatus", mock.Anything).Return(&rx1.ServerStatus{}, nil)

	f.engine.ScheduleRefresh()
	f.engine.ScheduleRefresh()
	f.engine.ScheduleRefresh()

	f.clock.mu.Lock()
	assert.Equal(t, 1, f.clock.timers)
	f.clock.mu.Unlock()

	f.clock.fire()
	f.device.AssertNumberOfCalls(t, "Services", 1)

	f.engine.ScheduleRefresh()
	f.clock.mu.Lock()
	assert.Equal(t, 2, f.clock.timers)
	f.clock.mu.Unlock()
}

func TestScheduleRefresh_AfterStopIsIgnored(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	f.engine.Stop()

	f.engine.ScheduleRefresh()
	f.clock.fire()

	f.device.AssertNotCalled(t, "Services", mock.Anything)
}

func TestScheduleRefresh_StopWaitsForFiredRefresh(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	entered := make(chan struct{})
	release := make(chan struct{})
	f.device.On("Services", mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(nil, errors.New("refused"))

	f.engine.ScheduleRefresh()
	go f.clock.fire()
	<-entered

	stopped := make(chan struct{})
	go func() {
		f.engine.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the deferred refresh was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the deferred refresh finished")
	}
	assert.Equal(t, []snapshot.ConnectionState{snapshot.ConnectionFailure}, f.host.statuses())
}

func TestScheduleRefresh_StoppedBeforeFiring(t *testing.T) {
	f := newFixture(t, "10.0.0.5")

	f.engine.ScheduleRefresh()
	f.engine.Stop()
	f.clock.fire()

	f.device.AssertNotCalled(t, "Services", mock.Anything)
}

func TestRefreshAll_KeepsBadConfig(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.engine.Start(context.Background()))

	f.engine.RefreshAll(context.Background())
	f.engine.ScheduleRefresh()
	f.clock.fire()

	assert.Equal(t, snapshot.BadConfig, f.engine.Snapshot().Connection())
	assert.NotContains(t, f.host.statuses(), snapshot.ConnectionFailure)
	assert.Equal(t, snapshot.BadConfig, f.host.statuses()[len(f.host.statuses())-1])
	f.device.AssertNotCalled(t, "Services", mock.Anything)
}

func TestRefreshService(t *testing.T) {
	f := newFixture(t, "10.0.0.5")
	f.device.On("Services", mock.Anything).Return(threeServices(), nil)
	f.device.On("ServerStatus", mock.Anything).Return(nil, errors.New("no"))
	f.device.On("ServiceStatus", mock.Anything, mock.Anything).Return(runningStatus(1), nil).Times(3)
	f.device.On("ServiceStatus", mock.Anything, "S2").Return(nil, errors.New("gone"))

	f.engine.RefreshAll(context.Background())
	checks := f.host.feedbackChecks()

	err := f.engine.RefreshService(context.Background(), "content_processing", "S2")
	require.Error(t, err)
	assert.Equal(t, "offline", f.host.merged()["service_Cam_2_running_state"])
	assert.Equal(t, checks+1, f.host.feedbackChecks())

	err = f.engine.RefreshService(context.Background(), "content_processing", "nope")
	assert.ErrorIs(t, err, engine.ErrServiceNotListed)
}

type recordingTelemetry struct {
	mu      sync.Mutex
	sources []string
	videos  int
	uptimes int
	counts  []int
}

func (r *recordingTelemetry) WriteServiceCounts(_ string, total, running, stopped, blocked int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = []int{total, running, stopped, blocked}
}

func (r *recordingTelemetry) WriteSourceStats(_, service, source string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, service+"/"+source)
}

func (r *recordingTelemetry) WriteVideoStats(string, string, map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos++
}

func (r *recordingTelemetry) WriteServiceUptime(string, string, int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uptimes++
}

func TestRefreshAll_Telemetry(t *testing.T) {
	device := &mockDevice{host: "10.0.0.5"}
	device.On("Services", mock.Anything).Return(threeServices()[:1], nil)
	device.On("ServerStatus", mock.Anything).Return(nil, errors.New("no"))
	device.On("ServiceStatus", mock.Anything, "S1").Return(runningStatus(5_000_000), nil)

	telemetry := &recordingTelemetry{}
	e, err := engine.New(engine.Options{Client: device, Host: &recordingHost{}, Clock: &fakeClock{}, Telemetry: telemetry})
	require.NoError(t, err)

	e.RefreshAll(context.Background())

	assert.Equal(t, []string{"Cam 1/primary"}, telemetry.sources)
	assert.Equal(t, 0, telemetry.videos)
	assert.Equal(t, 1, telemetry.uptimes)
	assert.Equal(t, []int{1, 1, 0, 0}, telemetry.counts)
}
