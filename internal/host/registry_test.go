package host_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/rx1-bridge/internal/host"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rx1-bridge/internal/rx1"
	"github.com/nerrad567/rx1-bridge/internal/rx1/condition"
	"github.com/nerrad567/rx1-bridge/internal/rx1/fields"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

type eventLog struct {
	mu     sync.Mutex
	events []host.Event
}

func (l *eventLog) HandleEvent(ev host.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t host.EventType) []host.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []host.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newRegistry(t *testing.T) (*host.Registry, *snapshot.Writer, *eventLog) {
	t.Helper()
	snap := snapshot.New()
	reg := host.NewRegistry(snap.View())
	log := &eventLog{}
	reg.AddListener(log)
	return reg, snap, log
}

var defs = []fields.Definition{
	{ID: "total_services", Name: "Total Services"},
	{ID: "running_services", Name: "Running Services"},
}

func TestSetDefinitions_ChangeDetection(t *testing.T) {
	reg, _, log := newRegistry(t)

	reg.SetDefinitions(defs)
	reg.SetDefinitions(append([]fields.Definition(nil), defs...))

	events := log.ofType(host.EventDefinitionsChanged)
	require.Len(t, events, 1)
	assert.Equal(t, defs, events[0].Definitions)
	assert.Equal(t, defs, reg.Definitions())
}

func TestSetDefinitions_ForgetsUndeclaredValues(t *testing.T) {
	reg, _, _ := newRegistry(t)
	reg.SetDefinitions(defs)
	reg.SetValues(fields.Values{"total_services": 3, "running_services": 2})

	reg.SetDefinitions(defs[:1])

	assert.Equal(t, fields.Values{"total_services": 3}, reg.Values())
	_, err := reg.Value("running_services")
	assert.ErrorIs(t, err, host.ErrVariableNotFound)
}

func TestSetValues_EmitsOnlyChanges(t *testing.T) {
	reg, _, log := newRegistry(t)
	reg.SetDefinitions(defs)

	reg.SetValues(fields.Values{"total_services": 3, "running_services": 2, "undeclared": "x"})
	reg.SetValues(fields.Values{"total_services": 3, "running_services": 1})
	reg.SetValues(fields.Values{"total_services": 3})

	events := log.ofType(host.EventVariablesChanged)
	require.Len(t, events, 2)
	assert.Equal(t, fields.Values{"total_services": 3, "running_services": 2}, events[0].Values)
	assert.Equal(t, fields.Values{"running_services": 1}, events[1].Values)

	v, err := reg.Value("running_services")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSetStatus(t *testing.T) {
	reg, _, log := newRegistry(t)
	assert.Equal(t, snapshot.Connecting, reg.Status().State)

	reg.SetStatus(snapshot.ConnectionFailure, "refused")
	reg.SetStatus(snapshot.ConnectionFailure, "refused")
	reg.SetStatus(snapshot.ConnectionFailure, "timeout")
	reg.SetStatus(snapshot.OK, "")

	events := log.ofType(host.EventConnectionChanged)
	require.Len(t, events, 3)
	assert.Equal(t, host.Status{State: snapshot.ConnectionFailure, Message: "timeout"}, events[1].Status)
	assert.Equal(t, host.Status{State: snapshot.OK}, reg.Status())
}

func TestWatchAndCheckFeedbacks(t *testing.T) {
	reg, snap, log := newRegistry(t)

	fb, err := reg.Watch("cam1-running", "service_state", json.RawMessage(`{"service":"content_processing/S1"}`))
	require.NoError(t, err)
	assert.False(t, fb.Result)
	assert.Equal(t, condition.KindServiceState, fb.Kind)

	snap.ReplaceServices([]rx1.Service{{ServiceID: "S1", ServiceName: "Cam 1", ServiceType: "content_processing", State: rx1.StateStarted}})
	reg.CheckFeedbacks()
	reg.CheckFeedbacks()

	events := log.ofType(host.EventFeedbacksChanged)
	require.Len(t, events, 2)
	assert.Equal(t, map[string]bool{"cam1-running": false}, events[0].Feedbacks)
	assert.Equal(t, map[string]bool{"cam1-running": true}, events[1].Feedbacks)

	got, err := reg.Feedback("cam1-running")
	require.NoError(t, err)
	assert.True(t, got.Result)
}

func TestWatch_Errors(t *testing.T) {
	reg, _, _ := newRegistry(t)

	_, err := reg.Watch("", "connection_status", nil)
	assert.ErrorIs(t, err, host.ErrWatchIDRequired)

	_, err = reg.Watch("x", "weather", nil)
	assert.ErrorIs(t, err, condition.ErrUnknownKind)

	assert.ErrorIs(t, reg.Unwatch("missing"), host.ErrWatchNotFound)
}

func TestUnwatch(t *testing.T) {
	reg, snap, log := newRegistry(t)
	_, err := reg.Watch("link", "connection_status", nil)
	require.NoError(t, err)

	require.NoError(t, reg.Unwatch("link"))
	snap.SetConnection(snapshot.OK)
	reg.CheckFeedbacks()

	assert.Len(t, log.ofType(host.EventFeedbacksChanged), 1)
	assert.Empty(t, reg.Feedbacks())
}

func TestLoadFeedbacks(t *testing.T) {
	reg, snap, _ := newRegistry(t)
	snap.SetConnection(snapshot.OK)

	err := reg.LoadFeedbacks([]config.FeedbackConfig{
		{ID: "link", Kind: "connection_status"},
		{ID: "cam2-blocked", Kind: "service_blocked", Options: map[string]any{"service_name": "Cam 2"}},
	})
	require.NoError(t, err)

	feedbacks := reg.Feedbacks()
	require.Len(t, feedbacks, 2)
	assert.Equal(t, "cam2-blocked", feedbacks[0].ID)
	assert.False(t, feedbacks[0].Result)
	assert.Equal(t, "link", feedbacks[1].ID)
	assert.True(t, feedbacks[1].Result)
}

func TestLoadFeedbacks_InvalidKind(t *testing.T) {
	reg, _, _ := newRegistry(t)

	err := reg.LoadFeedbacks([]config.FeedbackConfig{{ID: "bad", Kind: "nope"}})
	assert.ErrorIs(t, err, condition.ErrUnknownKind)
}

func TestListenerFunc(t *testing.T) {
	reg, _, _ := newRegistry(t)
	var got []host.EventType
	reg.AddListener(host.ListenerFunc(func(ev host.Event) { got = append(got, ev.Type) }))

	reg.SetStatus(snapshot.BadConfig, "device host is required")

	assert.Equal(t, []host.EventType{host.EventConnectionChanged}, got)
}

func TestSetValues_ListenersSeeCommitOrder(t *testing.T) {
	reg := host.NewRegistry(snapshot.New().View())
	reg.SetDefinitions([]fields.Definition{{ID: "x", Name: "X"}})

	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu        sync.Mutex
		published []any
		blocked   bool
	)
	reg.AddListener(host.ListenerFunc(func(ev host.Event) {
		if ev.Type != host.EventVariablesChanged {
			return
		}
		mu.Lock()
		first := !blocked
		blocked = true
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
		mu.Lock()
		published = append(published, ev.Values["x"])
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.SetValues(fields.Values{"x": 1})
	}()
	<-entered

	second := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.SetValues(fields.Values{"x": 2})
		close(second)
	}()

	select {
	case <-second:
		t.Fatal("second write completed while the first was still being dispatched")
	case <-time.After(50 * time.Millisecond):
	}
	v, err := reg.Value("x")
	require.NoError(t, err)
	assert.Equal(t, 1, v, "second write committed before the first was dispatched")

	close(release)
	wg.Wait()

	v, err = reg.Value("x")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{1, 2}, published)
}

func TestSetStatus_ListenersSeeCommitOrder(t *testing.T) {
	reg := host.NewRegistry(snapshot.New().View())

	var (
		mu   sync.Mutex
		seen []snapshot.ConnectionState
	)
	reg.AddListener(host.ListenerFunc(func(ev host.Event) {
		if ev.Type != host.EventConnectionChanged {
			return
		}
		mu.Lock()
		seen = append(seen, ev.Status.State)
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		state := snapshot.OK
		if i%2 == 1 {
			state = snapshot.ConnectionFailure
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.SetStatus(state, "")
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, reg.Status().State, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.NotEqual(t, seen[i-1], seen[i], "consecutive duplicate status at %d", i)
	}
}
