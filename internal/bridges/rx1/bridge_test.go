package rx1

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/rx1-bridge/internal/audit"
	"github.com/nerrad567/rx1-bridge/internal/host"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/rx1-bridge/internal/rx1/command"
	"github.com/nerrad567/rx1-bridge/internal/rx1/fields"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"

	receiver "github.com/nerrad567/rx1-bridge/internal/rx1"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]mqtt.MessageHandler
	connected bool
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []string
	for topic := range m.handlers {
		subs = append(subs, topic)
	}
	return subs
}

// SimulateMessage delivers payload to the handler whose pattern matches topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for pattern, h := range m.handlers {
		if matchTopic(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler == nil {
		return errors.New("no subscriber for " + topic)
	}
	return handler(topic, payload)
}

// PublishedTo returns every message published on topic.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func matchTopic(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "+" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}

// waitForPublish polls until a message appears on topic.
func waitForPublish(t *testing.T, m *MockMQTTClient, topic string) mockPublish {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := m.PublishedTo(topic); len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("nothing published on %s", topic)
	return mockPublish{}
}

// stubExecutor records commands and returns a canned result.
type stubExecutor struct {
	mu       sync.Mutex
	commands []command.Command
	result   command.Result
	err      error
}

func (s *stubExecutor) Execute(_ context.Context, cmd command.Command) (command.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	return s.result, s.err
}

func (s *stubExecutor) Commands() []command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]command.Command(nil), s.commands...)
}

type stubAudit struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (s *stubAudit) Record(e *audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *stubAudit) Entries() []*audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*audit.Entry(nil), s.entries...)
}

type testFixture struct {
	mqtt     *MockMQTTClient
	executor *stubExecutor
	audit    *stubAudit
	registry *host.Registry
	bridge   *Bridge
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	w := snapshot.New()
	w.ReplaceServices([]receiver.Service{
		{ServiceID: "7", ServiceName: "News", ServiceType: "content_processing", State: receiver.StateStarted},
		{ServiceID: "8", ServiceName: "Sport", ServiceType: "content_processing", State: receiver.StateStopped},
	})
	w.SetConnection(snapshot.OK)
	view := w.View()

	f := &testFixture{
		mqtt:     NewMockMQTTClient(),
		executor: &stubExecutor{},
		audit:    &stubAudit{},
		registry: host.NewRegistry(view),
	}
	f.registry.SetStatus(snapshot.OK, "")

	b, err := NewBridge(Options{
		BridgeID:   "test",
		Version:    "1.0.0",
		MQTTClient: f.mqtt,
		Executor:   f.executor,
		Host:       f.registry,
		Reader:     view,
		Audit:      f.audit,
	})
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}
	f.bridge = b
	return f
}

func (f *testFixture) start(t *testing.T) {
	t.Helper()
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(f.bridge.Stop)
}

func TestNewBridgeRequiresCollaborators(t *testing.T) {
	view := snapshot.New().View()
	reg := host.NewRegistry(view)

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"missing mqtt", Options{Executor: &stubExecutor{}, Host: reg, Reader: view}, ErrMQTTRequired},
		{"missing executor", Options{MQTTClient: NewMockMQTTClient(), Host: reg, Reader: view}, ErrExecutorRequired},
		{"missing host", Options{MQTTClient: NewMockMQTTClient(), Executor: &stubExecutor{}, Reader: view}, ErrHostRequired},
		{"missing reader", Options{MQTTClient: NewMockMQTTClient(), Executor: &stubExecutor{}, Host: reg}, ErrHostRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBridge(tt.opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewBridge() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewBridgeDefaultsID(t *testing.T) {
	view := snapshot.New().View()
	b, err := NewBridge(Options{
		MQTTClient: NewMockMQTTClient(),
		Executor:   &stubExecutor{},
		Host:       host.NewRegistry(view),
		Reader:     view,
	})
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}
	if b.ID() != "rx1" {
		t.Errorf("ID() = %q, want rx1", b.ID())
	}
}

func TestBridgeStartSubscribesAndPublishesStatus(t *testing.T) {
	f := newTestFixture(t)
	f.start(t)

	subs := f.mqtt.Subscriptions()
	if len(subs) != 2 {
		t.Fatalf("subscriptions = %v, want 2", subs)
	}

	status := waitForPublish(t, f.mqtt, "rx1bridge/status/test")
	if !status.Retained {
		t.Error("status should be retained")
	}
	var msg StatusMessage
	if err := json.Unmarshal(status.Payload, &msg); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if msg.State != snapshot.OK {
		t.Errorf("status state = %q, want ok", msg.State)
	}

	health := f.mqtt.PublishedTo("rx1bridge/health/test")
	if len(health) < 2 {
		t.Fatalf("health messages = %d, want starting and healthy", len(health))
	}
	var last HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if last.Status != HealthHealthy {
		t.Errorf("health status = %q, want healthy", last.Status)
	}
}

func TestBridgeStopPublishesStopping(t *testing.T) {
	f := newTestFixture(t)
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	f.bridge.Stop()
	f.bridge.Stop()

	health := f.mqtt.PublishedTo("rx1bridge/health/test")
	var last HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("final health = %q, want stopping", last.Status)
	}
}

func TestBridgeCommandAccepted(t *testing.T) {
	f := newTestFixture(t)
	f.executor.result = command.Result{Kind: command.KindStartService, Service: "content_processing/7", Issued: 1}
	f.start(t)

	payload := []byte(`{"id":"cmd-1","options":{"service":"content_processing/7"},"source":"panel"}`)
	if err := f.mqtt.SimulateMessage("rx1bridge/command/test/start_service", payload); err != nil {
		t.Fatalf("SimulateMessage() error: %v", err)
	}

	pub := waitForPublish(t, f.mqtt, "rx1bridge/ack/test/start_service")
	var ack AckMessage
	if err := json.Unmarshal(pub.Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.CommandID != "cmd-1" || ack.Status != AckAccepted {
		t.Errorf("ack = %+v, want accepted cmd-1", ack)
	}

	cmds := f.executor.Commands()
	if len(cmds) != 1 {
		t.Fatalf("executed %d commands, want 1", len(cmds))
	}
	want := command.StartService{Service: command.ServiceRef{Type: "content_processing", ID: "7"}}
	if cmds[0] != want {
		t.Errorf("command = %#v, want %#v", cmds[0], want)
	}

	entries := f.audit.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Source != audit.SourceMQTT {
		t.Errorf("audit source = %q, want mqtt", entries[0].Source)
	}
}

func TestBridgeCommandFailures(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		payload  string
		execErr  error
		wantCode string
	}{
		{"malformed payload", "start_service", `{not json`, nil, ErrCodeInvalidPayload},
		{"unknown kind", "reboot", `{"id":"x"}`, nil, ErrCodeInvalidCommand},
		{"bad service ref", "start_service", `{"id":"x","options":{"service":"nope"}}`, nil, ErrCodeInvalidParameters},
		{"service not found", "toggle_service", `{"id":"x","options":{"service":"content_processing/99"}}`, command.ErrServiceNotFound, ErrCodeNotFound},
		{"device down", "refresh_services", `{"id":"x"}`, receiver.ErrRequestFailed, ErrCodeDeviceUnreachable},
		{"device error", "refresh_services", `{"id":"x"}`, &receiver.StatusError{StatusCode: 500}, ErrCodeDeviceError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFixture(t)
			f.executor.err = tt.execErr
			f.start(t)

			if err := f.mqtt.SimulateMessage("rx1bridge/command/test/"+tt.kind, []byte(tt.payload)); err != nil {
				t.Fatalf("SimulateMessage() error: %v", err)
			}

			pub := waitForPublish(t, f.mqtt, "rx1bridge/ack/test/"+tt.kind)
			var ack AckMessage
			if err := json.Unmarshal(pub.Payload, &ack); err != nil {
				t.Fatalf("unmarshal ack: %v", err)
			}
			if ack.Status != AckFailed {
				t.Errorf("ack status = %q, want failed", ack.Status)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack error = %+v, want code %s", ack.Error, tt.wantCode)
			}
			if got := f.bridge.Statistics().CommandsFailed; got != 1 {
				t.Errorf("CommandsFailed = %d, want 1", got)
			}
		})
	}
}

func TestBridgeRequestEvaluateCondition(t *testing.T) {
	f := newTestFixture(t)
	f.start(t)

	payload := []byte(`{"action":"evaluate_condition","condition":{"kind":"service_state","options":{"service":"content_processing/7","state":"started"}}}`)
	if err := f.mqtt.SimulateMessage("rx1bridge/request/test/req-1", payload); err != nil {
		t.Fatalf("SimulateMessage() error: %v", err)
	}

	pub := waitForPublish(t, f.mqtt, "rx1bridge/response/test/req-1")
	var resp ResponseMessage
	if err := json.Unmarshal(pub.Payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("response failed: %+v", resp.Error)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1 from topic", resp.RequestID)
	}
	if resp.Data["result"] != true {
		t.Errorf("result = %v, want true", resp.Data["result"])
	}
}

func TestBridgeRequestErrors(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantCode string
	}{
		{"malformed", `{`, ErrCodeInvalidPayload},
		{"unknown action", `{"action":"reboot"}`, ErrCodeInvalidCommand},
		{"missing condition", `{"action":"evaluate_condition"}`, ErrCodeInvalidParameters},
		{"unknown condition", `{"action":"evaluate_condition","condition":{"kind":"weather"}}`, ErrCodeInvalidCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFixture(t)
			f.start(t)

			if err := f.mqtt.SimulateMessage("rx1bridge/request/test/r", []byte(tt.payload)); err != nil {
				t.Fatalf("SimulateMessage() error: %v", err)
			}
			pub := waitForPublish(t, f.mqtt, "rx1bridge/response/test/r")
			var resp ResponseMessage
			if err := json.Unmarshal(pub.Payload, &resp); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if resp.Success {
				t.Fatal("expected failure")
			}
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestBridgeRequestGetServices(t *testing.T) {
	f := newTestFixture(t)
	f.start(t)

	if err := f.mqtt.SimulateMessage("rx1bridge/request/test/s", []byte(`{"request_id":"mine","action":"get_services"}`)); err != nil {
		t.Fatalf("SimulateMessage() error: %v", err)
	}
	pub := waitForPublish(t, f.mqtt, "rx1bridge/response/test/s")
	var resp struct {
		RequestID string `json:"request_id"`
		Data      struct {
			Services   []receiver.Service `json:"services"`
			Connection string             `json:"connection"`
		} `json:"data"`
	}
	if err := json.Unmarshal(pub.Payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.RequestID != "mine" {
		t.Errorf("RequestID = %q, want mine", resp.RequestID)
	}
	if len(resp.Data.Services) != 2 {
		t.Errorf("services = %d, want 2", len(resp.Data.Services))
	}
	if resp.Data.Connection != "ok" {
		t.Errorf("connection = %q, want ok", resp.Data.Connection)
	}
}

func TestBridgeHandleEventPublishesRetained(t *testing.T) {
	f := newTestFixture(t)
	f.start(t)

	f.bridge.HandleEvent(host.Event{
		Type:   host.EventVariablesChanged,
		Values: fields.Values{"service_count": 2},
	})
	f.bridge.HandleEvent(host.Event{
		Type:      host.EventFeedbacksChanged,
		Feedbacks: map[string]bool{"news-up": true},
	})
	f.bridge.HandleEvent(host.Event{
		Type:   host.EventConnectionChanged,
		Status: host.Status{State: snapshot.ConnectionFailure, Message: "timeout"},
	})

	v := waitForPublish(t, f.mqtt, "rx1bridge/variable/test/service_count")
	if !v.Retained {
		t.Error("variable should be retained")
	}
	var vm VariableMessage
	if err := json.Unmarshal(v.Payload, &vm); err != nil {
		t.Fatalf("unmarshal variable: %v", err)
	}
	if vm.Field != "service_count" || vm.Value != float64(2) {
		t.Errorf("variable = %+v", vm)
	}

	fb := waitForPublish(t, f.mqtt, "rx1bridge/feedback/test/news-up")
	var fm FeedbackMessage
	if err := json.Unmarshal(fb.Payload, &fm); err != nil {
		t.Fatalf("unmarshal feedback: %v", err)
	}
	if !fm.Result {
		t.Error("feedback result = false, want true")
	}

	st := waitForPublish(t, f.mqtt, "rx1bridge/status/test")
	var sm StatusMessage
	if err := json.Unmarshal(st.Payload, &sm); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if sm.State != snapshot.ConnectionFailure || sm.Message != "timeout" {
		t.Errorf("status = %+v", sm)
	}

	if got := f.bridge.Statistics().VariablesPublished; got != 1 {
		t.Errorf("VariablesPublished = %d, want 1", got)
	}
}

func TestBridgeInvalidTopic(t *testing.T) {
	f := newTestFixture(t)
	if err := f.bridge.handleMQTTMessage("rx1bridge/command", nil); err == nil {
		t.Error("expected error for short topic")
	}
	if err := f.bridge.handleMQTTMessage("rx1bridge/bogus/test/x", nil); err == nil {
		t.Error("expected error for unknown category")
	}
}
