package rx1

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/rx1-bridge/internal/host"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// mockPublisher implements HealthPublisher for testing.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []mockPublish
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{connected: connected}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) getMessages() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]mockPublish, len(m.messages))
	copy(result, m.messages)
	return result
}

type fixedStatus host.Status

func (s fixedStatus) Status() host.Status { return host.Status(s) }

func lastHealth(t *testing.T, pub *mockPublisher) HealthMessage {
	t.Helper()
	msgs := pub.getMessages()
	if len(msgs) == 0 {
		t.Fatal("no health messages published")
	}
	var msg HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	return msg
}

func TestHealthReporterDefaultsInterval(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "rx1"})
	if h.cfg.Interval != defaultHealthInterval {
		t.Errorf("Interval = %v, want %v", h.cfg.Interval, defaultHealthInterval)
	}
}

func TestHealthReporterDetermineStatus(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		device    snapshot.ConnectionState
		want      HealthStatus
	}{
		{"all up", true, snapshot.OK, HealthHealthy},
		{"mqtt down", false, snapshot.OK, HealthDegraded},
		{"device failing", true, snapshot.ConnectionFailure, HealthDegraded},
		{"device connecting", true, snapshot.Connecting, HealthDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newMockPublisher(tt.connected)
			h := NewHealthReporter(HealthReporterConfig{
				BridgeID:  "rx1",
				Publisher: pub,
				Device:    fixedStatus{State: tt.device},
			})
			if err := h.PublishNow(); err != nil {
				t.Fatalf("PublishNow() error: %v", err)
			}
			msg := lastHealth(t, pub)
			if msg.Status != tt.want {
				t.Errorf("status = %q, want %q (reason %q)", msg.Status, tt.want, msg.Reason)
			}
			if msg.Device == nil || msg.Device.State != tt.device {
				t.Errorf("device = %+v, want state %q", msg.Device, tt.device)
			}
		})
	}
}

func TestHealthReporterIncludesStatistics(t *testing.T) {
	pub := newMockPublisher(true)
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "rx1",
		Version:   "2.1.0",
		Publisher: pub,
		Stats: func() BridgeStatistics {
			return BridgeStatistics{CommandsReceived: 4, CommandsFailed: 1}
		},
	})
	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error: %v", err)
	}

	msgs := pub.getMessages()
	if msgs[0].Topic != "rx1bridge/health/rx1" || !msgs[0].Retained || msgs[0].QoS != 1 {
		t.Errorf("published %s qos=%d retained=%v", msgs[0].Topic, msgs[0].QoS, msgs[0].Retained)
	}
	msg := lastHealth(t, pub)
	if msg.Status != HealthStarting || msg.Version != "2.1.0" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Statistics == nil || msg.Statistics.CommandsReceived != 4 {
		t.Errorf("statistics = %+v", msg.Statistics)
	}
}

func TestHealthReporterPeriodicAndStop(t *testing.T) {
	pub := newMockPublisher(true)
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "rx1",
		Interval:  10 * time.Millisecond,
		Publisher: pub,
	})
	h.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.getMessages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(pub.getMessages()) < 2 {
		t.Fatal("expected periodic health messages")
	}

	h.Stop()
	h.Stop()
	if msg := lastHealth(t, pub); msg.Status != HealthStopping {
		t.Errorf("final status = %q, want stopping", msg.Status)
	}
}

func TestHealthReporterLWTPayload(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "rx1"})
	payload, err := h.LWTPayload()
	if err != nil {
		t.Fatalf("LWTPayload() error: %v", err)
	}
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthOffline || msg.Bridge != "rx1" || msg.Reason != "unexpected_disconnect" {
		t.Errorf("LWT = %+v", msg)
	}
}
