package host

import (
	"github.com/nerrad567/rx1-bridge/internal/rx1/fields"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// EventType names a registry change. The values double as WebSocket
// channel names.
type EventType string

// Event types.
const (
	EventVariablesChanged   EventType = "variables.changed"
	EventDefinitionsChanged EventType = "definitions.changed"
	EventConnectionChanged  EventType = "connection.changed"
	EventFeedbacksChanged   EventType = "feedbacks.changed"
)

// Status is the device connection status as last reported by the engine.
type Status struct {
	State   snapshot.ConnectionState `json:"state"`
	Message string                   `json:"message,omitempty"`
}

// Event carries one change. Only the payload matching Type is set.
type Event struct {
	Type        EventType
	Values      fields.Values
	Definitions []fields.Definition
	Status      Status
	Feedbacks   map[string]bool
}

// Listener receives registry events.
type Listener interface {
	HandleEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

// HandleEvent calls f(ev).
func (f ListenerFunc) HandleEvent(ev Event) {
	f(ev)
}
