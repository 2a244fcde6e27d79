package rx1

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/rx1-bridge/internal/host"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// CommandMessage is received on rx1bridge/command/{bridge}/{kind}.
// The kind comes from the topic.
type CommandMessage struct {
	// ID correlates the command with its ack.
	ID string `json:"id"`

	// Timestamp is when the command was issued.
	Timestamp time.Time `json:"timestamp"`

	// Options are the kind-specific command options.
	Options json.RawMessage `json:"options,omitempty"`

	// Source says where the command originated (e.g. "panel", "automation").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command ran to completion.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is published on rx1bridge/ack/{bridge}/{kind}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
	Result    any       `json:"result,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Request actions.
const (
	ActionEvaluateCondition = "evaluate_condition"
	ActionGetVariables      = "get_variables"
	ActionGetDefinitions    = "get_definitions"
	ActionGetServices       = "get_services"
)

// RequestMessage is received on rx1bridge/request/{bridge}/{request_id}.
type RequestMessage struct {
	// RequestID defaults to the last topic segment.
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`

	// Condition is required by evaluate_condition.
	Condition *ConditionRequest `json:"condition,omitempty"`
}

// ConditionRequest names a condition to evaluate once.
type ConditionRequest struct {
	Kind    string          `json:"kind"`
	Options json.RawMessage `json:"options,omitempty"`
}

// ResponseMessage is published on rx1bridge/response/{bridge}/{request_id}.
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VariableMessage is the retained payload of one field.
type VariableMessage struct {
	Field     string    `json:"field"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// FeedbackMessage is the retained payload of one watched feedback.
type FeedbackMessage struct {
	ID        string    `json:"id"`
	Result    bool      `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusMessage is the retained device connection status.
type StatusMessage struct {
	State     snapshot.ConnectionState `json:"state"`
	Message   string                   `json:"message,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge and device link are up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates MQTT or the device is unavailable.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is the LWT status.
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published on rx1bridge/health/{bridge}.
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Device        *host.Status      `json:"device,omitempty"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	CommandsReceived   uint64 `json:"commands_received"`
	CommandsFailed     uint64 `json:"commands_failed"`
	VariablesPublished uint64 `json:"variables_published"`
}

// NewAckMessage creates a success ack.
func NewAckMessage(cmd CommandMessage, kind string, result any) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Status:    AckAccepted,
		Result:    result,
	}
}

// NewAckError creates a failure ack.
func NewAckError(cmd CommandMessage, kind, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Status:    AckFailed,
		Error:     &AckError{Code: code, Message: message},
	}
}

// NewErrorResponse creates a failed response.
func NewErrorResponse(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// NewLWTMessage creates the Last Will and Testament health message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
