package rx1

import (
	"context"
	"errors"

	"github.com/nerrad567/rx1-bridge/internal/rx1/command"
	"github.com/nerrad567/rx1-bridge/internal/rx1/condition"

	receiver "github.com/nerrad567/rx1-bridge/internal/rx1"
)

// Domain errors for the bridge package.
var (
	// ErrMQTTRequired is returned by NewBridge without an MQTT client.
	ErrMQTTRequired = errors.New("rx1 bridge: MQTT client is required")

	// ErrExecutorRequired is returned by NewBridge without a command executor.
	ErrExecutorRequired = errors.New("rx1 bridge: command executor is required")

	// ErrHostRequired is returned by NewBridge without a variable host.
	ErrHostRequired = errors.New("rx1 bridge: host is required")
)

// Error codes carried in acks and responses.
const (
	ErrCodeInvalidPayload    = "INVALID_PAYLOAD"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceError       = "DEVICE_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorCode classifies err for the wire.
func ErrorCode(err error) string {
	var statusErr *receiver.StatusError
	switch {
	case errors.Is(err, command.ErrUnknownKind), errors.Is(err, condition.ErrUnknownKind):
		return ErrCodeInvalidCommand
	case errors.Is(err, command.ErrInvalidServiceRef),
		errors.Is(err, command.ErrInvalidOptions),
		errors.Is(err, command.ErrPathRequired),
		errors.Is(err, condition.ErrInvalidOptions):
		return ErrCodeInvalidParameters
	case errors.Is(err, command.ErrServiceNotFound):
		return ErrCodeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, receiver.ErrRequestFailed), errors.Is(err, receiver.ErrHostRequired):
		return ErrCodeDeviceUnreachable
	case errors.As(err, &statusErr), errors.Is(err, receiver.ErrMalformedResponse):
		return ErrCodeDeviceError
	default:
		return ErrCodeBridgeError
	}
}
