package rx1

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nerrad567/rx1-bridge/internal/rx1/command"
	"github.com/nerrad567/rx1-bridge/internal/rx1/condition"

	receiver "github.com/nerrad567/rx1-bridge/internal/rx1"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unknown command", command.ErrUnknownKind, ErrCodeInvalidCommand},
		{"unknown condition", condition.ErrUnknownKind, ErrCodeInvalidCommand},
		{"bad ref", command.ErrInvalidServiceRef, ErrCodeInvalidParameters},
		{"bad options", fmt.Errorf("%w: eof", command.ErrInvalidOptions), ErrCodeInvalidParameters},
		{"missing path", command.ErrPathRequired, ErrCodeInvalidParameters},
		{"bad condition options", condition.ErrInvalidOptions, ErrCodeInvalidParameters},
		{"not found", command.ErrServiceNotFound, ErrCodeNotFound},
		{"deadline", fmt.Errorf("start: %w", context.DeadlineExceeded), ErrCodeTimeout},
		{"transport", fmt.Errorf("%w: refused", receiver.ErrRequestFailed), ErrCodeDeviceUnreachable},
		{"no host", receiver.ErrHostRequired, ErrCodeDeviceUnreachable},
		{"http status", fmt.Errorf("start: %w", &receiver.StatusError{StatusCode: 404}), ErrCodeDeviceError},
		{"malformed", receiver.ErrMalformedResponse, ErrCodeDeviceError},
		{"joined", errors.Join(errors.New("x"), &receiver.StatusError{StatusCode: 500}), ErrCodeDeviceError},
		{"other", errors.New("boom"), ErrCodeBridgeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
