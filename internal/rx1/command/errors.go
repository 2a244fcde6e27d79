package command

import (
	"errors"

	"github.com/nerrad567/rx1-bridge/internal/rx1"
)

// Sentinel errors returned by Decode and Execute.
var (
	// ErrInvalidServiceRef is returned when a service option is not "type/id".
	ErrInvalidServiceRef = rx1.ErrInvalidServiceRef

	// ErrServiceNotFound is returned when a command names a service that is
	// not in the current service list.
	ErrServiceNotFound = errors.New("service not found")

	// ErrUnknownKind is returned for an unrecognised command kind.
	ErrUnknownKind = errors.New("command: unknown kind")

	// ErrInvalidOptions is returned when the options document does not decode.
	ErrInvalidOptions = errors.New("command: invalid options")

	// ErrPathRequired is returned by custom API commands with an empty path.
	ErrPathRequired = errors.New("command: path is required")
)
