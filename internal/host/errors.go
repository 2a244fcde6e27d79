package host

import "errors"

// Domain errors for the host registry.
var (
	// ErrWatchIDRequired is returned when a feedback is watched without an id.
	ErrWatchIDRequired = errors.New("host: feedback id is required")

	// ErrWatchNotFound is returned when a feedback id is not watched.
	ErrWatchNotFound = errors.New("host: feedback not found")

	// ErrVariableNotFound is returned for an undeclared or unset variable.
	ErrVariableNotFound = errors.New("host: variable not found")
)
