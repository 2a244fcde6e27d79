package engine

import "errors"

// Sentinel errors for engine construction and control.
var (
	// ErrClientRequired is returned when no device client is supplied.
	ErrClientRequired = errors.New("engine: device client is required")

	// ErrHostRequired is returned when no host surface is supplied.
	ErrHostRequired = errors.New("engine: host is required")

	// ErrInvalidInterval is returned for a poll interval outside 1-60 seconds.
	ErrInvalidInterval = errors.New("engine: poll interval must be between 1 and 60 seconds")

	// ErrServiceNotListed is returned by RefreshService for an unknown service.
	ErrServiceNotListed = errors.New("engine: service is not in the current list")
)
