package rx1

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidServiceRef is returned when a service reference is not "type/id".
var ErrInvalidServiceRef = errors.New("invalid service format, use serviceType/serviceId")

// ServiceRef identifies a service as "type/id".
type ServiceRef struct {
	Type string
	ID   string
}

// ParseServiceRef splits "type/id". Both parts must be present.
func ParseServiceRef(s string) (ServiceRef, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ServiceRef{}, fmt.Errorf("%w: %q", ErrInvalidServiceRef, s)
	}
	return ServiceRef{Type: parts[0], ID: parts[1]}, nil
}

func (r ServiceRef) String() string {
	return r.Type + "/" + r.ID
}
