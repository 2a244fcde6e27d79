// Package snapshot holds the engine's in-memory copy of the receiver state.
//
// A Writer is created once and owned by the synchronization engine. Every
// other component receives the read-only View (through the Reader
// interface) and has no way to mutate the snapshot.
//
// Each write replaces one top-level collection atomically. Records handed
// to the store are treated as immutable once stored; readers receive copies
// of slices and shared pointers to records.
package snapshot

import (
	"sync"

	"github.com/nerrad567/rx1-bridge/internal/rx1"
)

// ConnectionState is the device link status as seen by the engine.
type ConnectionState string

// Connection states.
const (
	Connecting        ConnectionState = "connecting"
	OK                ConnectionState = "ok"
	ConnectionFailure ConnectionState = "connection_failure"
	BadConfig         ConnectionState = "bad_config"
)

// Reader is the read side of the snapshot.
type Reader interface {
	// Services returns a copy of the current service list.
	Services() []rx1.Service

	// FindService looks a service up by its type/id pair.
	FindService(serviceType, serviceID string) (rx1.Service, bool)

	// ServerStatus returns the last successfully fetched server status, or nil.
	ServerStatus() *rx1.ServerStatus

	// ServiceStatus returns the stored status for a service name.
	ServiceStatus(serviceName string) (*rx1.ServiceStatus, bool)

	// NameForID resolves a serviceId through the id-to-name map.
	NameForID(serviceID string) (string, bool)

	// Connection returns the current connection state.
	Connection() ConnectionState
}

type store struct {
	mu       sync.RWMutex
	services []rx1.Service
	server   *rx1.ServerStatus
	statuses map[string]*rx1.ServiceStatus
	idToName map[string]string
	conn     ConnectionState
}

// Writer owns the snapshot and is the only type with mutating methods.
type Writer struct {
	s    *store
	view *View
}

// New creates an empty snapshot in the Connecting state.
func New() *Writer {
	s := &store{
		statuses: make(map[string]*rx1.ServiceStatus),
		idToName: make(map[string]string),
		conn:     Connecting,
	}
	return &Writer{s: s, view: &View{s: s}}
}

// View returns the read-only handle for other components.
func (w *Writer) View() *View {
	return w.view
}

// ReplaceServices swaps the service list and rebuilds the id-to-name map.
func (w *Writer) ReplaceServices(services []rx1.Service) {
	list := make([]rx1.Service, len(services))
	copy(list, services)

	idToName := make(map[string]string, len(list))
	for _, svc := range list {
		idToName[svc.ServiceID] = svc.ServiceName
	}

	w.s.mu.Lock()
	w.s.services = list
	w.s.idToName = idToName
	w.s.mu.Unlock()
}

// ReplaceServerStatus swaps the server status record.
func (w *Writer) ReplaceServerStatus(status *rx1.ServerStatus) {
	w.s.mu.Lock()
	w.s.server = status
	w.s.mu.Unlock()
}

// PutServiceStatus stores the status of one service under its name.
// Entries for services that later disappear are kept.
func (w *Writer) PutServiceStatus(serviceName string, status *rx1.ServiceStatus) {
	w.s.mu.Lock()
	w.s.statuses[serviceName] = status
	w.s.mu.Unlock()
}

// SetConnection records the connection state and reports whether it changed.
func (w *Writer) SetConnection(state ConnectionState) bool {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	changed := w.s.conn != state
	w.s.conn = state
	return changed
}

// View is the read-only handle on a snapshot.
type View struct {
	s *store
}

var _ Reader = (*View)(nil)

// Services returns a copy of the current service list.
func (v *View) Services() []rx1.Service {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]rx1.Service, len(v.s.services))
	copy(out, v.s.services)
	return out
}

// FindService looks a service up by its type/id pair.
func (v *View) FindService(serviceType, serviceID string) (rx1.Service, bool) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, svc := range v.s.services {
		if svc.ServiceType == serviceType && svc.ServiceID == serviceID {
			return svc, true
		}
	}
	return rx1.Service{}, false
}

// ServerStatus returns the last successfully fetched server status, or nil.
func (v *View) ServerStatus() *rx1.ServerStatus {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.server
}

// ServiceStatus returns the stored status for a service name.
func (v *View) ServiceStatus(serviceName string) (*rx1.ServiceStatus, bool) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	status, ok := v.s.statuses[serviceName]
	return status, ok && status != nil
}

// NameForID resolves a serviceId through the id-to-name map.
func (v *View) NameForID(serviceID string) (string, bool) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	name, ok := v.s.idToName[serviceID]
	return name, ok
}

// Connection returns the current connection state.
func (v *View) Connection() ConnectionState {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.conn
}

// ServiceStatusCount returns the number of stored status entries,
// including entries for services no longer listed.
func (v *View) ServiceStatusCount() int {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return len(v.s.statuses)
}

// IDCount returns the number of entries in the id-to-name map.
func (v *View) IDCount() int {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return len(v.s.idToName)
}
