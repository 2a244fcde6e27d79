package host

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/nerrad567/rx1-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rx1-bridge/internal/rx1/condition"
	"github.com/nerrad567/rx1-bridge/internal/rx1/fields"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Feedback is a watched condition and its last evaluated result.
type Feedback struct {
	ID      string          `json:"id"`
	Kind    condition.Kind  `json:"kind"`
	Options json.RawMessage `json:"options,omitempty"`
	Result  bool            `json:"result"`

	cond      condition.Condition
	evaluated bool
}

// Registry implements engine.Host.
//
// Changes are committed and dispatched under emitMu, so listeners observe
// events in the order the changes were committed.
type Registry struct {
	reader snapshot.Reader

	emitMu sync.Mutex

	mu        sync.RWMutex
	defs      []fields.Definition
	declared  map[string]struct{}
	values    map[string]any
	status    Status
	feedbacks map[string]*Feedback

	listenersMu sync.RWMutex
	listeners   []Listener

	logger Logger
}

// NewRegistry creates a registry that evaluates feedbacks against reader.
func NewRegistry(reader snapshot.Reader) *Registry {
	return &Registry{
		reader:    reader,
		declared:  make(map[string]struct{}),
		values:    make(map[string]any),
		feedbacks: make(map[string]*Feedback),
		status:    Status{State: snapshot.Connecting},
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddListener registers l for every subsequent event. Listeners run on the
// caller's goroutine and must not call the registry's mutating methods.
func (r *Registry) AddListener(l Listener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) emit(ev Event) {
	r.listenersMu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		l.HandleEvent(ev)
	}
}

// SetDefinitions replaces the declared fields. Values of fields that are
// no longer declared are forgotten.
func (r *Registry) SetDefinitions(defs []fields.Definition) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if equalDefinitions(r.defs, defs) {
		r.mu.Unlock()
		return
	}

	r.defs = append([]fields.Definition(nil), defs...)
	r.declared = make(map[string]struct{}, len(defs))
	for _, d := range defs {
		r.declared[d.ID] = struct{}{}
	}
	for id := range r.values {
		if _, ok := r.declared[id]; !ok {
			delete(r.values, id)
		}
	}
	snapshotDefs := append([]fields.Definition(nil), r.defs...)
	r.mu.Unlock()

	r.logger.Debug("variable definitions changed", "count", len(snapshotDefs))
	r.emit(Event{Type: EventDefinitionsChanged, Definitions: snapshotDefs})
}

func equalDefinitions(a, b []fields.Definition) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetValues records values and emits the ones that changed. Values for
// undeclared fields are ignored.
func (r *Registry) SetValues(values fields.Values) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	changed := fields.Values{}
	r.mu.Lock()
	for id, v := range values {
		if _, ok := r.declared[id]; !ok {
			continue
		}
		if old, ok := r.values[id]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		r.values[id] = v
		changed[id] = v
	}
	r.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	r.emit(Event{Type: EventVariablesChanged, Values: changed})
}

// SetStatus records the connection status and emits it when it changed.
func (r *Registry) SetStatus(state snapshot.ConnectionState, message string) {
	next := Status{State: state, Message: message}

	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if r.status == next {
		r.mu.Unlock()
		return
	}
	r.status = next
	r.mu.Unlock()

	if state == snapshot.OK {
		r.logger.Info("device connection status", "state", state)
	} else {
		r.logger.Warn("device connection status", "state", state, "message", message)
	}
	r.emit(Event{Type: EventConnectionChanged, Status: next})
}

// CheckFeedbacks re-evaluates every watched feedback and emits the
// results that changed.
func (r *Registry) CheckFeedbacks() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	changed := make(map[string]bool)
	for id, fb := range r.feedbacks {
		if r.evaluate(fb) {
			changed[id] = fb.Result
		}
	}
	r.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	r.emit(Event{Type: EventFeedbacksChanged, Feedbacks: changed})
}

// evaluate updates fb and reports whether its result changed. The first
// evaluation always counts as a change. Caller holds r.mu.
func (r *Registry) evaluate(fb *Feedback) bool {
	result := condition.Evaluate(r.reader, fb.cond)
	if fb.evaluated && fb.Result == result {
		return false
	}
	fb.Result = result
	fb.evaluated = true
	return true
}

// Watch adds or replaces the feedback id, decoding its condition from kind
// and options. The feedback is evaluated immediately.
func (r *Registry) Watch(id, kind string, options json.RawMessage) (Feedback, error) {
	if id == "" {
		return Feedback{}, ErrWatchIDRequired
	}
	cond, err := condition.Decode(kind, options)
	if err != nil {
		return Feedback{}, fmt.Errorf("feedback %q: %w", id, err)
	}

	fb := &Feedback{
		ID:      id,
		Kind:    cond.Kind(),
		Options: append(json.RawMessage(nil), options...),
		cond:    cond,
	}

	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	r.feedbacks[id] = fb
	r.evaluate(fb)
	result := *fb
	r.mu.Unlock()

	r.logger.Debug("feedback watched", "id", id, "kind", kind)
	r.emit(Event{Type: EventFeedbacksChanged, Feedbacks: map[string]bool{id: result.Result}})
	return result, nil
}

// Unwatch removes the feedback id.
func (r *Registry) Unwatch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.feedbacks[id]; !ok {
		return fmt.Errorf("%w: %s", ErrWatchNotFound, id)
	}
	delete(r.feedbacks, id)
	return nil
}

// LoadFeedbacks watches every configured feedback. It stops at the first
// invalid entry.
func (r *Registry) LoadFeedbacks(cfgs []config.FeedbackConfig) error {
	for _, fc := range cfgs {
		raw, err := json.Marshal(fc.Options)
		if err != nil {
			return fmt.Errorf("feedback %q: encoding options: %w", fc.ID, err)
		}
		if _, err := r.Watch(fc.ID, fc.Kind, raw); err != nil {
			return err
		}
	}
	return nil
}

// Feedbacks returns every watched feedback sorted by id.
func (r *Registry) Feedbacks() []Feedback {
	r.mu.RLock()
	out := make([]Feedback, 0, len(r.feedbacks))
	for _, fb := range r.feedbacks {
		out = append(out, *fb)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Feedback returns one watched feedback.
func (r *Registry) Feedback(id string) (Feedback, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fb, ok := r.feedbacks[id]
	if !ok {
		return Feedback{}, fmt.Errorf("%w: %s", ErrWatchNotFound, id)
	}
	return *fb, nil
}

// Definitions returns the declared fields in declaration order.
func (r *Registry) Definitions() []fields.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]fields.Definition(nil), r.defs...)
}

// Values returns a copy of every recorded value.
func (r *Registry) Values() fields.Values {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(fields.Values, len(r.values))
	for id, v := range r.values {
		out[id] = v
	}
	return out
}

// Value returns one recorded value.
func (r *Registry) Value(id string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVariableNotFound, id)
	}
	return v, nil
}

// Status returns the last reported connection status.
func (r *Registry) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}
