package audit

import (
	"context"
	"sync"
)

// recorderBuffer bounds queued entries; beyond it entries are dropped.
const recorderBuffer = 256

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder writes entries to a Repository from a single goroutine so that
// callers (HTTP handlers, MQTT handlers) never block on SQLite.
type Recorder struct {
	repo   Repository
	logger Logger
	ch     chan *Entry

	done chan struct{}
	once sync.Once
}

// NewRecorder creates a recorder. Call Run to start writing.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
		ch:     make(chan *Entry, recorderBuffer),
		done:   make(chan struct{}),
	}
}

// Record queues entry. It never blocks: a full queue drops the entry with
// a warning. Safe on a nil Recorder.
func (r *Recorder) Record(entry *Entry) {
	if r == nil || entry == nil {
		return
	}
	select {
	case r.ch <- entry:
	default:
		if r.logger != nil {
			r.logger.Warn("audit queue full, dropping entry",
				"action", entry.Action,
				"entity_id", entry.EntityID,
			)
		}
	}
}

// Run writes queued entries until ctx is cancelled, then drains whatever
// is still queued and returns.
func (r *Recorder) Run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })
	for {
		select {
		case entry := <-r.ch:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.ch:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) write(entry *Entry) {
	// The run context may already be cancelled while draining.
	if err := r.repo.Create(context.Background(), entry); err != nil && r.logger != nil {
		r.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}
