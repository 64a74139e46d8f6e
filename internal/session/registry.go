package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry maps session ids to live session state. Every read and write goes
// through one mutex, so a stop request that returns before a worker polls is
// always observed by that poll. Entries are never removed.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      []string
	maxRunning int
	newID      func() string
	now        func() time.Time
}

type entry struct {
	id            string
	cfg           Config
	status        Status
	stopRequested bool
	stop          chan struct{}
	createdAt     time.Time
	endedAt       time.Time
	location      string
	samples       int
	err           error
}

// NewRegistry creates an empty registry. maxRunning caps the number of
// sessions in StatusRunning; zero means no limit.
func NewRegistry(maxRunning int) *Registry {
	return &Registry{
		entries:    make(map[string]*entry),
		maxRunning: maxRunning,
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new running session and returns its id.
func (r *Registry) Create(cfg Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxRunning > 0 && r.runningLocked() >= r.maxRunning {
		return "", fmt.Errorf("%w (%d)", ErrTooManySessions, r.maxRunning)
	}

	id := r.newID()
	for {
		if _, taken := r.entries[id]; !taken {
			break
		}
		id = r.newID()
	}
	r.entries[id] = &entry{
		id:        id,
		cfg:       cfg,
		status:    StatusRunning,
		stop:      make(chan struct{}),
		createdAt: r.now(),
	}
	r.order = append(r.order, id)
	return id, nil
}

// Get returns a snapshot of the session.
func (r *Registry) Get(id string) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.view(), nil
}

// RequestStop flags the session for stopping and wakes its worker. It is
// idempotent and succeeds on sessions that already ended.
func (r *Registry) RequestStop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !e.stopRequested {
		e.stopRequested = true
		close(e.stop)
	}
	return nil
}

// StopRequested reports whether a stop was requested for the session.
func (r *Registry) StopRequested(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.stopRequested, nil
}

// StopSignal returns a channel closed by the first RequestStop.
func (r *Registry) StopSignal(id string) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.stop, nil
}

// SetSampleCount records the number of samples collected so far.
func (r *Registry) SetSampleCount(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		e.samples = n
	}
}

// MarkStopped moves a running session to StatusStopped and records where its
// report was written.
func (r *Registry) MarkStopped(id, location string) error {
	return r.finish(id, StatusStopped, location, nil)
}

// MarkFailed moves a running session to StatusFailed.
func (r *Registry) MarkFailed(id string, cause error) error {
	return r.finish(id, StatusFailed, "", cause)
}

func (r *Registry) finish(id string, status Status, location string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.status != StatusRunning {
		return fmt.Errorf("session %s already %s", id, e.status)
	}
	e.status = status
	e.endedAt = r.now()
	e.location = location
	e.err = cause
	return nil
}

// List returns snapshots of all sessions in creation order.
func (r *Registry) List() []View {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]View, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].view())
	}
	return out
}

// Running returns the ids of sessions still running.
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, id := range r.order {
		if r.entries[id].status == StatusRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) runningLocked() int {
	n := 0
	for _, e := range r.entries {
		if e.status == StatusRunning {
			n++
		}
	}
	return n
}

func (e *entry) view() View {
	v := View{
		ID:                e.id,
		Status:            e.status,
		DurationRequested: e.cfg.Duration.Seconds(),
		Interval:          e.cfg.Interval.Seconds(),
		StopRequested:     e.stopRequested,
		CreatedAt:         e.createdAt,
		ReportLocation:    e.location,
		SampleCount:       e.samples,
	}
	if !e.endedAt.IsZero() {
		ended := e.endedAt
		v.EndedAt = &ended
	}
	if e.err != nil {
		v.Error = e.err.Error()
	}
	return v
}
