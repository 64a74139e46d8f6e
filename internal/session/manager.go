package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"goa.design/clue/log"

	"moodcam/internal/report"
	"moodcam/internal/summary"
)

// Manager manages the lifecycle of recording sessions. It owns the registry
// and spawns exactly one worker per session.
type Manager struct {
	ctx      context.Context
	registry *Registry
	sampler  Sampler
	store    report.Store

	mu       sync.RWMutex
	workers  map[string]*worker
	closed   bool
	onUpdate func(View)
	wg       sync.WaitGroup
}

// ReportResult is the answer to a report request. Partial is set while the
// session is still running; Report then holds the samples collected so far.
type ReportResult struct {
	Status  Status
	Report  report.Report
	Partial bool
}

// NewManager creates a session manager. ctx carries the logger used by the
// workers; cancelling it stops every running session.
func NewManager(ctx context.Context, store report.Store, sampler Sampler, maxSessions int) *Manager {
	return &Manager{
		ctx:      ctx,
		registry: NewRegistry(maxSessions),
		sampler:  sampler,
		store:    store,
		workers:  make(map[string]*worker),
	}
}

// OnUpdate registers a callback invoked whenever a session starts, is asked
// to stop or ends. It is called outside of any lock.
func (m *Manager) OnUpdate(fn func(View)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Start registers a new session and spawns its worker.
func (m *Manager) Start(cfg Config) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerShutdown
	}
	id, err := m.registry.Create(cfg)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	w := newWorker(id, cfg, m.registry, m.sampler, m.store, m.notify)
	m.workers[id] = w
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.run(m.ctx)
	}()
	m.mu.Unlock()

	m.notify(id)
	return id, nil
}

// Stop requests the session to stop. It returns once the request is
// recorded; the worker finalizes asynchronously. Stopping an ended session
// succeeds.
func (m *Manager) Stop(id string) error {
	v, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if err := m.registry.RequestStop(id); err != nil {
		return err
	}
	if !v.StopRequested {
		m.notify(id)
	}
	return nil
}

// Get returns a snapshot of a session.
func (m *Manager) Get(id string) (View, error) {
	return m.registry.Get(id)
}

// List returns all sessions of this process in creation order.
func (m *Manager) List() []View {
	return m.registry.List()
}

// Partial returns the samples collected so far by a session, shaped as a
// report.
func (m *Manager) Partial(id string) (report.Report, error) {
	m.mu.RLock()
	w, ok := m.workers[id]
	m.mu.RUnlock()
	if !ok {
		return report.Report{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return w.snapshot(time.Now().UTC()), nil
}

// Report returns the persisted report of an ended session, or the partial
// report of a running one. Ids unknown to this process are looked up in the
// store so reports survive restarts.
func (m *Manager) Report(ctx context.Context, id string) (ReportResult, error) {
	v, err := m.registry.Get(id)
	if errors.Is(err, ErrNotFound) {
		return m.load(ctx, id)
	}
	if err != nil {
		return ReportResult{}, err
	}

	switch v.Status {
	case StatusRunning:
		partial, err := m.Partial(id)
		if err != nil {
			return ReportResult{}, err
		}
		return ReportResult{Status: StatusRunning, Report: partial, Partial: true}, nil
	case StatusFailed:
		return ReportResult{Status: StatusFailed}, fmt.Errorf("%w: %s", ErrSessionFailed, v.Error)
	default:
		return m.load(ctx, id)
	}
}

func (m *Manager) load(ctx context.Context, id string) (ReportResult, error) {
	if !report.ValidID(id) {
		return ReportResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r, err := m.store.Load(ctx, id)
	if errors.Is(err, report.ErrNotFound) {
		return ReportResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return ReportResult{}, fmt.Errorf("load report %s: %w", id, err)
	}
	return ReportResult{Status: StatusStopped, Report: r}, nil
}

// Summary summarises the report of a session. For a running session the
// summary covers the samples collected so far.
func (m *Manager) Summary(ctx context.Context, id string) (summary.Summary, Status, error) {
	res, err := m.Report(ctx, id)
	if err != nil {
		return summary.Summary{}, res.Status, err
	}
	return summary.Summarize(res.Report), res.Status, nil
}

// Shutdown stops every running session and waits for their workers to
// persist their reports. New sessions are refused from then on.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	ids := m.registry.Running()
	for _, id := range ids {
		if err := m.Stop(id); err != nil {
			log.Error(ctx, err, log.KV{K: "session", V: id})
		}
	}
	if len(ids) > 0 {
		log.Info(ctx, log.KV{K: "msg", V: "waiting for recorders"}, log.KV{K: "count", V: len(ids)})
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for recorders: %w", ctx.Err())
	}
}

func (m *Manager) notify(id string) {
	m.mu.RLock()
	fn := m.onUpdate
	m.mu.RUnlock()
	if fn == nil {
		return
	}
	v, err := m.registry.Get(id)
	if err != nil {
		return
	}
	fn(v)
}
