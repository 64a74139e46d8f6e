// Package live keeps the most recent emotion reading fresh for the HTTP and
// WebSocket surfaces, independently of any recording session.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"moodcam/internal/emotion"
)

const defaultSubscriberBufCap = 16

// Reading is one live sample.
type Reading struct {
	Label      string              `json:"emotion"`
	Confidence float64             `json:"confidence"`
	Kind       emotion.OutcomeKind `json:"kind"`
	Timestamp  time.Time           `json:"timestamp"`
}

// FromOutcome converts a sampling outcome into a reading.
func FromOutcome(o emotion.Outcome) Reading {
	return Reading{
		Label:      o.Label,
		Confidence: o.Confidence,
		Kind:       o.Kind,
		Timestamp:  o.At,
	}
}

// Sampler performs one sampling attempt.
type Sampler interface {
	Sample(ctx context.Context) emotion.Outcome
}

// Monitor samples on a fixed cadence and publishes each reading to its
// subscribers.
type Monitor struct {
	sampler  Sampler
	interval time.Duration
	history  *RingBuffer

	mu     sync.RWMutex
	latest Reading
	has    bool

	subMu       sync.RWMutex
	subscribers map[string]chan Reading
}

// NewMonitor creates a monitor. historySize bounds History.
func NewMonitor(sampler Sampler, interval time.Duration, historySize int) *Monitor {
	return &Monitor{
		sampler:     sampler,
		interval:    interval,
		history:     NewRingBuffer(historySize),
		subscribers: make(map[string]chan Reading),
	}
}

// Run samples immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info(ctx, log.KV{K: "msg", V: "live monitor started"}, log.KV{K: "interval", V: m.interval.String()})
	m.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh takes one sample now and publishes it.
func (m *Monitor) Refresh(ctx context.Context) Reading {
	r := FromOutcome(m.sampler.Sample(ctx))

	m.mu.Lock()
	m.latest = r
	m.has = true
	m.mu.Unlock()

	m.history.Write(r)
	m.fanOut(r)
	return r
}

// Latest returns the most recent reading. ok is false before the first
// sample.
func (m *Monitor) Latest() (r Reading, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.has
}

// History returns the recent readings, oldest first.
func (m *Monitor) History() []Reading {
	return m.history.ReadAll()
}

// Subscribe returns a channel receiving every new reading, along with the
// current history.
func (m *Monitor) Subscribe() (string, <-chan Reading, []Reading) {
	id := uuid.NewString()
	ch := make(chan Reading, defaultSubscriberBufCap)

	history := m.history.ReadAll()

	m.subMu.Lock()
	m.subscribers[id] = ch
	m.subMu.Unlock()

	return id, ch, history
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *Monitor) Unsubscribe(id string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *Monitor) fanOut(r Reading) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- r:
		default:
			// slow subscriber, drop
		}
	}
}
