package live

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moodcam/internal/emotion"
)

type countingSampler struct {
	n atomic.Int64
}

func (s *countingSampler) Sample(context.Context) emotion.Outcome {
	n := s.n.Add(1)
	return emotion.Outcome{
		Detection: emotion.Detection{Label: fmt.Sprintf("label-%d", n), Confidence: 0.5},
		Kind:      emotion.OutcomeDetected,
		At:        time.Now().UTC(),
	}
}

func reading(i int) Reading {
	return Reading{Label: fmt.Sprintf("label-%d", i), Kind: emotion.OutcomeDetected}
}

func labels(rs []Reading) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Label
	}
	return out
}

func TestRingBuffer_EmptyRead(t *testing.T) {
	rb := NewRingBuffer(10)
	assert.Empty(t, rb.ReadAll())
	assert.Equal(t, 0, rb.Len())
}

func TestRingBuffer_PartialFill(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 0; i < 5; i++ {
		rb.Write(reading(i))
	}
	assert.Equal(t, []string{"label-0", "label-1", "label-2", "label-3", "label-4"}, labels(rb.ReadAll()))
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := 0; i < 8; i++ {
		rb.Write(reading(i))
	}
	assert.Equal(t, 5, rb.Len())
	assert.Equal(t, []string{"label-3", "label-4", "label-5", "label-6", "label-7"}, labels(rb.ReadAll()))
}

func TestRingBuffer_ZeroCapacity(t *testing.T) {
	rb := NewRingBuffer(0)
	rb.Write(reading(1))
	rb.Write(reading(2))
	assert.Equal(t, []string{"label-2"}, labels(rb.ReadAll()))
}

func TestMonitor_Refresh(t *testing.T) {
	m := NewMonitor(&countingSampler{}, time.Hour, 2)

	_, ok := m.Latest()
	assert.False(t, ok)

	m.Refresh(context.Background())
	m.Refresh(context.Background())
	r := m.Refresh(context.Background())

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, r, latest)
	assert.Equal(t, "label-3", latest.Label)
	assert.Equal(t, []string{"label-2", "label-3"}, labels(m.History()))
}

func TestMonitor_SubscribeReceivesReadings(t *testing.T) {
	m := NewMonitor(&countingSampler{}, time.Hour, 10)
	m.Refresh(context.Background())

	id, ch, history := m.Subscribe()
	assert.Equal(t, []string{"label-1"}, labels(history))

	m.Refresh(context.Background())
	select {
	case r := <-ch:
		assert.Equal(t, "label-2", r.Label)
	case <-time.After(time.Second):
		t.Fatal("no reading delivered")
	}

	m.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	// unknown ids are ignored
	m.Unsubscribe(id)
}

func TestMonitor_RunStopsWithContext(t *testing.T) {
	s := &countingSampler{}
	m := NewMonitor(s, 5*time.Millisecond, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return s.n.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
