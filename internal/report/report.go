// Package report holds the persisted artifact of a recording session and
// the stores that keep it. A Report is written once, by the worker that owns
// the session, and is immutable afterwards.
package report

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"moodcam/internal/emotion"
)

// TimestampLayout is the layout samples are written with.
const TimestampLayout = time.RFC3339Nano

var (
	// ErrNotFound is returned when no report exists for an id.
	ErrNotFound = errors.New("report not found")
	// ErrExists is returned when saving over an existing report.
	ErrExists = errors.New("report already exists")
	// ErrInvalidID is returned for ids that cannot address a report.
	ErrInvalidID = errors.New("invalid report id")
)

// Report is the full time-series of one session.
type Report struct {
	ID          string    `json:"id"`
	Meta        Meta      `json:"meta"`
	GeneratedAt time.Time `json:"generated_at"`
	Data        []Sample  `json:"data"`
}

// Meta describes how a report was recorded. Durations are in seconds.
type Meta struct {
	DurationRequested float64   `json:"duration_requested"`
	Interval          float64   `json:"interval"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	SampleCount       int       `json:"sample_count"`
}

// Sample is one detector reading. Timestamp is kept as text so that reports
// produced by other tools with malformed times still load.
type Sample struct {
	Timestamp  string  `json:"timestamp"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Entry is a listing row for a stored report.
type Entry struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	SampleCount int       `json:"sample_count"`
	Location    string    `json:"location"`
}

// NewSample converts a sampling outcome into a stored sample.
func NewSample(o emotion.Outcome) Sample {
	label := o.Label
	if label == "" {
		label = emotion.LabelNone
	}
	return Sample{
		Timestamp:  o.At.UTC().Format(TimestampLayout),
		Label:      label,
		Confidence: o.Confidence,
	}
}

// UnmarshalJSON decodes a sample leniently: a confidence that is not a
// number becomes 0 and the label is kept.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp any `json:"timestamp"`
		Label     any `json:"label"`
		// older reports name the label "emotion"
		Emotion    any `json:"emotion"`
		Confidence any `json:"confidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Timestamp = asString(raw.Timestamp)
	s.Label = asString(raw.Label)
	if s.Label == "" {
		s.Label = asString(raw.Emotion)
	}
	if s.Label == "" {
		s.Label = emotion.LabelNone
	}
	s.Confidence = emotion.Confidence(raw.Confidence)
	return nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// entry derives the listing row of r.
func (r Report) entry(location string) Entry {
	return Entry{
		ID:          r.ID,
		StartedAt:   r.Meta.StartedAt,
		EndedAt:     r.Meta.EndedAt,
		SampleCount: r.Meta.SampleCount,
		Location:    location,
	}
}

// ValidID reports whether id can address a report in any store.
func ValidID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	return !strings.ContainsAny(id, `/\.:`) && strings.TrimSpace(id) == id
}
