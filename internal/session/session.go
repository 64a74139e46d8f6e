package session

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Status represents the lifecycle state of a recording session.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	// StatusFailed is terminal: the session ended but its report could not
	// be persisted.
	StatusFailed Status = "failed"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrInvalidConfig   = errors.New("invalid session config")
	ErrTooManySessions = errors.New("maximum running sessions reached")
	ErrSessionFailed   = errors.New("session failed")
	ErrManagerShutdown = errors.New("session manager is shutting down")
)

// Config is the recording configuration of a session. A zero Duration
// records until an explicit stop.
type Config struct {
	Duration time.Duration
	Interval time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ConfigFromSeconds builds a Config from durations expressed in seconds.
func ConfigFromSeconds(duration, interval float64) (Config, error) {
	for _, v := range []float64{duration, interval} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Config{}, fmt.Errorf("%w: not a finite number", ErrInvalidConfig)
		}
	}
	cfg := Config{
		Duration: time.Duration(duration * float64(time.Second)),
		Interval: time.Duration(interval * float64(time.Second)),
	}
	return cfg, cfg.Validate()
}

// View is a point-in-time copy of a session's state.
type View struct {
	ID                string     `json:"id"`
	Status            Status     `json:"status"`
	DurationRequested float64    `json:"duration_requested"`
	Interval          float64    `json:"interval"`
	StopRequested     bool       `json:"stop_requested"`
	CreatedAt         time.Time  `json:"created_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	ReportLocation    string     `json:"report_location,omitempty"`
	SampleCount       int        `json:"sample_count"`
	Error             string     `json:"error,omitempty"`
}

// Terminal reports whether the session can no longer change status.
func (v View) Terminal() bool {
	return v.Status != StatusRunning
}
