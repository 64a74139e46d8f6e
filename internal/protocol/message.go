package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeEmotionReading = "emotion.reading"
	TypeSessionUpdate  = "session.update"
	TypeReportSaved    = "report.saved"
	TypeError          = "error"
)

// Client → Server message types.
const (
	TypeSessionStart         = "session.start"
	TypeSessionStop          = "session.stop"
	TypeEmotionRequestLatest = "emotion.requestLatest"
)

// Error codes.
const (
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrInvalidConfig   = "INVALID_CONFIG"
	ErrMaxSessions     = "MAX_SESSIONS"
	ErrStartFailed     = "START_FAILED"
)

// Server → Client payloads.

type EmotionReadingPayload struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Kind       string  `json:"kind"`
	CapturedAt string  `json:"capturedAt"`
}

type SessionUpdatePayload struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	DurationRequested float64 `json:"durationRequested"`
	Interval          float64 `json:"interval"`
	StopRequested     bool    `json:"stopRequested"`
	SampleCount       int     `json:"sampleCount"`
	CreatedAt         string  `json:"createdAt"`
	EndedAt           string  `json:"endedAt,omitempty"`
	ReportLocation    string  `json:"reportLocation,omitempty"`
	Error             string  `json:"error,omitempty"`
}

type ReportSavedPayload struct {
	ReportID string `json:"reportId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

// SessionStartPayload carries durations in seconds. A zero duration records
// until stopped.
type SessionStartPayload struct {
	Duration *float64 `json:"duration"`
	Interval *float64 `json:"interval"`
}

type SessionStopPayload struct {
	SessionID string `json:"sessionId"`
}
