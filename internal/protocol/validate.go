package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// payloadCheck validates the payload of one client message type. A nil
// payload is passed when the message carried none.
type payloadCheck func(payload json.RawMessage) error

var clientChecks = map[string]payloadCheck{
	TypeSessionStart:         checkSessionStart,
	TypeSessionStop:          checkSessionStop,
	TypeEmotionRequestLatest: func(json.RawMessage) error { return nil },
}

// ValidateClientMessage parses a raw client frame and checks its type and
// payload.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if msg.Type == "" {
		return nil, errors.New("missing 'type' field")
	}

	check, ok := clientChecks[msg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}
	if err := check(msg.Payload); err != nil {
		return nil, fmt.Errorf("%s: %w", msg.Type, err)
	}
	return &msg, nil
}

func checkSessionStart(payload json.RawMessage) error {
	var p SessionStartPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	switch {
	case p.Interval == nil:
		return errors.New("'interval' is required")
	case *p.Interval <= 0:
		return errors.New("'interval' must be positive")
	case p.Duration != nil && *p.Duration < 0:
		return errors.New("'duration' must not be negative")
	}
	return nil
}

func checkSessionStop(payload json.RawMessage) error {
	var p SessionStopPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	if p.SessionID == "" {
		return errors.New("'sessionId' is required")
	}
	return nil
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return errors.New("missing 'payload' field")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// NewErrorMessage builds an error frame for a client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{Code: code, Message: message})
}
