package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func clientMessage(t *testing.T, msgType string, payload any) []byte {
	t.Helper()
	msg := map[string]any{
		"type":      msgType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload != nil {
		msg["payload"] = payload
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestNewMessage(t *testing.T) {
	payload := SessionUpdatePayload{
		ID:          "test-id",
		Status:      "running",
		Interval:    0.5,
		SampleCount: 3,
	}

	msg, err := NewMessage(TypeSessionUpdate, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != TypeSessionUpdate {
		t.Errorf("expected type %s, got %s", TypeSessionUpdate, msg.Type)
	}

	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var p SessionUpdatePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.ID != "test-id" || p.SampleCount != 3 {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestNewMessage_UnmarshalablePayload(t *testing.T) {
	if _, err := NewMessage(TypeError, func() {}); err == nil {
		t.Fatal("expected error for func payload")
	}
}

func TestValidateClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		wantErr bool
	}{
		{"start", clientMessage(t, TypeSessionStart, map[string]any{"duration": 60, "interval": 1.5}), false},
		{"start unbounded", clientMessage(t, TypeSessionStart, map[string]any{"interval": 2}), false},
		{"start missing interval", clientMessage(t, TypeSessionStart, map[string]any{"duration": 60}), true},
		{"start zero interval", clientMessage(t, TypeSessionStart, map[string]any{"duration": 60, "interval": 0}), true},
		{"start negative duration", clientMessage(t, TypeSessionStart, map[string]any{"duration": -1, "interval": 1}), true},
		{"start wrong type", clientMessage(t, TypeSessionStart, map[string]any{"interval": "fast"}), true},
		{"start missing payload", clientMessage(t, TypeSessionStart, nil), true},
		{"stop", clientMessage(t, TypeSessionStop, map[string]any{"sessionId": "abc"}), false},
		{"stop missing id", clientMessage(t, TypeSessionStop, map[string]any{}), true},
		{"latest without payload", clientMessage(t, TypeEmotionRequestLatest, nil), false},
		{"latest with payload", clientMessage(t, TypeEmotionRequestLatest, map[string]any{}), false},
		{"unknown type", clientMessage(t, "unknown.action", map[string]any{}), true},
		{"missing type", clientMessage(t, "", map[string]any{}), true},
		{"invalid json", []byte("not json"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ValidateClientMessage(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected valid message, got error: %v", err)
			}
		})
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(ErrSessionNotFound, "session xyz not found")
	if err != nil {
		t.Fatalf("NewErrorMessage failed: %v", err)
	}
	if msg.Type != TypeError {
		t.Errorf("expected type %s, got %s", TypeError, msg.Type)
	}

	var p ErrorPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Code != ErrSessionNotFound {
		t.Errorf("expected code %s, got %s", ErrSessionNotFound, p.Code)
	}
}
