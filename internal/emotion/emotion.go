// Package emotion defines the collaborators the sampling core talks to: a
// FrameSource that supplies still images and an EmotionSource that classifies
// them. Both are external capabilities; this package only wraps them so that
// every call yields an Outcome instead of an error or a panic.
package emotion

import (
	"context"
	"errors"
	"time"
)

// Sentinel labels.
const (
	LabelNone    = "none"
	LabelUnknown = "unknown"
)

// ErrNoFrame is returned by frame sources when no image could be captured.
var ErrNoFrame = errors.New("no frame available")

// Frame is a single still image.
type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// Detection is the dominant emotion found in a frame.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// EmotionSource classifies a frame. ok is false when no face was found.
type EmotionSource interface {
	Detect(ctx context.Context, frame Frame) (det Detection, ok bool, err error)
}

// SourceFunc adapts a function to EmotionSource.
type SourceFunc func(ctx context.Context, frame Frame) (Detection, bool, error)

// Detect calls f.
func (f SourceFunc) Detect(ctx context.Context, frame Frame) (Detection, bool, error) {
	return f(ctx, frame)
}

// FrameSource supplies the image passed to an EmotionSource.
type FrameSource interface {
	Read(ctx context.Context) (Frame, error)
}

// OutcomeKind classifies the result of one sampling attempt.
type OutcomeKind string

const (
	OutcomeDetected    OutcomeKind = "detected"
	OutcomeNoFace      OutcomeKind = "no_face"
	OutcomeCameraError OutcomeKind = "camera_error"
	OutcomeFailed      OutcomeKind = "failed"
)

// Outcome is the result of one sampling attempt. Anything other than
// OutcomeDetected carries the sentinel detection.
type Outcome struct {
	Detection
	Kind OutcomeKind `json:"kind"`
	At   time.Time   `json:"timestamp"`
	Err  error       `json:"-"`
}

// OK reports whether the outcome holds a real detection.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeDetected
}

func sentinel(kind OutcomeKind, at time.Time, err error) Outcome {
	return Outcome{
		Detection: Detection{Label: LabelNone, Confidence: 0},
		Kind:      kind,
		At:        at,
		Err:       err,
	}
}

// clampConfidence keeps scores inside [0,1].
func clampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
