package emotion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"goa.design/clue/log"
)

// Sampler reads one frame and classifies it. It is the fallible-call wrapper
// used by the recorder and the live monitor: Sample never returns an error
// and never panics, failures become sentinel outcomes.
type Sampler struct {
	frames   FrameSource
	detector EmotionSource
	now      func() time.Time
}

// NewSampler creates a sampler over the given collaborators.
func NewSampler(frames FrameSource, detector EmotionSource) *Sampler {
	return &Sampler{
		frames:   frames,
		detector: detector,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sample performs one capture + detection attempt.
func (s *Sampler) Sample(ctx context.Context) (out Outcome) {
	at := s.now()
	defer func() {
		if r := recover(); r != nil {
			out = sentinel(OutcomeFailed, at, fmt.Errorf("detector panic: %v", r))
		}
		if out.Err != nil {
			log.Debug(ctx, log.KV{K: "msg", V: "sample degraded"},
				log.KV{K: "kind", V: string(out.Kind)}, log.KV{K: "err", V: out.Err.Error()})
		}
	}()

	frame, err := s.frames.Read(ctx)
	if err != nil {
		return sentinel(OutcomeCameraError, at, err)
	}
	if len(frame.Data) == 0 {
		return sentinel(OutcomeCameraError, at, ErrNoFrame)
	}

	det, ok, err := s.detector.Detect(ctx, frame)
	if err != nil {
		return sentinel(OutcomeFailed, at, err)
	}
	if !ok {
		return sentinel(OutcomeNoFace, at, nil)
	}

	label := strings.TrimSpace(det.Label)
	if label == "" {
		label = LabelUnknown
	}
	return Outcome{
		Detection: Detection{Label: label, Confidence: clampConfidence(det.Confidence)},
		Kind:      OutcomeDetected,
		At:        at,
	}
}
