package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultDetectorTimeout = 5 * time.Second
	maxDetectorResponse    = 64 * 1024
)

// Labels a detector service may answer with instead of an emotion.
const (
	labelNoFace      = "no_face"
	labelCameraError = "camera_error"
	labelServerError = "server_error"
)

// HTTPDetector is an EmotionSource backed by a detector service. The frame is
// POSTed as the request body; the service answers with JSON such as
// {"ok": true, "emotion": "happy", "confidence": 0.93}.
type HTTPDetector struct {
	url    string
	client *http.Client
}

// NewHTTPDetector creates a detector client. A zero timeout uses the default.
func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = defaultDetectorTimeout
	}
	return &HTTPDetector{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// detectResponse accepts both the {emotion, confidence} and the
// {label, score} shapes. Scores are decoded loosely: anything that is not a
// JSON number becomes 0.
type detectResponse struct {
	OK         *bool   `json:"ok"`
	Error      string  `json:"error"`
	Emotion    *string `json:"emotion"`
	Label      *string `json:"label"`
	Confidence any     `json:"confidence"`
	Score      any     `json:"score"`
}

// Detect implements EmotionSource.
func (d *HTTPDetector) Detect(ctx context.Context, frame Frame) (Detection, bool, error) {
	contentType := frame.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(frame.Data))
	if err != nil {
		return Detection{}, false, fmt.Errorf("build detector request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Detection{}, false, fmt.Errorf("call detector: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDetectorResponse))
	if err != nil {
		return Detection{}, false, fmt.Errorf("read detector response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Detection{}, false, fmt.Errorf("detector returned status %d", resp.StatusCode)
	}
	return parseDetection(body)
}

func parseDetection(body []byte) (Detection, bool, error) {
	var r detectResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Detection{}, false, fmt.Errorf("decode detector response: %w", err)
	}
	if r.OK != nil && !*r.OK {
		if r.Error == "" {
			r.Error = "detector reported failure"
		}
		return Detection{}, false, fmt.Errorf("detector: %s", r.Error)
	}

	label := r.Emotion
	if label == nil {
		label = r.Label
	}
	if label == nil {
		return Detection{}, false, nil
	}
	switch *label {
	case labelNoFace:
		return Detection{}, false, nil
	case labelCameraError:
		return Detection{}, false, ErrNoFrame
	case labelServerError:
		return Detection{}, false, fmt.Errorf("detector: server error")
	}

	score := r.Confidence
	if score == nil {
		score = r.Score
	}
	return Detection{Label: *label, Confidence: Confidence(score)}, true, nil
}

// Confidence coerces a loosely typed score to a float in [0,1]. Values that
// are not numbers yield 0.
func Confidence(v any) float64 {
	switch n := v.(type) {
	case float64:
		return clampConfidence(n)
	case float32:
		return clampConfidence(float64(n))
	case int:
		return clampConfidence(float64(n))
	case int64:
		return clampConfidence(float64(n))
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return clampConfidence(f)
	}
	return 0
}
