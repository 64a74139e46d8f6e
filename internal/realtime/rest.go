package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"goa.design/clue/log"

	"moodcam/internal/emotion"
	"moodcam/internal/live"
	"moodcam/internal/session"
	"moodcam/internal/summary"
)

// Labels reported by /emotion when no detection is available.
const (
	liveCameraError = "camera_error"
	liveNoFace      = "no_face"
	liveServerError = "server_error"
)

type startSessionRequest struct {
	Duration float64  `json:"duration"`
	Interval *float64 `json:"interval"`
}

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError answers {"ok": false}. Lookup and validation errors keep their
// status code; anything else is reported with 200 and the safe payload.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, safe envelope) {
	status := http.StatusOK
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrTooManySessions):
		status = http.StatusTooManyRequests
	default:
		log.Error(r.Context(), err, log.KV{K: "path", V: r.URL.Path})
	}

	body := envelope{}
	for k, v := range safe {
		body[k] = v
	}
	body["ok"] = false
	body["error"] = err.Error()
	writeJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{"ok": true})
}

// handleEmotion answers the latest live reading, sampling once if the
// monitor has not produced one yet.
func (s *Server) handleEmotion(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.monitor.Latest()
	if !ok {
		reading = s.monitor.Refresh(r.Context())
	}
	writeJSON(w, http.StatusOK, liveBody(reading))
}

func liveBody(r live.Reading) envelope {
	body := envelope{
		"ok":         true,
		"emotion":    r.Label,
		"confidence": r.Confidence,
		"timestamp":  r.Timestamp,
	}
	switch r.Kind {
	case emotion.OutcomeCameraError:
		body["emotion"] = liveCameraError
	case emotion.OutcomeNoFace:
		body["emotion"] = liveNoFace
	case emotion.OutcomeFailed:
		body["ok"] = false
		body["emotion"] = liveServerError
		body["error"] = "detection failed"
	}
	return body
}

func (s *Server) handleEmotionHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{"ok": true, "readings": s.monitor.History()})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid request body", session.ErrInvalidConfig), envelope{"session_id": nil})
		return
	}
	if req.Interval == nil {
		s.writeError(w, r, fmt.Errorf("%w: interval is required", session.ErrInvalidConfig), envelope{"session_id": nil})
		return
	}

	cfg, err := session.ConfigFromSeconds(req.Duration, *req.Interval)
	if err != nil {
		s.writeError(w, r, err, envelope{"session_id": nil})
		return
	}
	id, err := s.sessions.Start(cfg)
	if err != nil {
		s.writeError(w, r, err, envelope{"session_id": nil})
		return
	}

	writeJSON(w, http.StatusCreated, envelope{"ok": true, "session_id": id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{"ok": true, "sessions": s.sessions.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err, envelope{"session": nil})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"ok": true, "session": v})
}

// handleStopSession is idempotent: stopping an ended session succeeds.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.PathValue("id")); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"ok": true})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	res, err := s.sessions.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err, envelope{"status": res.Status, "report": nil})
		return
	}
	if res.Partial {
		writeJSON(w, http.StatusOK, envelope{"ok": true, "status": res.Status, "partial": res.Report})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"ok": true, "status": res.Status, "report": res.Report})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, status, err := s.sessions.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err, envelope{"status": status, "summary": summary.SummarizeSamples(nil)})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"ok": true, "status": status, "summary": sum})
}

// handleDownload serves a persisted report as a JSON attachment.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.sessions.Report(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if res.Partial {
		writeJSON(w, http.StatusConflict, envelope{"ok": false, "status": res.Status, "error": "session still running"})
		return
	}

	data, err := json.MarshalIndent(res.Report, "", "  ")
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, id))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
