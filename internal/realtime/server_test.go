package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moodcam/internal/emotion"
	"moodcam/internal/live"
	"moodcam/internal/protocol"
	"moodcam/internal/report"
	"moodcam/internal/session"
)

var jpeg = emotion.StaticSource{Frame: emotion.Frame{Data: []byte{0xff, 0xd8, 0xff}}}

func detectAlways(label string) emotion.EmotionSource {
	return emotion.SourceFunc(func(context.Context, emotion.Frame) (emotion.Detection, bool, error) {
		return emotion.Detection{Label: label, Confidence: 0.8}, true, nil
	})
}

func newTestServer(t *testing.T, frames emotion.FrameSource, detector emotion.EmotionSource, maxSessions int) *Server {
	t.Helper()
	store, err := report.NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	sampler := emotion.NewSampler(frames, detector)
	mgr := session.NewManager(ctx, store, sampler, maxSessions)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	srv := New(ctx, mgr, live.NewMonitor(sampler, time.Hour, 10), "")
	mgr.OnUpdate(srv.OnSessionUpdate)
	return srv
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func startSession(t *testing.T, h http.Handler, body string) string {
	t.Helper()
	w, out := do(t, h, "POST", "/sessions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := out["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestServer_Health(t *testing.T) {
	h := newTestServer(t, jpeg, detectAlways("happy"), 0).Handler()
	w, out := do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["ok"])
}

func TestServer_Emotion(t *testing.T) {
	tests := []struct {
		name    string
		frames  emotion.FrameSource
		source  emotion.EmotionSource
		ok      bool
		emotion string
	}{
		{"detected", jpeg, detectAlways("happy"), true, "happy"},
		{"no camera", emotion.StaticSource{}, detectAlways("happy"), true, "camera_error"},
		{"no face", jpeg, emotion.SourceFunc(func(context.Context, emotion.Frame) (emotion.Detection, bool, error) {
			return emotion.Detection{}, false, nil
		}), true, "no_face"},
		{"detector down", jpeg, emotion.SourceFunc(func(context.Context, emotion.Frame) (emotion.Detection, bool, error) {
			return emotion.Detection{}, false, errors.New("connection refused")
		}), false, "server_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.frames, tt.source, 0).Handler()
			w, out := do(t, h, "GET", "/emotion", "")
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.ok, out["ok"])
			assert.Equal(t, tt.emotion, out["emotion"])
		})
	}
}

func TestServer_EmotionHistory(t *testing.T) {
	h := newTestServer(t, jpeg, detectAlways("sad"), 0).Handler()
	do(t, h, "GET", "/emotion", "")

	w, out := do(t, h, "GET", "/emotion/history", "")
	assert.Equal(t, http.StatusOK, w.Code)
	readings, ok := out["readings"].([]any)
	require.True(t, ok)
	assert.Len(t, readings, 1)
}

func TestServer_StartSessionValidation(t *testing.T) {
	h := newTestServer(t, jpeg, detectAlways("happy"), 0).Handler()

	for _, body := range []string{"invalid json", `{"duration":10}`, `{"duration":10,"interval":0}`, `{"duration":-5,"interval":1}`} {
		w, out := do(t, h, "POST", "/sessions", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, false, out["ok"], body)
		assert.NotEmpty(t, out["error"], body)
	}
}

func TestServer_MaxSessions(t *testing.T) {
	h := newTestServer(t, jpeg, detectAlways("happy"), 1).Handler()
	startSession(t, h, `{"duration":0,"interval":60}`)

	w, out := do(t, h, "POST", "/sessions", `{"duration":0,"interval":60}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, false, out["ok"])
}

func TestServer_UnknownSession(t *testing.T) {
	h := newTestServer(t, jpeg, detectAlways("happy"), 0).Handler()

	for _, tc := range []struct{ method, path string }{
		{"GET", "/sessions/nonexistent"},
		{"POST", "/sessions/nonexistent/stop"},
		{"DELETE", "/sessions/nonexistent"},
		{"GET", "/sessions/nonexistent/report"},
		{"GET", "/sessions/nonexistent/summary"},
		{"GET", "/sessions/nonexistent/download"},
	} {
		w, out := do(t, h, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
		assert.Equal(t, false, out["ok"], tc.path)
	}
}

func TestServer_SessionLifecycle(t *testing.T) {
	h := newTestServer(t, jpeg, detectAlways("happy"), 0).Handler()
	id := startSession(t, h, `{"duration":0,"interval":0.01}`)

	w, out := do(t, h, "GET", "/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["sessions"], 1)

	require.Eventually(t, func() bool {
		_, out := do(t, h, "GET", "/sessions/"+id+"/report", "")
		partial, ok := out["partial"].(map[string]any)
		if !ok {
			return false
		}
		data, _ := partial["data"].([]any)
		return out["status"] == "running" && len(data) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	w, out = do(t, h, "GET", "/sessions/"+id+"/download", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, out["ok"])

	w, _ = do(t, h, "POST", "/sessions/"+id+"/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	// stopping twice is fine
	w, _ = do(t, h, "DELETE", "/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		_, out := do(t, h, "GET", "/sessions/"+id, "")
		sess, _ := out["session"].(map[string]any)
		return sess["status"] == "stopped"
	}, 2*time.Second, 5*time.Millisecond)

	w, out = do(t, h, "GET", "/sessions/"+id+"/report", "")
	assert.Equal(t, http.StatusOK, w.Code)
	rep, ok := out["report"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, id, rep["id"])
	meta, _ := rep["meta"].(map[string]any)
	assert.Contains(t, meta, "sample_count")

	w, out = do(t, h, "GET", "/sessions/"+id+"/summary", "")
	assert.Equal(t, http.StatusOK, w.Code)
	sum, _ := out["summary"].(map[string]any)
	assert.Equal(t, "happy", sum["top_emotion"])
	assert.Equal(t, map[string]any{"happy": 100.0}, sum["percentages"])

	w, _ = do(t, h, "GET", "/sessions/"+id+"/download", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="`+id+`.json"`, w.Header().Get("Content-Disposition"))
	var downloaded report.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &downloaded))
	assert.Equal(t, id, downloaded.ID)
}

func TestServer_CORSHeaders(t *testing.T) {
	h := newTestServer(t, jpeg, detectAlways("happy"), 0).Handler()

	req := httptest.NewRequest("OPTIONS", "/sessions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"type":      msgType,
		"payload":   payload,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

// readUntil reads messages until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, msgType string) protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var msg protocol.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestServer_WebSocketStartAndStop(t *testing.T) {
	srv := newTestServer(t, jpeg, detectAlways("happy"), 0)
	ws := dialWS(t, srv)

	send(t, ws, protocol.TypeSessionStart, map[string]any{"duration": 0, "interval": 60})
	msg := readUntil(t, ws, protocol.TypeSessionUpdate)
	var started protocol.SessionUpdatePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &started))
	assert.Equal(t, "running", started.Status)
	assert.Equal(t, 60.0, started.Interval)

	send(t, ws, protocol.TypeSessionStop, map[string]any{"sessionId": started.ID})
	for {
		msg = readUntil(t, ws, protocol.TypeSessionUpdate)
		var p protocol.SessionUpdatePayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		if p.Status == "stopped" {
			assert.Equal(t, started.ID, p.ID)
			assert.NotEmpty(t, p.ReportLocation)
			break
		}
	}
}

func TestServer_WebSocketErrors(t *testing.T) {
	srv := newTestServer(t, jpeg, detectAlways("happy"), 0)
	ws := dialWS(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg := readUntil(t, ws, protocol.TypeError)
	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, protocol.ErrInvalidMessage, p.Code)

	send(t, ws, protocol.TypeSessionStop, map[string]any{"sessionId": "missing"})
	msg = readUntil(t, ws, protocol.TypeError)
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, protocol.ErrSessionNotFound, p.Code)
}

func TestServer_WebSocketReadings(t *testing.T) {
	srv := newTestServer(t, jpeg, detectAlways("neutral"), 0)
	ws := dialWS(t, srv)

	send(t, ws, protocol.TypeEmotionRequestLatest, map[string]any{})
	msg := readUntil(t, ws, protocol.TypeEmotionReading)
	var p protocol.EmotionReadingPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "neutral", p.Emotion)
	assert.Equal(t, string(emotion.OutcomeDetected), p.Kind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ForwardReadings(ctx)
	// keep sampling until the forwarder has subscribed and a broadcast lands
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.monitor.Refresh(ctx)
			}
		}
	}()
	msg = readUntil(t, ws, protocol.TypeEmotionReading)
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "neutral", p.Emotion)
}

func TestServer_OnReportSaved(t *testing.T) {
	srv := newTestServer(t, jpeg, detectAlways("happy"), 0)
	ws := dialWS(t, srv)

	// wait until the server registered the client
	require.Eventually(t, func() bool {
		srv.clientsMu.RLock()
		defer srv.clientsMu.RUnlock()
		return len(srv.clients) == 1
	}, time.Second, time.Millisecond)

	srv.OnReportSaved("abc")
	msg := readUntil(t, ws, protocol.TypeReportSaved)
	var p protocol.ReportSavedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "abc", p.ReportID)
}
