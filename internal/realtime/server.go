package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"goa.design/clue/log"

	"moodcam/internal/live"
	"moodcam/internal/protocol"
	"moodcam/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBufSize   = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the UI may be served from another local port
	},
}

// Server exposes the live reading and the recording sessions over REST and
// pushes their changes to WebSocket clients.
type Server struct {
	ctx       context.Context
	sessions  *session.Manager
	monitor   *live.Monitor
	staticDir string

	clients   map[*client]bool
	clientsMu sync.RWMutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a new realtime server. ctx carries the logger.
func New(ctx context.Context, sessions *session.Manager, monitor *live.Monitor, staticDir string) *Server {
	return &Server{
		ctx:       ctx,
		sessions:  sessions,
		monitor:   monitor,
		staticDir: staticDir,
		clients:   make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured. Requests are
// logged except for the long-lived WebSocket connections.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("GET /health", s.handleHealth)
	api.HandleFunc("GET /emotion", s.handleEmotion)
	api.HandleFunc("GET /emotion/history", s.handleEmotionHistory)

	api.HandleFunc("POST /sessions", s.handleStartSession)
	api.HandleFunc("GET /sessions", s.handleListSessions)
	api.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	api.HandleFunc("POST /sessions/{id}/stop", s.handleStopSession)
	api.HandleFunc("DELETE /sessions/{id}", s.handleStopSession)
	api.HandleFunc("GET /sessions/{id}/report", s.handleReport)
	api.HandleFunc("GET /sessions/{id}/summary", s.handleSummary)
	api.HandleFunc("GET /sessions/{id}/download", s.handleDownload)

	if s.staticDir != "" {
		api.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/", log.HTTP(s.ctx)(api))

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ForwardReadings pushes every live reading to the WebSocket clients until
// ctx is done.
func (s *Server) ForwardReadings(ctx context.Context) {
	id, ch, _ := s.monitor.Subscribe()
	defer s.monitor.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			s.broadcastReading(r)
		}
	}
}

// OnSessionUpdate is the session manager callback.
func (s *Server) OnSessionUpdate(v session.View) {
	msg, err := protocol.NewMessage(protocol.TypeSessionUpdate, sessionPayload(v))
	if err != nil {
		return
	}
	s.broadcast(msg)
}

// OnReportSaved is the report watcher callback.
func (s *Server) OnReportSaved(id string) {
	msg, err := protocol.NewMessage(protocol.TypeReportSaved, protocol.ReportSavedPayload{ReportID: id})
	if err != nil {
		return
	}
	s.broadcast(msg)
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(s.ctx, err, log.KV{K: "msg", V: "websocket upgrade"})
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	// bring the new client up to date
	for _, v := range s.sessions.List() {
		if msg, err := protocol.NewMessage(protocol.TypeSessionUpdate, sessionPayload(v)); err == nil {
			c.enqueue(msg)
		}
	}
	if latest, ok := s.monitor.Latest(); ok {
		if msg, err := protocol.NewMessage(protocol.TypeEmotionReading, readingPayload(latest)); err == nil {
			c.enqueue(msg)
		}
	}

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn(c.server.ctx, log.KV{K: "msg", V: "websocket read"}, log.KV{K: "err", V: err.Error()})
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the message when the client is too slow.
func (c *client) enqueue(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
	}
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeSessionStart:
		s.handleWSStart(c, msg)
	case protocol.TypeSessionStop:
		s.handleWSStop(c, msg)
	case protocol.TypeEmotionRequestLatest:
		s.handleWSLatest(c)
	}
}

func (s *Server) handleWSStart(c *client, msg *protocol.Message) {
	var payload protocol.SessionStartPayload
	json.Unmarshal(msg.Payload, &payload)

	var duration float64
	if payload.Duration != nil {
		duration = *payload.Duration
	}
	cfg, err := session.ConfigFromSeconds(duration, *payload.Interval)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidConfig, err.Error())
		return
	}

	// the session.update broadcast answers the client
	if _, err := s.sessions.Start(cfg); err != nil {
		code := protocol.ErrStartFailed
		switch {
		case errors.Is(err, session.ErrInvalidConfig):
			code = protocol.ErrInvalidConfig
		case errors.Is(err, session.ErrTooManySessions):
			code = protocol.ErrMaxSessions
		}
		s.sendError(c, code, err.Error())
	}
}

func (s *Server) handleWSStop(c *client, msg *protocol.Message) {
	var payload protocol.SessionStopPayload
	json.Unmarshal(msg.Payload, &payload)

	if err := s.sessions.Stop(payload.SessionID); err != nil {
		s.sendError(c, protocol.ErrSessionNotFound, err.Error())
	}
}

func (s *Server) handleWSLatest(c *client) {
	r, ok := s.monitor.Latest()
	if !ok {
		r = s.monitor.Refresh(s.ctx)
	}
	msg, err := protocol.NewMessage(protocol.TypeEmotionReading, readingPayload(r))
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (s *Server) broadcastReading(r live.Reading) {
	msg, err := protocol.NewMessage(protocol.TypeEmotionReading, readingPayload(r))
	if err != nil {
		return
	}
	s.broadcast(msg)
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}

func (s *Server) sendError(c *client, code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func sessionPayload(v session.View) protocol.SessionUpdatePayload {
	p := protocol.SessionUpdatePayload{
		ID:                v.ID,
		Status:            string(v.Status),
		DurationRequested: v.DurationRequested,
		Interval:          v.Interval,
		StopRequested:     v.StopRequested,
		SampleCount:       v.SampleCount,
		CreatedAt:         v.CreatedAt.Format(time.RFC3339Nano),
		ReportLocation:    v.ReportLocation,
		Error:             v.Error,
	}
	if v.EndedAt != nil {
		p.EndedAt = v.EndedAt.Format(time.RFC3339Nano)
	}
	return p
}

func readingPayload(r live.Reading) protocol.EmotionReadingPayload {
	return protocol.EmotionReadingPayload{
		Emotion:    r.Label,
		Confidence: r.Confidence,
		Kind:       string(r.Kind),
		CapturedAt: r.Timestamp.Format(time.RFC3339Nano),
	}
}
