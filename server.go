package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/wavecap/wavecap/internal/audio"
	"github.com/wavecap/wavecap/internal/capture"
	"github.com/wavecap/wavecap/internal/config"
	"github.com/wavecap/wavecap/internal/eventlog"
	"github.com/wavecap/wavecap/internal/recorder"
	"github.com/wavecap/wavecap/internal/server"
	"github.com/wavecap/wavecap/internal/transcribe"
)

// Server exposes the recording pipeline over HTTP: a small control API
// plus a WebSocket that streams state changes and live level metrics.
type Server struct {
	cfg      *config.Config
	recorder *recorder.Recorder
	logger   *slog.Logger
}

// NewServer returns a Server bound to the given recorder.
func NewServer(cfg *config.Config, rec *recorder.Recorder, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, recorder: rec, logger: logger}
}

// Start launches the HTTP listener and returns the underlying server
// for graceful shutdown.
func (s *Server) Start() *http.Server {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP server listening", "port", s.cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()

	return httpServer
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/recording/start", s.handleStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleStop)
	mux.HandleFunc("POST /api/recording/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/recording/retry", s.handleRetry)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.recorder.StartRecording(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.recorder.StopRecording(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	s.recorder.CancelRecording()
	s.writeState(w)
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	if err := s.recorder.RetryFromError(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"state":   s.recorder.State(),
		"stats":   s.recorder.Stats(),
		"metrics": s.recorder.Metrics(),
		"config":  s.cfg,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"devices": capture.Devices()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.EventLogPath == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{"events": []eventlog.Event{}, "has_more": false})
		return
	}

	n := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	filter := eventlog.TypeFilter(r.URL.Query().Get("filter"))

	events, hasMore, err := eventlog.ReadLast(s.cfg.EventLogPath, n, offset, filter)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events, "has_more": hasMore})
}

// wsMessage is the envelope streamed to WebSocket clients.
type wsMessage struct {
	Type    string            `json:"type"`
	State   *recorder.State   `json:"state,omitempty"`
	Metrics *audio.Metrics    `json:"metrics,omitempty"`
	Stats   *audio.Statistics `json:"stats,omitempty"`
	Silence string            `json:"silence,omitempty"`
	Error   any               `json:"error,omitempty"`
}

// statsPushInterval paces session statistics snapshots to the live meter.
const statsPushInterval = 500 * time.Millisecond

// handleWebSocket streams the live meter: every state transition, every
// per-buffer metrics snapshot and every silence transition.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine touches the connection for writes; the
	// send channel serializes everything. A slow client drops messages
	// instead of stalling the capture callbacks.
	send := make(chan wsMessage, 64)
	done := make(chan struct{})

	push := func(msg wsMessage) {
		select {
		case send <- msg:
		default:
		}
	}

	unsubscribe := s.recorder.Subscribe(recorder.Listener{
		OnStateChanged: func(_, current recorder.State) {
			push(wsMessage{Type: "state", State: &current})
		},
		OnMetrics: func(m audio.Metrics) {
			push(wsMessage{Type: "metrics", Metrics: &m})
		},
		OnSilenceChange: func(state audio.SilenceState, _ time.Duration) {
			push(wsMessage{Type: "silence", Silence: state.String()})
		},
		OnRecordingError: func(cerr *recorder.CaptureError) {
			push(wsMessage{Type: "error", Error: cerr})
		},
	})

	// Reader goroutine: commands are not accepted over the socket, but
	// reading is required to observe the close handshake.
	go func() {
		defer close(done)
		for {
			var discard json.RawMessage
			if err := conn.ReadJSON(&discard); err != nil {
				return
			}
		}
	}()

	// Stats ticker: while a session is active, push accumulated
	// statistics alongside the per-buffer metrics.
	go func() {
		ticker := time.NewTicker(statsPushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if s.recorder.State().Kind == recorder.StateRecording {
					stats := s.recorder.Stats()
					push(wsMessage{Type: "stats", Stats: &stats})
				}
			}
		}
	}()

	// Send the current state immediately so clients render without
	// waiting for the next transition.
	state := s.recorder.State()
	push(wsMessage{Type: "state", State: &state})

	s.runWebSocketWriter(conn, send, done)
	unsubscribe()
}

// runWebSocketWriter is the sole writer to the connection. Returns when
// the reader observes a close.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan wsMessage, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("WebSocket close error", "error", err)
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeState(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusOK, map[string]any{"state": s.recorder.State()})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var cerr *recorder.CaptureError
	if errors.As(err, &cerr) {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]any{"error": err.Error(), "state": s.recorder.State()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("Failed to encode response", "error", err)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// transcribeOptions snapshots the transcription settings for a session.
func transcribeOptions(cfg *config.Config) func() transcribe.Options {
	return func() transcribe.Options {
		return transcribe.Options{
			Language:    cfg.Language,
			Model:       cfg.Model,
			Prompt:      cfg.Prompt,
			Temperature: cfg.Temperature,
		}
	}
}
