// Package server exposes duplexd's HTTP surface: the /ws WebSocket accept
// endpoint that hands each connection to a new orchestrator.Session, plus
// health, readiness, and metrics endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/arcvox/duplexd/internal/config"
	"github.com/arcvox/duplexd/internal/health"
	"github.com/arcvox/duplexd/internal/observe"
	"github.com/arcvox/duplexd/internal/orchestrator"
	"github.com/arcvox/duplexd/internal/registry"
	"github.com/arcvox/duplexd/internal/transcript"
	"github.com/arcvox/duplexd/pkg/provider/asr"
	"github.com/arcvox/duplexd/pkg/provider/llm"
	"github.com/arcvox/duplexd/pkg/provider/tts"
	"github.com/arcvox/duplexd/pkg/types"
)

// maxMessageBytes bounds a single client frame. Inbound audio frames are
// small (tens of milliseconds of 16kHz mono PCM); this guards against a
// misbehaving client flooding one message.
const maxMessageBytes = 1 << 20

// wsConn adapts a *websocket.Conn to orchestrator.Conn.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) WriteText(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) WriteBinary(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageBinary, data)
}

func (w *wsConn) ReadMessage(ctx context.Context) ([]byte, bool, error) {
	typ, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, false, err
	}
	return data, typ == websocket.MessageBinary, nil
}

var _ orchestrator.Conn = (*wsConn)(nil)

// SessionFactory builds the per-session providers and voice/vocabulary
// choices for a newly accepted connection. Implementations typically read
// query parameters or headers off r to select a provider set; main.go wires
// a factory backed by the configured provider registry.
type SessionFactory func(r *http.Request) (SessionParams, error)

// SessionParams carries everything Server needs from the factory to build
// an orchestrator.Session for one connection.
type SessionParams struct {
	ASR asr.Provider
	LLM llm.Provider
	TTS tts.Provider

	ASRName string
	LLMName string
	TTSName string

	Voice      types.VoiceProfile
	Language   string
	Vocabulary []string
	Corrector  transcript.Pipeline
}

// Server owns the HTTP surface: /ws, /healthz, /readyz.
type Server struct {
	factory  SessionFactory
	registry *registry.Registry
	health   *health.Handler
	metrics  *observe.Metrics
	cfg      config.SessionConfig
}

// New constructs a Server. reg and metrics may be nil; a nil registry is
// replaced with a fresh private registry.New(), and a nil metrics uses
// observe.DefaultMetrics().
func New(factory SessionFactory, reg *registry.Registry, h *health.Handler, metrics *observe.Metrics, cfg config.SessionConfig) *Server {
	if reg == nil {
		reg = registry.New()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{factory: factory, registry: reg, health: h, metrics: metrics, cfg: cfg}
}

// Mux builds an *http.ServeMux with /ws and, if a health.Handler was
// supplied, /healthz and /readyz registered.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	if s.health != nil {
		s.health.Register(mux)
	}
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	params, err := s.factory(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		slog.Error("server: websocket accept failed", "err", err)
		return
	}
	c.SetReadLimit(maxMessageBytes)

	sessionID := newSessionID()
	ctx := r.Context()

	sess, err := orchestrator.New(ctx, orchestrator.Deps{
		SessionID:  sessionID,
		Conn:       &wsConn{c: c},
		ASR:        params.ASR,
		LLM:        params.LLM,
		TTS:        params.TTS,
		ASRName:    params.ASRName,
		LLMName:    params.LLMName,
		TTSName:    params.TTSName,
		Voice:      params.Voice,
		Language:   params.Language,
		Vocabulary: params.Vocabulary,
		Config:     s.cfg,
		Metrics:    s.metrics,
		Corrector:  params.Corrector,
	})
	if err != nil {
		slog.Error("server: failed to start session", "session_id", sessionID, "err", err)
		c.Close(websocket.StatusInternalError, "failed to start session")
		return
	}

	if err := s.registry.Register(sess); err != nil {
		slog.Error("server: session id collision", "session_id", sessionID, "err", err)
		sess.Close()
		c.Close(websocket.StatusInternalError, "session registration failed")
		return
	}
	defer s.registry.Remove(sessionID)

	s.metrics.SessionsActive.Add(ctx, 1)
	defer s.metrics.SessionsActive.Add(ctx, -1)

	if err := sess.Run(ctx); err != nil {
		slog.Info("server: session ended", "session_id", sessionID, "err", err)
	}
	sess.Close()
	c.Close(websocket.StatusNormalClosure, "session ended")
}

// ActiveSessions reports the number of sessions currently tracked by the
// server's registry, for use as a health.Checker.
func (s *Server) ActiveSessions() int {
	return s.registry.Len()
}

func newSessionID() string {
	return uuid.NewString()
}
