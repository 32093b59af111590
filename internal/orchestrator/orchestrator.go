// Package orchestrator implements the Session Orchestrator (spec §4.5): the
// per-connection owner of the inbound demux task, the ASR event-forwarding
// task, and the idle-timeout watchdog. The outbound scheduler and the
// transient turn task are owned by internal/outbound and internal/turn
// respectively; the orchestrator wires all four together for one client
// connection.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arcvox/duplexd/internal/config"
	"github.com/arcvox/duplexd/internal/observe"
	"github.com/arcvox/duplexd/internal/outbound"
	"github.com/arcvox/duplexd/internal/transcript"
	"github.com/arcvox/duplexd/internal/turn"
	"github.com/arcvox/duplexd/internal/wire"
	"github.com/arcvox/duplexd/pkg/provider/asr"
	"github.com/arcvox/duplexd/pkg/provider/llm"
	"github.com/arcvox/duplexd/pkg/provider/tts"
	"github.com/arcvox/duplexd/pkg/types"
)

// Conn is the transport a Session reads client frames from and writes
// server frames to. It embeds outbound.Conn so a *Session can hand the same
// value to outbound.New. The server package supplies an implementation
// backed by *websocket.Conn.
type Conn interface {
	outbound.Conn

	// ReadMessage blocks for the next client frame. binary is true for a
	// binary (audio) message, false for a text (JSON command) message.
	ReadMessage(ctx context.Context) (data []byte, binary bool, err error)
}

// Deps bundles everything needed to run one session.
type Deps struct {
	SessionID string
	Conn      Conn

	ASR asr.Provider
	LLM llm.Provider
	TTS tts.Provider

	ASRName string
	LLMName string
	TTSName string

	Voice      types.VoiceProfile
	Language   string
	Vocabulary []string

	Config  config.SessionConfig
	Metrics *observe.Metrics

	// Corrector optionally rewrites ASR finals against Vocabulary before
	// they reach the turn state machine. Nil disables correction.
	Corrector transcript.Pipeline
}

// Session owns one client connection end to end: the outbound scheduler,
// the turn state machine, the ASR session, and the two long-running tasks
// that feed them. It implements registry.Handle.
type Session struct {
	deps Deps
	cfg  config.SessionConfig

	out     *outbound.Scheduler
	machine *turn.Machine
	asrSess asr.SessionHandle

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// New opens an ASR session, constructs the outbound scheduler and turn
// state machine, and returns a Session ready for Run. The caller owns the
// returned Session and must call Close when done (directly, or by letting
// Run return and calling Close, or via a registry.Registry).
func New(ctx context.Context, deps Deps) (*Session, error) {
	cfg := deps.Config.WithDefaults()
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	asrSess, err := deps.ASR.StartStream(ctx, asr.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   deps.Language,
		Keywords:   keywordBoosts(deps.Vocabulary),
	})
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(ctx)

	out := outbound.New(deps.Conn, outbound.Config{
		PCMBlockBound: cfg.OutboundPCMBlockBound,
		OnTeardown: func(cause error) {
			slog.Warn("orchestrator: tearing down on outbound teardown", "session_id", deps.SessionID, "err", cause)
			cancel()
		},
	})

	machine := turn.New(sessCtx, turn.Deps{
		SessionID: deps.SessionID,
		LLM:       deps.LLM,
		LLMName:   deps.LLMName,
		TTS:       deps.TTS,
		TTSName:   deps.TTSName,
		Voice:     deps.Voice,
		Out:       out,
		Config:    cfg,
		Metrics:   deps.Metrics,
	})

	return &Session{
		deps:    deps,
		cfg:     cfg,
		out:     out,
		machine: machine,
		asrSess: asrSess,
		cancel:  cancel,
	}, nil
}

// SessionID implements registry.Handle.
func (s *Session) SessionID() string { return s.deps.SessionID }

// Run blocks until the session ends: the connection closes, ctx is
// cancelled, or the idle-timeout watchdog fires. It runs the inbound demux
// task and the ASR event-forwarding task concurrently via errgroup; the
// outbound scheduler's consumer goroutine and any in-flight turn task run
// independently and are torn down by Close.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.linkCancel(cancel)

	activity := make(chan struct{}, 1)
	notifyActivity := func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.inboundDemux(gctx, notifyActivity) })
	g.Go(func() error { return s.forwardASREvents(gctx) })
	g.Go(func() error { return s.idleWatchdog(gctx, activity) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// linkCancel records cancel so Close can unblock Run early.
func (s *Session) linkCancel(cancel context.CancelFunc) {
	prev := s.cancel
	s.cancel = func() {
		prev()
		cancel()
	}
}

// inboundDemux reads client frames and dispatches binary audio to the ASR
// session and the turn state machine's barge-in gate, and text commands to
// the turn state machine (spec §4.5, §4.1).
func (s *Session) inboundDemux(ctx context.Context, notifyActivity func()) error {
	for {
		data, binary, err := s.deps.Conn.ReadMessage(ctx)
		if err != nil {
			return err
		}
		notifyActivity()

		if binary {
			s.handleAudioFrame(ctx, data)
			continue
		}
		if err := s.handleCommand(ctx, data); err != nil {
			slog.Warn("orchestrator: malformed client command", "session_id", s.deps.SessionID, "err", err)
		}
	}
}

func (s *Session) handleAudioFrame(ctx context.Context, data []byte) {
	frame, err := wire.DecodeInboundAudio(data)
	if err != nil {
		slog.Warn("orchestrator: malformed inbound audio frame", "session_id", s.deps.SessionID, "err", err)
		return
	}
	s.machine.InboundFrame(ctx, frame)
	if err := s.asrSess.SendAudio(frame.PCM); err != nil {
		slog.Warn("orchestrator: asr send audio failed", "session_id", s.deps.SessionID, "err", err)
	}
}

func (s *Session) handleCommand(ctx context.Context, data []byte) error {
	cmd, err := wire.DecodeCommand(data)
	if err != nil {
		return err
	}
	switch cmd.Command {
	case wire.CommandStart:
		s.machine.Start(ctx)
	case wire.CommandStop:
		s.machine.Stop(ctx)
	case wire.CommandReset:
		s.machine.Reset(ctx)
		s.reopenASRAfterReset(ctx)
	case wire.CommandInterrupt:
		s.machine.Interrupt(ctx)
	case wire.CommandClearQueues:
		n := s.out.DrainPending()
		slog.Debug("orchestrator: cleared outbound queues", "session_id", s.deps.SessionID, "count", n)
	default:
		slog.Warn("orchestrator: unrecognised command", "session_id", s.deps.SessionID, "command", cmd.Command)
	}
	return nil
}

// reopenASRAfterReset closes and reopens the ASR session after a client
// reset, waiting ResetSettleDelay first to avoid racing a still-draining
// adapter socket.
func (s *Session) reopenASRAfterReset(ctx context.Context) {
	select {
	case <-time.After(s.cfg.ResetSettleDelay):
	case <-ctx.Done():
		return
	}
	_ = s.asrSess.Close()
	newSess, err := s.deps.ASR.StartStream(ctx, asr.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   s.deps.Language,
		Keywords:   keywordBoosts(s.deps.Vocabulary),
	})
	if err != nil {
		slog.Error("orchestrator: failed to reopen asr session after reset", "session_id", s.deps.SessionID, "err", err)
		return
	}
	s.asrSess = newSess
}

// forwardASREvents relays ASR partial and final transcripts into the turn
// state machine, applying optional vocabulary correction to finals first.
func (s *Session) forwardASREvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-s.asrSess.Partials():
			if !ok {
				return nil
			}
			s.machine.PartialTranscript(ctx, tr.Text)
		case tr, ok := <-s.asrSess.Finals():
			if !ok {
				return nil
			}
			s.machine.FinalTranscript(ctx, s.correct(ctx, tr))
		}
	}
}

// correct runs tr through the configured correction pipeline, falling back
// to the raw transcript text on a nil corrector, an empty vocabulary, or a
// pipeline error.
func (s *Session) correct(ctx context.Context, tr types.Transcript) string {
	if s.deps.Corrector == nil || len(s.deps.Vocabulary) == 0 {
		return tr.Text
	}
	corrected, err := s.deps.Corrector.Correct(ctx, tr, s.deps.Vocabulary)
	if err != nil {
		slog.Warn("orchestrator: transcript correction failed", "session_id", s.deps.SessionID, "err", err)
		return tr.Text
	}
	return corrected.Corrected
}

// idleWatchdog tears the session down after IdleTimeout with no inbound
// activity (spec §4.9). It reuses the teacher's timer-reset-on-activity
// idiom: the timer is stopped and drained before each reset to avoid a
// spurious immediate expiry.
func (s *Session) idleWatchdog(ctx context.Context, activity <-chan struct{}) error {
	timer := time.NewTimer(s.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.cfg.IdleTimeout)
		case <-timer.C:
			slog.Info("orchestrator: idle timeout, tearing down session", "session_id", s.deps.SessionID)
			return errIdleTimeout
		}
	}
}

var errIdleTimeout = errors.New("orchestrator: idle timeout")

// Close cancels the session's tasks, closes the ASR session, waits for any
// in-flight turn to finish, and stops the outbound scheduler. Safe to call
// multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.asrSess.Close()
		s.machine.Wait()
		s.out.Close()
	})
	return err
}

func keywordBoosts(vocabulary []string) []types.KeywordBoost {
	if len(vocabulary) == 0 {
		return nil
	}
	boosts := make([]types.KeywordBoost, len(vocabulary))
	for i, term := range vocabulary {
		boosts[i] = types.KeywordBoost{Keyword: term, Boost: 1.0}
	}
	return boosts
}
