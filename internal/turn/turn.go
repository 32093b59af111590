// Package turn implements the Turn State Machine: the central driver that
// owns a session's TurnPhase and TurnContext and arbitrates every
// transition (spec §4.4). All mutable session state is owned by the
// Machine; every other task (inbound demux, ASR event forwarding, the
// barge-in gate) communicates with it through its exported methods, never
// by touching shared state directly.
package turn

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/arcvox/duplexd/internal/bargein"
	"github.com/arcvox/duplexd/internal/config"
	"github.com/arcvox/duplexd/internal/observe"
	"github.com/arcvox/duplexd/internal/outbound"
	"github.com/arcvox/duplexd/internal/segmenter"
	"github.com/arcvox/duplexd/internal/turnmodel"
	"github.com/arcvox/duplexd/internal/wire"
	"github.com/arcvox/duplexd/pkg/provider/llm"
	"github.com/arcvox/duplexd/pkg/provider/tts"
	"github.com/arcvox/duplexd/pkg/types"
)

// Deps bundles the providers and scheduler a Machine drives. All fields
// are required except Metrics, which defaults to a no-op collector when nil.
type Deps struct {
	SessionID string
	LLM       llm.Provider
	LLMName   string
	TTS       tts.Provider
	TTSName   string
	Voice     types.VoiceProfile
	Out       *outbound.Scheduler
	Config    config.SessionConfig
	Metrics   *observe.Metrics
}

// Machine drives one session's Turn State Machine. Safe for concurrent use;
// all exported methods acquire the internal mutex.
type Machine struct {
	deps Deps
	gate *bargein.Gate

	mu      sync.Mutex
	phase   turnmodel.Phase
	history []turnmodel.HistoryEntry
	nextID  uint64
	current *turnmodel.TurnContext

	sessionCtx context.Context
	wg         sync.WaitGroup
}

// New constructs a Machine in PhaseIdle. ctx is the session's root context;
// cancelling it tears down any in-flight turn.
func New(ctx context.Context, deps Deps) *Machine {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Machine{
		deps:       deps,
		gate:       bargein.New(deps.Config.BargeInEnergyThreshold, deps.Config.BargeInDwellFrames),
		phase:      turnmodel.PhaseIdle,
		sessionCtx: ctx,
	}
}

// Phase returns the current TurnPhase.
func (m *Machine) Phase() turnmodel.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Start handles the client "start" command: IDLE → LISTENING.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = turnmodel.PhaseListening
	m.sendStatus(ctx, wire.StatusListening, "")
}

// PartialTranscript forwards an ASR partial while LISTENING. Per §4.4 the
// phase does not change.
func (m *Machine) PartialTranscript(ctx context.Context, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != turnmodel.PhaseListening {
		return
	}
	m.enqueue(ctx, wire.PartialTranscript(m.deps.SessionID, 0, text))
}

// FinalTranscript handles an ASR final while LISTENING: LISTENING →
// TRANSCRIBED → THINKING, spawning the turn task. If the session is in
// SPEAKING or THINKING when a Final arrives, per §4.2 this is barge-in
// input and is treated as an interrupt followed immediately by a new turn.
func (m *Machine) FinalTranscript(ctx context.Context, text string) {
	m.mu.Lock()
	switch m.phase {
	case turnmodel.PhaseListening:
		// expected path
	case turnmodel.PhaseThinking, turnmodel.PhaseSpeaking:
		m.interruptLocked(ctx)
	default:
		m.mu.Unlock()
		return
	}
	m.enqueue(ctx, wire.FinalTranscript(m.deps.SessionID, 0, text))
	m.beginTurnLocked(ctx, text)
	m.mu.Unlock()
}

// InboundFrame feeds one raw audio frame to the barge-in gate. Only frames
// arriving while THINKING or SPEAKING are evaluated; frames in other phases
// are ignored for barge-in purposes (ASR still receives every frame via a
// separate path owned by the orchestrator).
func (m *Machine) InboundFrame(ctx context.Context, frame wire.InboundAudioFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != turnmodel.PhaseThinking && m.phase != turnmodel.PhaseSpeaking {
		m.gate.Reset()
		return
	}
	if m.gate.Evaluate(frame) {
		m.deps.Metrics.RecordBargeIn(ctx)
		m.interruptLocked(ctx)
	}
}

// Interrupt handles the client "interrupt" command, equivalent in effect to
// a detected barge-in.
func (m *Machine) Interrupt(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interruptLocked(ctx)
}

// interruptLocked cancels any active turn and transitions to INTERRUPTED
// then immediately to LISTENING, per §4.4. Caller must hold m.mu.
func (m *Machine) interruptLocked(ctx context.Context) {
	if m.current == nil {
		return
	}
	turnID := m.current.TurnID
	m.current.Cancel()
	m.deps.Out.BumpEpoch()
	m.deps.Metrics.RecordTurnCancelled(ctx, "interrupt")
	m.current = nil
	m.gate.Reset()

	m.phase = turnmodel.PhaseInterrupted
	m.enqueue(ctx, wire.TTSStop(m.deps.SessionID, turnID))
	m.enqueue(ctx, wire.InterruptAcknowledged(m.deps.SessionID, turnID))
	m.phase = turnmodel.PhaseListening
}

// timeoutLocked cancels tc after an expired deadline and reports the failure
// to the client, mirroring interruptLocked but emitting an error frame
// instead of interrupt_acknowledged, per §5's timeout handling. wasSpeaking
// must be captured by the caller before any phase mutation, since a timeout
// that fires during THINKING must not emit a spurious tts_stop. Caller must
// hold m.mu. No-op if tc has already been superseded.
func (m *Machine) timeoutLocked(ctx context.Context, tc *turnmodel.TurnContext, wasSpeaking bool, message string) {
	if m.current != tc {
		return
	}
	turnID := tc.TurnID
	tc.Cancel()
	m.deps.Out.BumpEpoch()
	m.deps.Metrics.RecordTurnCancelled(ctx, "timeout")
	m.current = nil
	m.gate.Reset()

	m.phase = turnmodel.PhaseListening
	if wasSpeaking {
		m.enqueue(ctx, wire.TTSStop(m.deps.SessionID, turnID))
	}
	m.enqueue(ctx, wire.Error(m.deps.SessionID, turnID, message))
	m.sendStatus(ctx, wire.StatusListening, "")
}

// expireTurn acquires the lock and delegates to timeoutLocked. Safe to call
// from any goroutine; tc identifies which turn the watchdog observed, so a
// deadline belonging to an already-superseded turn is silently ignored.
func (m *Machine) expireTurn(tc *turnmodel.TurnContext, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasSpeaking := m.phase == turnmodel.PhaseSpeaking
	m.timeoutLocked(m.sessionCtx, tc, wasSpeaking, message)
}

// Stop handles the client "stop" command: cancel any active turn, clear
// queues, and return to IDLE. Idempotent — calling Stop while already IDLE
// is a harmless no-op that still acknowledges.
func (m *Machine) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Cancel()
		m.deps.Out.BumpEpoch()
		m.deps.Metrics.RecordTurnCancelled(ctx, "client_stop")
		m.current = nil
	}
	m.gate.Reset()
	m.phase = turnmodel.PhaseIdle
	m.enqueue(ctx, wire.StopAcknowledged(m.deps.SessionID))
	m.sendStatus(ctx, wire.StatusStopped, "")
}

// Reset handles the client "reset" command: cancel any active turn, clear
// conversation history, and return to IDLE.
func (m *Machine) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Cancel()
		m.deps.Out.BumpEpoch()
		m.current = nil
	}
	m.gate.Reset()
	m.history = nil
	m.phase = turnmodel.PhaseIdle
	m.sendStatus(ctx, wire.StatusIdle, "")
}

// Fail transitions to PhaseError, sends an error frame, and attempts
// recovery to IDLE, per the teacher's plain-wrapped error-kind style and
// spec §4.4/§4.9 ("recover to IDLE if possible").
func (m *Machine) Fail(ctx context.Context, turnID uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Cancel()
		m.deps.Out.BumpEpoch()
		m.current = nil
	}
	m.phase = turnmodel.PhaseError
	m.enqueue(ctx, wire.Error(m.deps.SessionID, turnID, err.Error()))
	m.phase = turnmodel.PhaseIdle
}

// Wait blocks until every turn task spawned by this Machine has finished.
// Intended for tests and for graceful session teardown.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// runTurn drives one turn's LLM generation, sentence segmentation, and TTS
// synthesis, mirroring tokens back to the client and streaming PCM through
// the outbound scheduler. It runs entirely on tc.Epoch: once the turn is
// superseded, every frame it enqueues is silently dropped by the scheduler,
// so no explicit "am I still current" check is needed on the hot path.
func (m *Machine) runTurn(tc *turnmodel.TurnContext) {
	defer m.wg.Done()

	// Three nested deadlines per §5: the overall turn budget, and two
	// first-byte watchdogs that are cancelled the moment their event is
	// observed so they never fire once the corresponding provider is
	// already streaming.
	turnCtx, turnCancel := turnmodel.DeadlineContext(tc.Context(), m.deps.Config.TurnDeadline)
	defer turnCancel()
	llmCtx, llmCancel := turnmodel.DeadlineContext(turnCtx, m.deps.Config.LLMFirstTokenDeadline)
	defer llmCancel()
	ttsCtx, ttsCancel := turnmodel.DeadlineContext(turnCtx, m.deps.Config.TTSFirstChunkDeadline)
	defer ttsCancel()

	watch := func(dctx context.Context, message string) {
		go func() {
			<-dctx.Done()
			if errors.Is(dctx.Err(), context.DeadlineExceeded) {
				m.expireTurn(tc, message)
			}
		}()
	}
	watch(turnCtx, "turn deadline exceeded")
	watch(llmCtx, "llm timeout: no token received before deadline")
	watch(ttsCtx, "tts timeout: no audio received before deadline")

	enq := func(frame wire.OutboundFrame) {
		data, err := frame.Encode()
		if err != nil {
			slog.Error("turn: failed to encode outbound frame", "type", frame.Type, "err", err)
			return
		}
		_ = m.deps.Out.EnqueueText(turnCtx, tc.Epoch, data)
	}

	msgs := m.snapshotHistoryAsMessages()
	req := llm.CompletionRequest{Messages: msgs}

	chunks, err := m.deps.LLM.StreamCompletion(turnCtx, req)
	if err != nil {
		m.deps.Metrics.RecordProviderError(turnCtx, m.deps.LLMName, "llm")
		m.Fail(m.sessionCtx, tc.TurnID, err)
		return
	}

	seg := segmenter.New(tc.TurnID, m.deps.Config.SegmenterMaxChars)
	textCh := make(chan string, 16)
	speakingStarted := false

	audioCh, err := m.deps.TTS.SynthesizeStream(turnCtx, textCh, m.deps.Voice)
	if err != nil {
		close(textCh)
		m.deps.Metrics.RecordProviderError(turnCtx, m.deps.TTSName, "tts")
		m.Fail(m.sessionCtx, tc.TurnID, err)
		return
	}

	var audioWG sync.WaitGroup
	var ttsErr error
	gotFirstAudio := false
	audioWG.Add(1)
	go func() {
		defer audioWG.Done()
		for chunk := range audioCh {
			if chunk.Err != nil {
				ttsErr = chunk.Err
				continue
			}
			if !gotFirstAudio {
				gotFirstAudio = true
				ttsCancel()
			}
			_ = m.deps.Out.EnqueuePCM(turnCtx, tc.Epoch, chunk.Data)
		}
	}()

	emit := func(segs []types.SpeechSegment) {
		for _, s := range segs {
			if !speakingStarted {
				speakingStarted = true
				m.mu.Lock()
				m.phase = turnmodel.PhaseSpeaking
				m.mu.Unlock()
				enq(wire.TTSStart(m.deps.SessionID, tc.TurnID))
			}
			tc.SegmentStarted()
			select {
			case textCh <- s.Text:
			case <-turnCtx.Done():
				return
			}
		}
	}

	gotFirstToken := false
loop:
	for {
		select {
		case <-turnCtx.Done():
			break loop
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			if !gotFirstToken {
				gotFirstToken = true
				llmCancel()
			}
			acc := tc.AppendAssistantText(chunk.Text)
			enq(wire.LLMResponse(m.deps.SessionID, tc.TurnID, acc, false))
			emit(seg.Feed(chunk.Text))

			if chunk.FinishReason != "" {
				if final, ok := seg.Flush(); ok {
					emit([]types.SpeechSegment{final})
				}
				tc.MarkLLMDone()
				break loop
			}
		}
	}

	close(textCh)
	if !speakingStarted {
		// No segment was ever handed to the synthesizer; the first-chunk
		// deadline would otherwise fire spuriously waiting for audio that
		// was never going to be produced.
		ttsCancel()
	}
	audioWG.Wait()

	if turnCtx.Err() != nil {
		// Cancelled or timed out: interruptLocked/Stop/Reset/Fail/expireTurn
		// already sent the terminal frames for this turn.
		return
	}

	if ttsErr != nil {
		m.deps.Metrics.RecordProviderError(turnCtx, m.deps.TTSName, "tts")
		m.mu.Lock()
		m.history = append(m.history, turnmodel.HistoryEntry{Role: "assistant", Text: tc.AssistantText()})
		if m.current == tc {
			m.current = nil
		}
		m.phase = turnmodel.PhaseListening
		m.mu.Unlock()

		enq(wire.TTSEnd(m.deps.SessionID, tc.TurnID))
		enq(wire.Error(m.deps.SessionID, tc.TurnID, ttsErr.Error()))
		return
	}

	m.mu.Lock()
	m.history = append(m.history, turnmodel.HistoryEntry{Role: "assistant", Text: tc.AssistantText()})
	if m.current == tc {
		m.current = nil
	}
	m.phase = turnmodel.PhaseIdle
	m.mu.Unlock()

	enq(wire.LLMResponse(m.deps.SessionID, tc.TurnID, tc.AssistantText(), true))
	enq(wire.TTSEnd(m.deps.SessionID, tc.TurnID))
	m.deps.Metrics.TurnsCompleted.Add(turnCtx, 1)
}

// snapshotHistoryAsMessages converts the session's history into LLM
// messages under the lock, so runTurn can build its request without racing
// concurrent Reset/Stop calls.
func (m *Machine) snapshotHistoryAsMessages() []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]types.Message, len(m.history))
	for i, h := range m.history {
		msgs[i] = types.Message{Role: h.Role, Content: h.Text}
	}
	return msgs
}

// beginTurnLocked creates a new TurnContext, transitions to THINKING, and
// spawns the turn task. Caller must hold m.mu.
func (m *Machine) beginTurnLocked(ctx context.Context, userText string) {
	m.nextID++
	turnID := m.nextID
	epoch := m.deps.Out.CurrentEpoch()

	tc := turnmodel.NewTurnContext(m.sessionCtx, turnID, epoch, userText)
	m.current = tc
	m.history = append(m.history, turnmodel.HistoryEntry{Role: "user", Text: userText})

	m.phase = turnmodel.PhaseThinking
	m.enqueue(ctx, wire.LLMStatusProcessing(m.deps.SessionID, turnID))

	m.wg.Add(1)
	go m.runTurn(tc)
}

// sendStatus enqueues a status frame. Caller must hold m.mu.
func (m *Machine) sendStatus(ctx context.Context, status, message string) {
	m.enqueue(ctx, wire.Status(m.deps.SessionID, status, message))
}

// enqueue marshals frame and hands it to the outbound scheduler at the
// current epoch. Encoding failures are logged and dropped — they indicate a
// bug in frame construction, not a wire/client problem. Caller must hold
// m.mu.
func (m *Machine) enqueue(ctx context.Context, frame wire.OutboundFrame) {
	data, err := frame.Encode()
	if err != nil {
		slog.Error("turn: failed to encode outbound frame", "type", frame.Type, "err", err)
		return
	}
	if err := m.deps.Out.EnqueueText(ctx, m.deps.Out.CurrentEpoch(), data); err != nil {
		slog.Warn("turn: enqueue text frame failed", "type", frame.Type, "err", err)
	}
}
