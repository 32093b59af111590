// Package turnmodel defines the data model shared by the Turn State Machine
// and its callers: the TurnPhase enum, the per-turn TurnContext, and the
// session's conversation history entries.
package turnmodel

import (
	"context"
	"sync/atomic"
	"time"
)

// Phase is the state variable of a session's Turn State Machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseTranscribed
	PhaseThinking
	PhaseSpeaking
	PhaseInterrupted
	PhaseError
)

// String returns the human-readable name of the phase, as used in status
// frames and log output.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseTranscribed:
		return "transcribed"
	case PhaseThinking:
		return "thinking"
	case PhaseSpeaking:
		return "speaking"
	case PhaseInterrupted:
		return "interrupted"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// HistoryEntry is one turn of the session's conversation history.
type HistoryEntry struct {
	Role string // "user" or "assistant"
	Text string
}

// TurnContext exists only while a session is in PhaseThinking or
// PhaseSpeaking. It is created fresh on each THINKING entry and discarded
// (superseded) on the next one.
//
// Epoch is the session-wide generation counter captured at creation time;
// the Outbound Scheduler uses it to discard frames belonging to a
// superseded turn (see internal/outbound).
type TurnContext struct {
	TurnID uint64
	Epoch  uint64

	// UserText is the finalized transcript that started this turn.
	UserText string

	// ctx is cancelled when the turn is superseded, interrupted, or torn
	// down with the session. cancel is idempotent via context.CancelFunc.
	ctx    context.Context
	cancel context.CancelFunc

	// assistantText accumulates the LLM's streamed reply for this turn.
	// Accessed only from the turn task goroutine, so no lock is needed.
	assistantText string

	// segmentsOutstanding and llmDone together decide what SegmentFinished
	// reports: a turn is complete once the token stream has ended and the
	// last PCM chunk of the last segment has been sent.
	segmentsOutstanding atomic.Int32
	llmDone             atomic.Bool
}

// NewTurnContext creates a TurnContext as a child of parent, the session's
// root context. turnID and epoch are assigned by the caller (the state
// machine), which owns the monotonic counters.
func NewTurnContext(parent context.Context, turnID, epoch uint64, userText string) *TurnContext {
	ctx, cancel := context.WithCancel(parent)
	return &TurnContext{
		TurnID:   turnID,
		Epoch:    epoch,
		UserText: userText,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Context returns the turn's cancellation context.
func (t *TurnContext) Context() context.Context { return t.ctx }

// Cancel cancels the turn's context. Safe to call multiple times.
func (t *TurnContext) Cancel() { t.cancel() }

// Done reports whether the turn's context has been cancelled.
func (t *TurnContext) Done() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// AppendAssistantText appends fragment to the running assistant buffer and
// returns the accumulated text, as required by llm_response's "content"
// field (always the accumulated text, never just the delta).
func (t *TurnContext) AppendAssistantText(fragment string) string {
	t.assistantText += fragment
	return t.assistantText
}

// AssistantText returns the accumulated assistant text for this turn.
func (t *TurnContext) AssistantText() string { return t.assistantText }

// MarkLLMDone records that the token stream has ended.
func (t *TurnContext) MarkLLMDone() { t.llmDone.Store(true) }

// LLMDone reports whether the token stream has ended.
func (t *TurnContext) LLMDone() bool { return t.llmDone.Load() }

// SegmentStarted records that one more segment's synthesis is outstanding.
func (t *TurnContext) SegmentStarted() { t.segmentsOutstanding.Add(1) }

// SegmentFinished records that one outstanding segment's synthesis
// completed (its last PCM chunk was sent) and reports whether the turn is
// now fully complete: the LLM stream has ended and no segment remains
// outstanding.
func (t *TurnContext) SegmentFinished() (turnComplete bool) {
	remaining := t.segmentsOutstanding.Add(-1)
	return remaining == 0 && t.llmDone.Load()
}

// DeadlineContext returns a context.Context derived from parent that is
// cancelled when d elapses, along with its cancel func. Exported helper
// shared by the turn task for the LLM first-token, TTS first-chunk, and
// overall turn deadlines (spec §5 Timeouts).
func DeadlineContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
