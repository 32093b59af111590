package turnmodel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/arcvox/duplexd/internal/turnmodel"
)

func TestPhase_String(t *testing.T) {
	cases := map[turnmodel.Phase]string{
		turnmodel.PhaseIdle:        "idle",
		turnmodel.PhaseListening:   "listening",
		turnmodel.PhaseTranscribed: "transcribed",
		turnmodel.PhaseThinking:    "thinking",
		turnmodel.PhaseSpeaking:    "speaking",
		turnmodel.PhaseInterrupted: "interrupted",
		turnmodel.PhaseError:       "error",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
}

func TestTurnContext_AppendAssistantText_Accumulates(t *testing.T) {
	tc := turnmodel.NewTurnContext(context.Background(), 1, 1, "hello")
	if got := tc.AppendAssistantText("Hi"); got != "Hi" {
		t.Errorf("got %q, want %q", got, "Hi")
	}
	if got := tc.AppendAssistantText(" there."); got != "Hi there." {
		t.Errorf("got %q, want %q", got, "Hi there.")
	}
	if got := tc.AssistantText(); got != "Hi there." {
		t.Errorf("AssistantText() = %q, want %q", got, "Hi there.")
	}
}

func TestTurnContext_Cancel(t *testing.T) {
	tc := turnmodel.NewTurnContext(context.Background(), 1, 1, "hello")
	if tc.Done() {
		t.Fatal("expected not done before Cancel")
	}
	tc.Cancel()
	if !tc.Done() {
		t.Fatal("expected done after Cancel")
	}
	// Cancel must be idempotent.
	tc.Cancel()
}

func TestTurnContext_CancelPropagatesFromParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tc := turnmodel.NewTurnContext(parent, 1, 1, "hello")
	cancel()
	<-tc.Context().Done()
	if !tc.Done() {
		t.Fatal("expected turn context done after parent cancellation")
	}
}

func TestTurnContext_SegmentCompletion(t *testing.T) {
	tc := turnmodel.NewTurnContext(context.Background(), 1, 1, "hello")
	tc.SegmentStarted()
	tc.SegmentStarted()

	if complete := tc.SegmentFinished(); complete {
		t.Fatal("turn should not be complete: one segment still outstanding, LLM not done")
	}

	tc.MarkLLMDone()
	if complete := tc.SegmentFinished(); !complete {
		t.Fatal("turn should be complete: all segments finished and LLM done")
	}
}

func TestTurnContext_SegmentCompletion_WaitsForLLMDone(t *testing.T) {
	tc := turnmodel.NewTurnContext(context.Background(), 1, 1, "hello")
	tc.SegmentStarted()

	if complete := tc.SegmentFinished(); complete {
		t.Fatal("turn should not be complete before MarkLLMDone, even with zero segments outstanding")
	}
}

func TestWrap_PreservesErrorsIs(t *testing.T) {
	err := turnmodel.Wrap(turnmodel.ErrAdapterTransient, "asr stream closed: %v", errors.New("eof"))
	if !errors.Is(err, turnmodel.ErrAdapterTransient) {
		t.Errorf("expected errors.Is to match ErrAdapterTransient, got %v", err)
	}
}
