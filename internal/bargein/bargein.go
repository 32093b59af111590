// Package bargein implements the VAD / Barge-in Gate: it watches inbound
// audio frames while the session is speaking and fires an internal
// interrupt when it judges the user has started talking over playback.
package bargein

import "github.com/arcvox/duplexd/internal/wire"

// Gate evaluates consecutive [wire.InboundAudioFrame] values for barge-in
// candidacy. Not safe for concurrent use; the orchestrator drives it from
// a single goroutine (the inbound demux task).
type Gate struct {
	energyThreshold uint8
	dwellRequired   int

	consecutive int
}

// New constructs a Gate. threshold is the minimum coarse energy (0-255)
// that counts as candidate speech; dwell is the number of consecutive
// above-threshold frames required before a barge-in fires.
func New(threshold uint8, dwell int) *Gate {
	if dwell < 1 {
		dwell = 1
	}
	return &Gate{energyThreshold: threshold, dwellRequired: dwell}
}

// Evaluate feeds one inbound frame to the gate. It only makes sense to call
// this while the session's TurnPhase is THINKING or SPEAKING; callers
// should call [Gate.Reset] on every other phase so stale dwell counts don't
// leak across turns.
//
// Returns true the instant the dwell requirement is met, i.e. on the frame
// that completes the run, not on every subsequent above-threshold frame.
func (g *Gate) Evaluate(frame wire.InboundAudioFrame) bool {
	if frame.SilenceHint || frame.Energy < g.energyThreshold {
		g.consecutive = 0
		return false
	}

	g.consecutive++
	if g.consecutive < g.dwellRequired {
		return false
	}
	// Fired: reset so a sustained loud stretch doesn't fire repeatedly.
	g.consecutive = 0
	return true
}

// Reset clears the dwell counter. Call when leaving THINKING/SPEAKING so a
// partial run from one turn never counts toward the next.
func (g *Gate) Reset() {
	g.consecutive = 0
}
