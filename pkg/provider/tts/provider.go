// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, OpenAI,
// or a local Piper instance) and presents a uniform streaming interface. The
// primary entry point is SynthesizeStream, which accepts a channel of text
// fragments — as produced by the Sentence Segmenter — and returns a channel
// of AudioChunk values carrying raw PCM audio as it becomes available, enabling low-latency
// pipelining between the LLM output and the Outbound Scheduler.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/arcvox/duplexd/pkg/types"
)

// AudioChunk is one unit emitted on the channel returned by SynthesizeStream.
// A normal chunk carries non-nil Data and a nil Err. Err is set only on a
// terminal chunk reporting that synthesis failed outright — the channel is
// closed immediately afterward, with no further Data chunks. This is the
// only way a caller distinguishes a mid-stream provider failure from the
// channel simply running out of text to synthesize: both close the channel
// the same way, so an implementation that fails without emitting a failed
// AudioChunk is indistinguishable from one that succeeded.
type AudioChunk struct {
	Data []byte
	Err  error
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel across different sessions.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and returns a
	// channel that emits AudioChunk values as they are synthesised. This design
	// allows the caller to pipe LLM streaming output directly into synthesis
	// without waiting for the full text to be available.
	//
	// The returned channel is closed by the implementation when all text has been
	// synthesised, when ctx is cancelled, or after a failed AudioChunk reports a
	// mid-stream error. The caller must drain the channel to avoid blocking the
	// provider's internal goroutines. Implementations must always drain the text
	// channel before returning, even on failure, so a caller still feeding
	// segments in is never left blocked on a send that will never be read.
	//
	// voice specifies the voice profile to use for synthesis. Providers should return
	// an error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started. Cancellation
	// is reported by ctx.Err(); a mid-stream provider failure is reported by a
	// final AudioChunk with a non-nil Err.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan AudioChunk, error)

	// ListVoices returns all voice profiles available from this provider. The list
	// reflects the provider's current catalogue and may change between calls if the
	// underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// CloneVoice creates a new voice profile by training on the supplied audio
	// samples. Each element of samples must be raw PCM or a provider-supported
	// encoded format (e.g., WAV, MP3 — consult the implementation).
	//
	// This is an expensive operation and should not be called in the hot path.
	// Returns a pointer to the newly created VoiceProfile (with a provider-assigned
	// ID) or an error if cloning fails. A nil samples slice or an empty slice should
	// return an error rather than panic.
	CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error)
}
