// Package asr defines the Provider interface for streaming Automatic Speech
// Recognition backends.
//
// An ASR provider wraps a real-time transcription service (e.g., Deepgram or
// a local Whisper server) and exposes a uniform streaming interface. The
// central abstraction is SessionHandle: once opened, a session accepts raw
// PCM audio and emits two streams of Transcript values — low-latency
// partials for responsiveness and authoritative finals that drive the turn
// state machine.
//
// Implementations must be safe for concurrent use. Audio input and
// transcript output channels are goroutine-safe by construction.
package asr

import (
	"context"

	"github.com/arcvox/duplexd/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new
// ASR session. All fields must be compatible with what the underlying
// provider supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The wire protocol fixes
	// inbound audio at 16000.
	SampleRate int

	// Channels is the number of audio channels. The wire protocol fixes
	// inbound audio at 1 (mono).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US",
	// "de-DE"). An empty string lets the provider auto-detect the language,
	// if supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon domain terms. See types.KeywordBoost for the
	// boost intensity semantics.
	Keywords []types.KeywordBoost
}

// SessionHandle represents an open ASR streaming session. It is an
// interface so that test code can provide mock implementations without
// requiring a live provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to
// do so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk must be the stripped PCM body of an inbound
	// audio frame — the wire header is never forwarded. Calling SendAudio
	// after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values as the provider makes preliminary guesses. These
	// drive the LISTENING state but must not be treated as committed turn
	// content. The channel is closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals returns a read-only channel that emits authoritative
	// Transcript values once the provider has committed to a recognition
	// result. These are the values passed to the LLM as the user's turn.
	// The channel is closed when the session ends.
	Finals() <-chan types.Transcript

	// SetKeywords replaces the active keyword boost list without
	// restarting the session. Providers that do not support mid-session
	// keyword updates may return an error. Changes take effect on a
	// best-effort basis; already-buffered audio may still use the previous
	// keyword set.
	SetKeywords(keywords []types.KeywordBoost) error

	// Close terminates the session, flushes any pending audio, and
	// releases all associated resources. After Close returns, the Partials
	// and Finals channels are closed. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider is the abstraction over any ASR backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously, one per connected client.
type Provider interface {
	// StartStream opens a new streaming transcription session with the
	// given audio format and recognition configuration. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close
	// when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
