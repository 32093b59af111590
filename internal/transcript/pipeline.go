// Package transcript implements optional vocabulary correction for ASR
// output before it reaches the turn state machine.
//
// Raw speech recognition output is rarely perfect for domain-specific
// vocabulary — product names, jargon, and proper nouns are frequently
// misheard. [Pipeline] applies phonetic matching ([PhoneticMatcher]) against
// an operator-supplied vocabulary list: fast, dictionary-free alignment
// based on pronunciation similarity, running in-process with no network
// calls.
//
// Each [Correction] records its confidence so callers can audit or log the
// substitution. An empty vocabulary list makes the pipeline a no-op.
//
// Implementations must be safe for concurrent use.
package transcript

import (
	"context"

	"github.com/arcvox/duplexd/pkg/types"
)

// Correction captures a single word-level substitution made by the pipeline.
type Correction struct {
	// Original is the word as produced by the ASR provider.
	Original string

	// Corrected is the replacement selected by the pipeline.
	Corrected string

	// Confidence is the pipeline's confidence in this substitution (0.0-1.0).
	Confidence float64
}

// CorrectedTranscript is the output of a [Pipeline.Correct] call.
type CorrectedTranscript struct {
	// Original is the raw transcript as received from the ASR provider.
	Original types.Transcript

	// Corrected is the full corrected transcript text.
	Corrected string

	// Corrections is the ordered list of word-level substitutions applied.
	// An empty (non-nil) slice means no corrections were necessary.
	Corrections []Correction
}

// Pipeline applies vocabulary correction to a raw [types.Transcript].
type Pipeline interface {
	// Correct processes transcript using the provided vocabulary list and
	// returns the corrected text with an itemised record of substitutions.
	//
	// When vocabulary is empty, Correct must return transcript.Text
	// unchanged with an empty Corrections slice.
	Correct(ctx context.Context, transcript types.Transcript, vocabulary []string) (*CorrectedTranscript, error)
}

// PhoneticMatcher resolves a single word (or short phrase) to a known
// vocabulary term based on pronunciation similarity. It must be fast enough
// for real-time use: no network calls, no blocking I/O.
type PhoneticMatcher interface {
	// Match attempts to find the term from vocabulary that is most
	// phonetically similar to word.
	//
	// When matched is false, corrected equals word unchanged and confidence
	// is 0.
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}
