// Package segmenter groups a stream of LLM token fragments into speakable
// [types.SpeechSegment] values, feeding the TTS Adapter without waiting for
// the full assistant response.
//
// A Segmenter is stateless across turns: callers construct one per turn and
// discard it once the token stream ends.
package segmenter

import (
	"strings"

	"github.com/arcvox/duplexd/pkg/types"
)

// terminators are the sentence-ending runes that flush a segment when
// followed by whitespace or end-of-stream. Includes CJK full-width
// punctuation alongside the ASCII set.
var terminators = map[rune]struct{}{
	'.': {}, '!': {}, '?': {},
	'。': {}, '？': {}, '！': {},
}

// Segmenter accumulates token text for a single turn and flushes complete
// [types.SpeechSegment] values on sentence boundaries, a hard length bound,
// or an explicit Flush call at stream end.
//
// Not safe for concurrent use; callers drive Feed/Flush from a single
// goroutine (the turn task).
type Segmenter struct {
	turnID   uint64
	maxChars int
	buf      strings.Builder
	next     int
}

// New constructs a Segmenter for turnID. maxChars is the hard length bound
// at which a segment is flushed regardless of punctuation; callers should
// pass [config.SessionConfig.SegmenterMaxChars] (already defaulted).
func New(turnID uint64, maxChars int) *Segmenter {
	return &Segmenter{turnID: turnID, maxChars: maxChars}
}

// Feed appends text to the rolling buffer and returns any complete segments
// it produces, in order. Multiple segments may be returned from a single
// Feed call when text contains several sentence boundaries. Once no boundary
// remains and the buffer holds at least maxChars bytes, the whole buffer is
// emitted as one segment, so a length-bound segment may exceed maxChars.
func (s *Segmenter) Feed(text string) []types.SpeechSegment {
	if text == "" {
		return nil
	}
	s.buf.WriteString(text)

	var out []types.SpeechSegment
	for {
		cur := s.buf.String()

		if idx := firstSentenceBoundary(cur); idx >= 0 {
			seg := cur[:idx+1]
			rest := strings.TrimLeft(cur[idx+1:], " \t\n\r")
			s.buf.Reset()
			s.buf.WriteString(rest)
			out = append(out, s.emit(seg))
			continue
		}

		if s.maxChars > 0 && len(cur) >= s.maxChars {
			s.buf.Reset()
			out = append(out, s.emit(cur))
			continue
		}

		return out
	}
}

// Flush emits any remaining buffered text as a final segment. Call once
// after the token stream ends. Returns the zero value and false if the
// buffer is empty.
func (s *Segmenter) Flush() (types.SpeechSegment, bool) {
	if s.buf.Len() == 0 {
		return types.SpeechSegment{}, false
	}
	text := s.buf.String()
	s.buf.Reset()
	return s.emit(text), true
}

func (s *Segmenter) emit(text string) types.SpeechSegment {
	seg := types.SpeechSegment{
		TurnID:       s.turnID,
		SegmentIndex: s.next,
		Text:         text,
	}
	s.next++
	return seg
}

// firstSentenceBoundary returns the byte index of the last byte of the first
// sentence-terminating rune that is immediately followed by whitespace, or
// -1 if none exists. The caller slices s[:idx+1] to include the terminator.
func firstSentenceBoundary(s string) int {
	type hit struct {
		end int
		r   rune
	}
	var prev *hit

	for i, r := range s {
		if prev != nil {
			switch r {
			case ' ', '\n', '\r', '\t':
				return prev.end
			}
			prev = nil
		}
		if _, ok := terminators[r]; ok {
			prev = &hit{end: i + len(string(r)) - 1, r: r}
		}
	}
	return -1
}
