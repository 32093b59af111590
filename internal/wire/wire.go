// Package wire implements the client channel protocol: JSON control frames
// in both directions, InboundAudioFrame decoding on the client→server
// binary path, and the headerless server→client PCM binary path.
//
// The codec is a pure adapter: it parses, validates, and hands off frames
// in O(1) each. It holds no session state and makes no decisions about
// turn phase.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Client→server status-flag bit layout within InboundAudioFrame.
const (
	silenceHintBit      = 1 << 8
	firstChunkBit       = 1 << 9
	reservedBitsMask    = ^uint32((1 << 10) - 1)
	inboundHeaderBytes  = 8
	energyMask          = 0xFF
)

// ErrMalformedAudioFrame is returned by [DecodeInboundAudio] when the frame
// is too short, misaligned, or sets reserved bits.
var ErrMalformedAudioFrame = errors.New("wire: malformed inbound audio frame")

// InboundAudioFrame is one client→server binary message: a client-local
// timestamp, coarse energy and hint bits, and a 16-bit PCM body.
type InboundAudioFrame struct {
	TimestampMs    uint32
	Energy         uint8
	SilenceHint    bool
	FirstOfStream  bool
	PCM            []byte // 16-bit LE mono samples, body only (header stripped)
}

// DecodeInboundAudio parses a client→server binary message into an
// [InboundAudioFrame]. It returns [ErrMalformedAudioFrame] if the message is
// shorter than the 8-byte header, the PCM body is not a multiple of 2 bytes,
// or any reserved status-flag bit is set.
func DecodeInboundAudio(data []byte) (InboundAudioFrame, error) {
	if len(data) < inboundHeaderBytes {
		return InboundAudioFrame{}, fmt.Errorf("%w: %d bytes < header size", ErrMalformedAudioFrame, len(data))
	}
	body := data[inboundHeaderBytes:]
	if len(body)%2 != 0 {
		return InboundAudioFrame{}, fmt.Errorf("%w: body length %d not a multiple of 2", ErrMalformedAudioFrame, len(body))
	}

	flags := binary.LittleEndian.Uint32(data[4:8])
	if flags&reservedBitsMask != 0 {
		return InboundAudioFrame{}, fmt.Errorf("%w: reserved bits set (flags=%#x)", ErrMalformedAudioFrame, flags)
	}

	return InboundAudioFrame{
		TimestampMs:   binary.LittleEndian.Uint32(data[0:4]),
		Energy:        uint8(flags & energyMask),
		SilenceHint:   flags&silenceHintBit != 0,
		FirstOfStream: flags&firstChunkBit != 0,
		PCM:           body,
	}, nil
}

// EncodeInboundAudio is the inverse of [DecodeInboundAudio]. It is exported
// primarily for round-trip tests and for any future in-process client.
func EncodeInboundAudio(f InboundAudioFrame) []byte {
	buf := make([]byte, inboundHeaderBytes+len(f.PCM))
	binary.LittleEndian.PutUint32(buf[0:4], f.TimestampMs)

	flags := uint32(f.Energy) & energyMask
	if f.SilenceHint {
		flags |= silenceHintBit
	}
	if f.FirstOfStream {
		flags |= firstChunkBit
	}
	binary.LittleEndian.PutUint32(buf[4:8], flags)
	copy(buf[inboundHeaderBytes:], f.PCM)
	return buf
}

// ErrMalformedCommand is returned by [DecodeCommand] when the text message
// is not valid JSON or is missing the "command" field.
var ErrMalformedCommand = errors.New("wire: malformed client command")

// Command names recognised on the client→server text channel.
const (
	CommandStart        = "start"
	CommandStop         = "stop"
	CommandReset        = "reset"
	CommandInterrupt    = "interrupt"
	CommandClearQueues  = "clear_queues"
)

// ClientCommand is a decoded client→server JSON text frame.
type ClientCommand struct {
	Command string `json:"command"`
}

// DecodeCommand parses a client→server text message into a [ClientCommand].
func DecodeCommand(data []byte) (ClientCommand, error) {
	var cmd ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return ClientCommand{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if cmd.Command == "" {
		return ClientCommand{}, fmt.Errorf("%w: missing command field", ErrMalformedCommand)
	}
	return cmd, nil
}

// Server→client frame type discriminants.
const (
	TypeStatus                = "status"
	TypePartialTranscript     = "partial_transcript"
	TypeFinalTranscript       = "final_transcript"
	TypeLLMStatus             = "llm_status"
	TypeLLMResponse           = "llm_response"
	TypeTTSStart              = "tts_start"
	TypeTTSEnd                = "tts_end"
	TypeTTSStop               = "tts_stop"
	TypeInterruptAcknowledged = "interrupt_acknowledged"
	TypeStopAcknowledged      = "stop_acknowledged"
	TypeError                 = "error"
)

// Status values carried by a [TypeStatus] frame.
const (
	StatusListening = "listening"
	StatusStopped   = "stopped"
	StatusIdle      = "idle"
	StatusError     = "error"
)

// OutboundFrame is a server→client JSON text frame. Every frame carries
// Type and SessionID; turn-scoped frames additionally carry TurnID. Fields
// unused by a given Type are omitted from the wire encoding.
type OutboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	TurnID    uint64 `json:"turn_id,omitempty"`

	Status       string `json:"status,omitempty"`
	Message      string `json:"message,omitempty"`
	Content      string `json:"content,omitempty"`
	IsComplete   bool   `json:"is_complete,omitempty"`
	Format       string `json:"format,omitempty"`
	QueuesCleared bool  `json:"queues_cleared,omitempty"`
}

// Encode marshals f to its JSON wire representation.
func (f OutboundFrame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Status builds a status frame.
func Status(sessionID, status, message string) OutboundFrame {
	return OutboundFrame{Type: TypeStatus, SessionID: sessionID, Status: status, Message: message}
}

// PartialTranscript builds a partial_transcript frame.
func PartialTranscript(sessionID string, turnID uint64, content string) OutboundFrame {
	return OutboundFrame{Type: TypePartialTranscript, SessionID: sessionID, TurnID: turnID, Content: content}
}

// FinalTranscript builds a final_transcript frame.
func FinalTranscript(sessionID string, turnID uint64, content string) OutboundFrame {
	return OutboundFrame{Type: TypeFinalTranscript, SessionID: sessionID, TurnID: turnID, Content: content}
}

// LLMStatusProcessing builds the llm_status{processing} frame sent on
// THINKING entry.
func LLMStatusProcessing(sessionID string, turnID uint64) OutboundFrame {
	return OutboundFrame{Type: TypeLLMStatus, SessionID: sessionID, TurnID: turnID, Status: "processing"}
}

// LLMResponse builds an llm_response frame carrying the accumulated
// assistant text so far.
func LLMResponse(sessionID string, turnID uint64, content string, isComplete bool) OutboundFrame {
	return OutboundFrame{Type: TypeLLMResponse, SessionID: sessionID, TurnID: turnID, Content: content, IsComplete: isComplete}
}

// TTSStart builds the tts_start frame sent before the first PCM chunk of a turn.
func TTSStart(sessionID string, turnID uint64) OutboundFrame {
	return OutboundFrame{Type: TypeTTSStart, SessionID: sessionID, TurnID: turnID, Format: "pcm"}
}

// TTSEnd builds the tts_end frame sent after the last PCM chunk on normal completion.
func TTSEnd(sessionID string, turnID uint64) OutboundFrame {
	return OutboundFrame{Type: TypeTTSEnd, SessionID: sessionID, TurnID: turnID}
}

// TTSStop builds the tts_stop frame sent on abnormal stop (barge-in, interrupt, client stop).
func TTSStop(sessionID string, turnID uint64) OutboundFrame {
	return OutboundFrame{Type: TypeTTSStop, SessionID: sessionID, TurnID: turnID}
}

// InterruptAcknowledged builds the interrupt_acknowledged frame.
func InterruptAcknowledged(sessionID string, turnID uint64) OutboundFrame {
	return OutboundFrame{Type: TypeInterruptAcknowledged, SessionID: sessionID, TurnID: turnID}
}

// StopAcknowledged builds the stop_acknowledged frame.
func StopAcknowledged(sessionID string) OutboundFrame {
	return OutboundFrame{Type: TypeStopAcknowledged, SessionID: sessionID, QueuesCleared: true}
}

// Error builds an error frame. turnID is zero for session-level errors not
// scoped to a specific turn.
func Error(sessionID string, turnID uint64, message string) OutboundFrame {
	return OutboundFrame{Type: TypeError, SessionID: sessionID, TurnID: turnID, Message: message}
}
