package turnmodel

import (
	"errors"
	"fmt"
)

// Sentinel error kinds per the error taxonomy. Callers should wrap one of
// these with fmt.Errorf("%w: ...", ErrX, ...) and test with errors.Is.
var (
	// ErrClientProtocol covers malformed frames, unknown commands, and
	// audio alignment violations. Reported as an error frame; the session
	// continues.
	ErrClientProtocol = errors.New("turnmodel: client protocol error")

	// ErrAdapterTransient covers an adapter that is temporarily
	// unavailable or timed out. The current turn is cancelled and an
	// error frame is surfaced; the session remains.
	ErrAdapterTransient = errors.New("turnmodel: adapter transient error")

	// ErrAdapterFatal covers repeated failures of the same adapter kind.
	// The session is torn down with a terminal error frame.
	ErrAdapterFatal = errors.New("turnmodel: adapter fatal error")

	// ErrChannel covers a client channel write failure or abnormal close.
	// The session is torn down.
	ErrChannel = errors.New("turnmodel: channel error")

	// ErrInternalInvariant covers an event received for an unknown or
	// stale turn. The event is dropped and logged; the session does not
	// crash.
	ErrInternalInvariant = errors.New("turnmodel: internal invariant violation")
)

// Wrap returns an error that wraps kind with a formatted message, suitable
// for errors.Is(err, kind) checks at the call site.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
