// Package loanerr defines the error taxonomy shared by the DittoLoan client and server.
//
// Every failure that crosses a component boundary (channel, session, registry,
// inventory, persistence) is reported as an *Error carrying a Code. Callers
// branch on the code with errors.Is against the exported sentinels:
//
//	if errors.Is(err, loanerr.ErrNotFound) {
//	    // reply with a not-found response
//	}
//
// Process entry points translate the code into a distinct exit status with ExitCode.
package loanerr

import (
	"errors"
	"fmt"
)

// Code represents the category of a loan service error.
type Code int

const (
	// ChannelUnavailable indicates a named channel does not exist or has no peer.
	ChannelUnavailable Code = iota + 1

	// WriteExhausted indicates a message could not be written within the retry budget.
	WriteExhausted

	// HandshakeTimeout indicates the server did not confirm a session in time.
	HandshakeTimeout

	// HandshakeRejected indicates the server answered FAILED to a START signal.
	HandshakeRejected

	// ProtocolViolation indicates a peer sent a message that is not valid at this point.
	ProtocolViolation

	// PeerGone indicates the peer closed its end while we were writing to it.
	PeerGone

	// UnknownSession indicates a request from a client id with no registered session.
	UnknownSession

	// SessionExists indicates a START from a client id that already has a session.
	SessionExists

	// DisconnectTimeout indicates the server never closed the client's channel after STOP.
	DisconnectTimeout

	// NotFound indicates no title matches the requested (isbn, name) pair.
	NotFound

	// Unavailable indicates the title exists but no copy is in the required state.
	Unavailable

	// CorruptDatabase indicates the persisted inventory could not be parsed.
	CorruptDatabase

	// PersistenceFailure indicates the inventory could not be written back.
	PersistenceFailure

	// InvalidRequest indicates a malformed request (bad operation, oversized text).
	InvalidRequest
)

var codeNames = map[Code]string{
	ChannelUnavailable: "channel unavailable",
	WriteExhausted:     "write attempts exhausted",
	HandshakeTimeout:   "handshake timeout",
	HandshakeRejected:  "handshake rejected",
	ProtocolViolation:  "protocol violation",
	PeerGone:           "peer gone",
	UnknownSession:     "unknown session",
	SessionExists:      "session already exists",
	DisconnectTimeout:  "disconnect timeout",
	NotFound:           "not found",
	Unavailable:        "unavailable",
	CorruptDatabase:    "corrupt database",
	PersistenceFailure: "persistence failure",
	InvalidRequest:     "invalid request",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a categorized loan service error.
type Error struct {
	// Code is the error category
	Code Code

	// Message is a human-readable description of what failed
	Message string

	// Cause is the underlying error, if any
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrChannelUnavailable = &Error{Code: ChannelUnavailable}
	ErrWriteExhausted     = &Error{Code: WriteExhausted}
	ErrHandshakeTimeout   = &Error{Code: HandshakeTimeout}
	ErrHandshakeRejected  = &Error{Code: HandshakeRejected}
	ErrProtocolViolation  = &Error{Code: ProtocolViolation}
	ErrPeerGone           = &Error{Code: PeerGone}
	ErrUnknownSession     = &Error{Code: UnknownSession}
	ErrSessionExists      = &Error{Code: SessionExists}
	ErrDisconnectTimeout  = &Error{Code: DisconnectTimeout}
	ErrNotFound           = &Error{Code: NotFound}
	ErrUnavailable        = &Error{Code: Unavailable}
	ErrCorruptDatabase    = &Error{Code: CorruptDatabase}
	ErrPersistenceFailure = &Error{Code: PersistenceFailure}
	ErrInvalidRequest     = &Error{Code: InvalidRequest}
)

// New creates an *Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error around cause. A nil cause yields a plain New.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
