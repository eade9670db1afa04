package wire

// TextSize is the fixed byte length of every bounded string on the wire.
//
// Both peers must be built with the same value: changing it changes
// MessageSize and breaks compatibility between differently built binaries.
const TextSize = 64

// MessageSize is the encoded size of every message in bytes.
//
// Eight 4-byte XDR integers plus three fixed opaque strings. It is far below
// PIPE_BUF (4096 on Linux), so a single write of one message to a named pipe
// is atomic and never interleaves with other writers.
const MessageSize = 8*4 + 3*TextSize

// Tag discriminates the payload carried by a Message.
type Tag int32

const (
	// TagSignal marks a control-plane message (handshake, teardown, responses).
	TagSignal Tag = 0

	// TagBook marks a data-plane message carrying a book request or lookup result.
	TagBook Tag = 1

	// TagError marks an error notice with no payload.
	TagError Tag = 2
)

func (t Tag) String() string {
	switch t {
	case TagSignal:
		return "SIGNAL"
	case TagBook:
		return "BOOK"
	case TagError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SignalCode identifies a Signal.
type SignalCode int32

// Session signals.
const (
	SignalStart     SignalCode = 1
	SignalStop      SignalCode = -1
	SignalSucceeded SignalCode = 2
	SignalFailed    SignalCode = -2
)

// Book request outcomes, sent by the server as Signal responses.
const (
	SignalBorrowed    SignalCode = 10
	SignalRenewed     SignalCode = 11
	SignalRenewedLate SignalCode = 12
	SignalReturned    SignalCode = 13

	SignalNotFound    SignalCode = -10
	SignalUnavailable SignalCode = -11
	SignalInvalid     SignalCode = -12
)

var signalNames = map[SignalCode]string{
	SignalStart:       "START",
	SignalStop:        "STOP",
	SignalSucceeded:   "SUCCEEDED",
	SignalFailed:      "FAILED",
	SignalBorrowed:    "BORROWED",
	SignalRenewed:     "RENEWED",
	SignalRenewedLate: "RENEWED_LATE",
	SignalReturned:    "RETURNED",
	SignalNotFound:    "NOT_FOUND",
	SignalUnavailable: "UNAVAILABLE",
	SignalInvalid:     "INVALID",
}

func (c SignalCode) String() string {
	if name, ok := signalNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// Operation is the kind of book request.
type Operation int32

const (
	OpBorrow Operation = iota
	OpRenew
	OpReturn
	OpLookup
)

func (o Operation) String() string {
	switch o {
	case OpBorrow:
		return "BORROW"
	case OpRenew:
		return "RENEW"
	case OpReturn:
		return "RETURN"
	case OpLookup:
		return "LOOKUP"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether o is one of the four defined operations.
func (o Operation) Valid() bool {
	return o >= OpBorrow && o <= OpLookup
}

// Copy states as carried in the one-byte state field.
const (
	StateAvailable byte = 'D'
	StateLoaned    byte = 'P'
)
