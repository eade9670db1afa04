package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/dittoloan/pkg/loanerr"
)

// ErrTextTooLong is returned when a string does not fit in TextSize bytes.
var ErrTextTooLong = errors.New("text exceeds wire bound")

// frame is the fixed on-wire layout of a Message.
//
// Both payload arms are always present so every message has the same size;
// the arm not selected by Tag is zero-filled. Fixed [TextSize]byte arrays are
// encoded as XDR fixed-length opaque data (no length prefix), NUL-padded.
type frame struct {
	Sender int32
	Tag    int32

	SignalCode int32
	SignalText [TextSize]byte

	Operation  int32
	ISBN       int32
	Title      [TextSize]byte
	CopyCount  int32
	CopyNumber int32
	CopyState  uint32
	CopyDate   [TextSize]byte
}

// putText copies s into dst, rejecting strings that do not fit or contain NUL.
func putText(dst *[TextSize]byte, field, s string) error {
	if len(s) > TextSize {
		return loanerr.Wrap(loanerr.InvalidRequest, ErrTextTooLong,
			"%s is %d bytes, limit %d", field, len(s), TextSize)
	}
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return loanerr.New(loanerr.InvalidRequest, "%s contains a NUL byte", field)
	}
	copy(dst[:], s)
	return nil
}

// getText reads a NUL-padded string.
func getText(src *[TextSize]byte) string {
	if i := bytes.IndexByte(src[:], 0); i >= 0 {
		return string(src[:i])
	}
	return string(src[:])
}

// Encode serializes m into exactly MessageSize bytes.
func Encode(m *Message) ([]byte, error) {
	f := frame{Sender: m.Sender, Tag: int32(m.Tag())}

	switch p := m.Payload.(type) {
	case Signal:
		f.SignalCode = int32(p.Code)
		if err := putText(&f.SignalText, "signal text", p.Text); err != nil {
			return nil, err
		}
	case BookRequest:
		f.Operation = int32(p.Operation)
		f.ISBN = p.ISBN
		f.CopyCount = p.CopyCount
		f.CopyNumber = p.Copy.Number
		f.CopyState = uint32(p.Copy.State)
		if err := putText(&f.Title, "title", p.Title); err != nil {
			return nil, err
		}
		if err := putText(&f.CopyDate, "copy date", p.Copy.Date); err != nil {
			return nil, err
		}
	case Failure, nil:
	}

	buf := bytes.NewBuffer(make([]byte, 0, MessageSize))
	if _, err := xdr.Marshal(buf, &f); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if buf.Len() != MessageSize {
		return nil, fmt.Errorf("encode message: got %d bytes, want %d", buf.Len(), MessageSize)
	}
	return buf.Bytes(), nil
}

// Decode parses one message from exactly MessageSize bytes.
//
// A tag outside the known set is a ProtocolViolation. Payload fields of the
// arm not selected by the tag are ignored.
func Decode(data []byte) (*Message, error) {
	if len(data) != MessageSize {
		return nil, loanerr.New(loanerr.ProtocolViolation,
			"message is %d bytes, want %d", len(data), MessageSize)
	}

	var f frame
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &f); err != nil {
		return nil, loanerr.Wrap(loanerr.ProtocolViolation, err, "decode message")
	}

	m := &Message{Sender: f.Sender}
	switch Tag(f.Tag) {
	case TagSignal:
		m.Payload = Signal{Code: SignalCode(f.SignalCode), Text: getText(&f.SignalText)}
	case TagBook:
		if f.CopyState > 0xff {
			return nil, loanerr.New(loanerr.ProtocolViolation, "copy state %d out of range", f.CopyState)
		}
		m.Payload = BookRequest{
			Operation: Operation(f.Operation),
			ISBN:      f.ISBN,
			Title:     getText(&f.Title),
			CopyCount: f.CopyCount,
			Copy: Copy{
				Number: f.CopyNumber,
				State:  byte(f.CopyState),
				Date:   getText(&f.CopyDate),
			},
		}
	case TagError:
		m.Payload = Failure{}
	default:
		return nil, loanerr.New(loanerr.ProtocolViolation, "unknown tag %d from sender %d", f.Tag, f.Sender)
	}
	return m, nil
}

// Send encodes m and writes it with a single Write call.
//
// Callers rely on the single write for atomicity on pipes; a short write is
// reported as io.ErrShortWrite.
func Send(w io.Writer, m *Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	n, err := w.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return io.ErrShortWrite
	}
	return nil
}

// Receive reads exactly one message from r.
//
// io.EOF is returned unchanged when r ends cleanly between messages, so
// callers can tell "no writer" apart from a torn message, which is a
// ProtocolViolation.
func Receive(r io.Reader) (*Message, error) {
	buf := make([]byte, MessageSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, loanerr.Wrap(loanerr.ProtocolViolation, err, "truncated message")
		}
		return nil, err
	}
	return Decode(buf)
}
