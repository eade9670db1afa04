package wire

// Payload is the closed set of message bodies: Signal, BookRequest or Failure.
type Payload interface {
	tag() Tag
}

// Signal is a control-plane payload: a code and an optional bounded text.
type Signal struct {
	Code SignalCode
	Text string
}

// Copy describes one physical exemplar of a title.
type Copy struct {
	// Number is unique within the title
	Number int32

	// State is StateAvailable or StateLoaned
	State byte

	// Date is dd-mm-yyyy: the due date when loaned, the last return date otherwise
	Date string
}

// BookRequest is a data-plane payload.
//
// Clients fill Operation, ISBN, Title and (for renew/return) Copy.Number.
// Lookup responses carry the full title record: CopyCount plus one Copy.
type BookRequest struct {
	Operation Operation
	ISBN      int32
	Title     string
	CopyCount int32
	Copy      Copy
}

// Failure is an error notice with no payload.
type Failure struct{}

func (Signal) tag() Tag      { return TagSignal }
func (BookRequest) tag() Tag { return TagBook }
func (Failure) tag() Tag     { return TagError }

// Message is the unit exchanged over a channel.
type Message struct {
	// Sender is the process id of the client the message is from or addressed to
	Sender int32

	// Payload is one of Signal, BookRequest or Failure
	Payload Payload
}

// Tag returns the discriminant for m's payload.
func (m *Message) Tag() Tag {
	if m.Payload == nil {
		return TagError
	}
	return m.Payload.tag()
}

// Signal returns the signal payload, if m carries one.
func (m *Message) Signal() (Signal, bool) {
	s, ok := m.Payload.(Signal)
	return s, ok
}

// Book returns the book payload, if m carries one.
func (m *Message) Book() (BookRequest, bool) {
	b, ok := m.Payload.(BookRequest)
	return b, ok
}

// NewSignal builds a signal message.
func NewSignal(sender int32, code SignalCode, text string) *Message {
	return &Message{Sender: sender, Payload: Signal{Code: code, Text: text}}
}

// NewBook builds a book message.
func NewBook(sender int32, req BookRequest) *Message {
	return &Message{Sender: sender, Payload: req}
}

// NewFailure builds an error notice.
func NewFailure(sender int32) *Message {
	return &Message{Sender: sender, Payload: Failure{}}
}
