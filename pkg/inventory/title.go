package inventory

import "time"

// State is the loan state of a copy, stored as its one-letter code.
type State byte

const (
	// Available copies can be borrowed; Date records the last return.
	Available State = 'D'

	// Loaned copies can be renewed or returned; Date is the due date.
	Loaned State = 'P'
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case Loaned:
		return "loaned"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == Available || s == Loaned
}

// Copy is one physical exemplar of a title.
type Copy struct {
	// Number is unique within the title
	Number int

	State State

	// Date is a calendar date at UTC midnight, zero when unknown.
	Date time.Time
}

// Title is a book identified by (ISBN, Name) together with its copies.
type Title struct {
	ISBN   int
	Name   string
	Copies []Copy
}

// CopyCount returns the number of copies of t.
func (t *Title) CopyCount() int {
	return len(t.Copies)
}

// Clone returns a deep copy of t.
func (t *Title) Clone() *Title {
	c := &Title{ISBN: t.ISBN, Name: t.Name, Copies: make([]Copy, len(t.Copies))}
	copy(c.Copies, t.Copies)
	return c
}

func (t *Title) copyIndex(number int) int {
	for i := range t.Copies {
		if t.Copies[i].Number == number {
			return i
		}
	}
	return -1
}
