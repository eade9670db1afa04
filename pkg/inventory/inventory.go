// Package inventory holds the book catalogue and the loan state machine.
//
// Every operation finds its title by linear scan over (ISBN, name). Copies
// move between Available and Loaned:
//
//	Borrow:  first Available copy  -> Loaned, due = today + period
//	Renew:   given Loaned copy     -> Loaned, due = old due + period,
//	                                  or today + period when already overdue
//	Return:  given Loaned copy     -> Available, date = today
//	Lookup:  read-only
//
// A failed operation never changes state. Inventory is not safe for
// concurrent use: the server's single worker owns it.
package inventory

import (
	"time"

	"github.com/marmos91/dittoloan/pkg/clock"
	"github.com/marmos91/dittoloan/pkg/loanerr"
)

// Inventory is the in-memory catalogue.
type Inventory struct {
	titles []*Title
	clock  clock.Clock
	period int
}

// Renewal is the outcome of a successful Renew.
type Renewal struct {
	Copy Copy

	// Late is set when the copy was already overdue; the new due date then
	// counts from today instead of from the old due date.
	Late bool
}

// New wraps titles. periodDays below one falls back to DefaultLoanDays.
// The inventory takes ownership of titles.
func New(titles []*Title, clk clock.Clock, periodDays int) *Inventory {
	if clk == nil {
		clk = clock.Real()
	}
	if periodDays < 1 {
		periodDays = DefaultLoanDays
	}
	return &Inventory{titles: titles, clock: clk, period: periodDays}
}

func (inv *Inventory) today() time.Time {
	return DateOf(inv.clock.Now())
}

// find returns the title matching (isbn, name).
func (inv *Inventory) find(isbn int, name string) (*Title, error) {
	for _, t := range inv.titles {
		if t.ISBN == isbn && t.Name == name {
			return t, nil
		}
	}
	return nil, loanerr.New(loanerr.NotFound, "no title %q with isbn %d", name, isbn)
}

// loaned returns the copy numbered number of t, which must be on loan.
func loaned(t *Title, number int) (*Copy, error) {
	i := t.copyIndex(number)
	if i < 0 {
		return nil, loanerr.New(loanerr.Unavailable, "%q has no copy #%d", t.Name, number)
	}
	c := &t.Copies[i]
	if c.State != Loaned {
		return nil, loanerr.New(loanerr.Unavailable, "%q copy #%d is not on loan", t.Name, number)
	}
	return c, nil
}

// Borrow loans the first available copy of the title and returns it with
// its due date.
func (inv *Inventory) Borrow(isbn int, name string) (Copy, error) {
	t, err := inv.find(isbn, name)
	if err != nil {
		return Copy{}, err
	}

	for i := range t.Copies {
		c := &t.Copies[i]
		if c.State == Available {
			c.State = Loaned
			c.Date = AddDays(inv.today(), inv.period)
			return *c, nil
		}
	}
	return Copy{}, loanerr.New(loanerr.Unavailable, "every copy of %q is on loan", name)
}

// Renew extends the loan of copy number.
//
// A copy is overdue when its due date is strictly before today; renewing on
// the due date itself is on time.
func (inv *Inventory) Renew(isbn int, name string, number int) (Renewal, error) {
	t, err := inv.find(isbn, name)
	if err != nil {
		return Renewal{}, err
	}
	c, err := loaned(t, number)
	if err != nil {
		return Renewal{}, err
	}

	today := inv.today()
	late := c.Date.Before(today)
	if late {
		c.Date = AddDays(today, inv.period)
	} else {
		c.Date = AddDays(c.Date, inv.period)
	}
	return Renewal{Copy: *c, Late: late}, nil
}

// Return marks copy number available again and records today as its date.
func (inv *Inventory) Return(isbn int, name string, number int) (Copy, error) {
	t, err := inv.find(isbn, name)
	if err != nil {
		return Copy{}, err
	}
	c, err := loaned(t, number)
	if err != nil {
		return Copy{}, err
	}

	c.State = Available
	c.Date = inv.today()
	return *c, nil
}

// Lookup returns a copy of the title and all its copies.
func (inv *Inventory) Lookup(isbn int, name string) (*Title, error) {
	t, err := inv.find(isbn, name)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Titles returns a deep copy of the catalogue in inventory order.
func (inv *Inventory) Titles() []*Title {
	out := make([]*Title, len(inv.titles))
	for i, t := range inv.titles {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of titles.
func (inv *Inventory) Len() int {
	return len(inv.titles)
}
