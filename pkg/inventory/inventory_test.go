package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoloan/pkg/clock"
	"github.com/marmos91/dittoloan/pkg/loanerr"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

// duneInventory is the example catalogue: "Dune" with one available and one
// long-overdue copy, clock frozen at 15-03-2024 10:30.
func duneInventory(t *testing.T) (*Inventory, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC))
	titles := []*Title{
		{ISBN: 42, Name: "Dune", Copies: []Copy{
			{Number: 1, State: Available},
			{Number: 2, State: Loaned, Date: date(t, "01-01-2020")},
		}},
		{ISBN: 7, Name: "Solaris", Copies: []Copy{
			{Number: 1, State: Loaned, Date: date(t, "20-03-2024")},
		}},
	}
	return New(titles, clk, DefaultLoanDays), clk
}

// ============================================================================
// Borrow
// ============================================================================

func TestBorrowFirstAvailable(t *testing.T) {
	inv, _ := duneInventory(t)

	c, err := inv.Borrow(42, "Dune")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Number)
	assert.Equal(t, Loaned, c.State)
	assert.Equal(t, "22-03-2024", FormatDate(c.Date))

	dune, err := inv.Lookup(42, "Dune")
	require.NoError(t, err)
	assert.Equal(t, Loaned, dune.Copies[0].State)
}

func TestBorrowUnavailableLeavesStateUnchanged(t *testing.T) {
	inv, _ := duneInventory(t)
	before := inv.Titles()

	_, err := inv.Borrow(7, "Solaris")
	assert.True(t, errors.Is(err, loanerr.ErrUnavailable))
	assert.Equal(t, before, inv.Titles())
}

func TestBorrowNotFound(t *testing.T) {
	inv, _ := duneInventory(t)

	_, err := inv.Borrow(43, "Dune")
	assert.True(t, errors.Is(err, loanerr.ErrNotFound))

	_, err = inv.Borrow(42, "dune")
	assert.True(t, errors.Is(err, loanerr.ErrNotFound))
}

func TestBorrowReturnRoundTrip(t *testing.T) {
	inv, clk := duneInventory(t)

	c, err := inv.Borrow(42, "Dune")
	require.NoError(t, err)
	_, err = inv.Borrow(42, "Dune")
	require.True(t, errors.Is(err, loanerr.ErrUnavailable))

	clk.Advance(48 * time.Hour)
	returned, err := inv.Return(42, "Dune", c.Number)
	require.NoError(t, err)
	assert.Equal(t, Available, returned.State)
	assert.Equal(t, "17-03-2024", FormatDate(returned.Date))

	again, err := inv.Borrow(42, "Dune")
	require.NoError(t, err)
	assert.Equal(t, c.Number, again.Number)
	assert.Equal(t, "24-03-2024", FormatDate(again.Date))
}

// ============================================================================
// Renew
// ============================================================================

func TestRenewLate(t *testing.T) {
	inv, _ := duneInventory(t)

	r, err := inv.Renew(42, "Dune", 2)
	require.NoError(t, err)
	assert.True(t, r.Late)
	assert.Equal(t, "22-03-2024", FormatDate(r.Copy.Date))
}

func TestRenewOnTimeExtendsFromDueDate(t *testing.T) {
	inv, _ := duneInventory(t)

	r, err := inv.Renew(7, "Solaris", 1)
	require.NoError(t, err)
	assert.False(t, r.Late)
	assert.Equal(t, "27-03-2024", FormatDate(r.Copy.Date))
}

func TestRenewOnDueDateIsOnTime(t *testing.T) {
	inv, clk := duneInventory(t)
	clk.Set(time.Date(2024, 3, 20, 23, 59, 0, 0, time.UTC))

	r, err := inv.Renew(7, "Solaris", 1)
	require.NoError(t, err)
	assert.False(t, r.Late)
	assert.Equal(t, "27-03-2024", FormatDate(r.Copy.Date))

	clk.Set(time.Date(2024, 3, 28, 0, 0, 1, 0, time.UTC))
	r, err = inv.Renew(7, "Solaris", 1)
	require.NoError(t, err)
	assert.True(t, r.Late)
	assert.Equal(t, "04-04-2024", FormatDate(r.Copy.Date))
}

func TestRenewRequiresLoanedCopy(t *testing.T) {
	inv, _ := duneInventory(t)

	_, err := inv.Renew(42, "Dune", 1)
	assert.True(t, errors.Is(err, loanerr.ErrUnavailable))

	_, err = inv.Renew(42, "Dune", 9)
	assert.True(t, errors.Is(err, loanerr.ErrUnavailable))

	_, err = inv.Renew(1, "Missing", 1)
	assert.True(t, errors.Is(err, loanerr.ErrNotFound))
}

func TestCalendarArithmeticAcrossMonthEnd(t *testing.T) {
	clk := clock.Fake(time.Date(2024, 2, 26, 12, 0, 0, 0, time.UTC))
	inv := New([]*Title{{ISBN: 1, Name: "Leap", Copies: []Copy{{Number: 1, State: Available}}}}, clk, 7)

	c, err := inv.Borrow(1, "Leap")
	require.NoError(t, err)
	assert.Equal(t, "04-03-2024", FormatDate(c.Date))
}

func TestDateUsesLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	clk := clock.Fake(time.Date(2024, 3, 15, 22, 0, 0, 0, loc))
	inv := New([]*Title{{ISBN: 1, Name: "Local", Copies: []Copy{{Number: 1, State: Available}}}}, clk, 1)

	c, err := inv.Borrow(1, "Local")
	require.NoError(t, err)
	assert.Equal(t, "16-03-2024", FormatDate(c.Date))
}

// ============================================================================
// Return and Lookup
// ============================================================================

func TestReturnRequiresLoanedCopy(t *testing.T) {
	inv, _ := duneInventory(t)

	_, err := inv.Return(42, "Dune", 1)
	assert.True(t, errors.Is(err, loanerr.ErrUnavailable))
}

func TestLookupIsReadOnly(t *testing.T) {
	inv, _ := duneInventory(t)

	dune, err := inv.Lookup(42, "Dune")
	require.NoError(t, err)
	assert.Equal(t, 2, dune.CopyCount())

	dune.Copies[0].State = Loaned
	again, err := inv.Lookup(42, "Dune")
	require.NoError(t, err)
	assert.Equal(t, Available, again.Copies[0].State)

	_, err = inv.Lookup(99, "Nope")
	assert.True(t, errors.Is(err, loanerr.ErrNotFound))
}

func TestDefaultPeriod(t *testing.T) {
	inv := New(nil, nil, 0)
	assert.Equal(t, DefaultLoanDays, inv.period)
	assert.Equal(t, 0, inv.Len())
}
