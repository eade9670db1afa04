package inventory

import (
	"strings"
	"time"
)

// DateLayout is the dd-mm-yyyy format used on the wire and in the flat file.
const DateLayout = "02-01-2006"

// DefaultLoanDays is the loan period applied when none is configured.
const DefaultLoanDays = 7

// DateOf truncates t to its calendar date, expressed as UTC midnight.
//
// The calendar day is taken in t's own location, so a local clock reading
// just after midnight maps to the local date, not the UTC one.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays adds whole calendar days to a date.
func AddDays(date time.Time, days int) time.Time {
	return date.AddDate(0, 0, days)
}

// FormatDate renders a date as dd-mm-yyyy. The zero time renders as "".
func FormatDate(date time.Time) string {
	if date.IsZero() {
		return ""
	}
	return date.Format(DateLayout)
}

// ParseDate parses a dd-mm-yyyy date. An empty string yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(DateLayout, s)
}
