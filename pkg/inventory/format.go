package inventory

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/marmos91/dittoloan/pkg/loanerr"
)

// The flat text format groups copies under a header line per title:
//
//	Dune,42,2
//	1,D,
//	2,P,01-01-2020
//
// The header is name,isbn,copyCount and is followed by exactly copyCount
// lines of copyNumber,state,date. Names cannot contain commas or newlines.
// Blank lines are ignored.

// Decode parses the flat text format. Any malformed input is CorruptDatabase.
func Decode(r io.Reader) ([]*Title, error) {
	scanner := bufio.NewScanner(r)
	lineNo := 0

	next := func() (string, bool) {
		for scanner.Scan() {
			lineNo++
			line := strings.TrimRight(scanner.Text(), "\r")
			if strings.TrimSpace(line) != "" {
				return line, true
			}
		}
		return "", false
	}

	var titles []*Title
	for {
		header, ok := next()
		if !ok {
			break
		}

		t, count, err := parseHeader(header)
		if err != nil {
			return nil, corrupt(lineNo, err)
		}

		for range count {
			line, ok := next()
			if !ok {
				return nil, loanerr.New(loanerr.CorruptDatabase,
					"title %q declares %d copies, found %d before end of input", t.Name, count, len(t.Copies))
			}
			c, err := parseCopy(line)
			if err != nil {
				return nil, corrupt(lineNo, err)
			}
			t.Copies = append(t.Copies, c)
		}
		titles = append(titles, t)
	}

	if err := scanner.Err(); err != nil {
		return nil, loanerr.Wrap(loanerr.CorruptDatabase, err, "read inventory")
	}
	if err := Validate(titles); err != nil {
		return nil, err
	}
	return titles, nil
}

func corrupt(lineNo int, err error) error {
	return loanerr.Wrap(loanerr.CorruptDatabase, err, "line %d", lineNo)
}

func parseHeader(line string) (*Title, int, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return nil, 0, fmt.Errorf("title header %q: want name,isbn,copyCount", line)
	}

	isbn, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return nil, 0, fmt.Errorf("title header %q: isbn: %w", line, err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil || count < 0 {
		return nil, 0, fmt.Errorf("title header %q: invalid copy count", line)
	}

	return &Title{ISBN: isbn, Name: fields[0], Copies: make([]Copy, 0, count)}, count, nil
}

func parseCopy(line string) (Copy, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return Copy{}, fmt.Errorf("copy %q: want copyNumber,state,date", line)
	}

	number, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return Copy{}, fmt.Errorf("copy %q: number: %w", line, err)
	}

	st := strings.TrimSpace(fields[1])
	if len(st) != 1 || !State(st[0]).Valid() {
		return Copy{}, fmt.Errorf("copy %q: state must be %c or %c", line, Available, Loaned)
	}

	date, err := ParseDate(fields[2])
	if err != nil {
		return Copy{}, fmt.Errorf("copy %q: date: %w", line, err)
	}

	return Copy{Number: number, State: State(st[0]), Date: date}, nil
}

// Encode writes titles in the flat text format.
func Encode(w io.Writer, titles []*Title) error {
	bw := bufio.NewWriter(w)
	for _, t := range titles {
		if strings.ContainsAny(t.Name, ",\n\r") {
			return loanerr.New(loanerr.InvalidRequest, "title %q cannot be stored: name contains a separator", t.Name)
		}
		if _, err := fmt.Fprintf(bw, "%s,%d,%d\n", t.Name, t.ISBN, len(t.Copies)); err != nil {
			return err
		}
		for _, c := range t.Copies {
			if _, err := fmt.Fprintf(bw, "%d,%c,%s\n", c.Number, c.State, FormatDate(c.Date)); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Validate checks the catalogue invariants: each (isbn, name) pair appears
// once, copy numbers are unique within a title, states are known and loaned
// copies carry a due date.
func Validate(titles []*Title) error {
	type key struct {
		isbn int
		name string
	}
	seen := make(map[key]bool, len(titles))

	for _, t := range titles {
		k := key{t.ISBN, t.Name}
		if seen[k] {
			return loanerr.New(loanerr.CorruptDatabase, "title %q (isbn %d) appears more than once", t.Name, t.ISBN)
		}
		seen[k] = true

		numbers := make(map[int]bool, len(t.Copies))
		for _, c := range t.Copies {
			if numbers[c.Number] {
				return loanerr.New(loanerr.CorruptDatabase, "title %q has duplicate copy #%d", t.Name, c.Number)
			}
			numbers[c.Number] = true

			if !c.State.Valid() {
				return loanerr.New(loanerr.CorruptDatabase, "title %q copy #%d has unknown state %q", t.Name, c.Number, byte(c.State))
			}
			if c.State == Loaned && c.Date.IsZero() {
				return loanerr.New(loanerr.CorruptDatabase, "title %q copy #%d is on loan without a due date", t.Name, c.Number)
			}
		}
	}
	return nil
}
