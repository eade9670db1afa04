package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/marmos91/dittoloan/internal/protocol/wire"
	"github.com/marmos91/dittoloan/pkg/loanerr"
	"github.com/marmos91/dittoloan/pkg/session"
)

// opCodes are the single-letter operations of a batch file.
var opCodes = map[string]wire.Operation{
	"P": wire.OpBorrow,
	"R": wire.OpRenew,
	"D": wire.OpReturn,
	"B": wire.OpLookup,
}

// doFunc sends one request and waits for its response. *session.Client.Do
// has this shape.
type doFunc func(ctx context.Context, req wire.BookRequest) (*session.Response, error)

type batchEntry struct {
	line int
	req  wire.BookRequest
}

// parseBatch reads a batch file: one `op,title,isbn[,copy]` request per line.
// Blank lines and lines starting with '#' are skipped. Renew and return
// need the copy number.
func parseBatch(r io.Reader) ([]batchEntry, error) {
	var entries []batchEntry
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		req, err := parseRequest(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		entries = append(entries, batchEntry{line: lineNo, req: req})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return entries, nil
}

func parseRequest(line string) (wire.BookRequest, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 3 || len(fields) > 4 {
		return wire.BookRequest{}, loanerr.New(loanerr.InvalidRequest, "expected op,title,isbn[,copy], got %q", line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	op, ok := opCodes[strings.ToUpper(fields[0])]
	if !ok {
		return wire.BookRequest{}, loanerr.New(loanerr.InvalidRequest, "unknown operation %q (want P, R, D or B)", fields[0])
	}

	number := ""
	if len(fields) == 4 {
		number = fields[3]
	}
	return newRequest(op, fields[1], fields[2], number)
}

// newRequest validates user input for op. An empty number means no copy
// was given, which only borrow and lookup accept.
func newRequest(op wire.Operation, title, isbnText, number string) (wire.BookRequest, error) {
	if title == "" {
		return wire.BookRequest{}, loanerr.New(loanerr.InvalidRequest, "empty title")
	}
	if len(title) > wire.TextSize {
		return wire.BookRequest{}, loanerr.New(loanerr.InvalidRequest, "title exceeds %d bytes", wire.TextSize)
	}

	isbn, err := strconv.ParseInt(isbnText, 10, 32)
	if err != nil {
		return wire.BookRequest{}, loanerr.New(loanerr.InvalidRequest, "bad isbn %q", isbnText)
	}

	req := wire.BookRequest{Operation: op, ISBN: int32(isbn), Title: title}

	if number != "" {
		n, err := strconv.ParseInt(number, 10, 32)
		if err != nil || n <= 0 {
			return wire.BookRequest{}, loanerr.New(loanerr.InvalidRequest, "bad copy number %q", number)
		}
		req.Copy.Number = int32(n)
	} else if op == wire.OpRenew || op == wire.OpReturn {
		return wire.BookRequest{}, loanerr.New(loanerr.InvalidRequest, "%s needs a copy number", op)
	}

	return req, nil
}

// runBatch sends every entry in order and prints each response. Request
// failures reported by the server are printed and the batch continues; a
// transport failure ends it.
func runBatch(ctx context.Context, entries []batchEntry, out io.Writer, do doFunc) error {
	for _, e := range entries {
		resp, err := do(ctx, e.req)
		if err != nil {
			return fmt.Errorf("line %d: %w", e.line, err)
		}
		fmt.Fprintf(out, "%d: %s\n", e.line, describe(e.req, resp))
	}
	return nil
}

// describe renders a response for the terminal.
func describe(req wire.BookRequest, resp *session.Response) string {
	subject := fmt.Sprintf("%q (isbn %d)", req.Title, req.ISBN)

	switch {
	case resp.Failed:
		return subject + ": title not found"
	case resp.Signal != nil:
		return subject + ": " + describeSignal(req, *resp.Signal)
	case len(resp.Books) > 0:
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %d copies", subject, resp.Books[0].CopyCount)
		for _, book := range resp.Books {
			if book.CopyCount == 0 {
				break
			}
			fmt.Fprintf(&b, "\n  copy #%d %s", book.Copy.Number, describeCopyState(book.Copy))
		}
		return b.String()
	default:
		return subject + ": empty response"
	}
}

func describeSignal(req wire.BookRequest, sig wire.Signal) string {
	switch sig.Code {
	case wire.SignalBorrowed:
		return "borrowed, due " + sig.Text
	case wire.SignalRenewed:
		return fmt.Sprintf("copy #%d renewed, due %s", req.Copy.Number, sig.Text)
	case wire.SignalRenewedLate:
		return fmt.Sprintf("copy #%d renewed late, due %s", req.Copy.Number, sig.Text)
	case wire.SignalReturned:
		return fmt.Sprintf("copy #%d returned on %s", req.Copy.Number, sig.Text)
	case wire.SignalNotFound, wire.SignalUnavailable, wire.SignalInvalid:
		return "refused: " + sig.Text
	default:
		return fmt.Sprintf("unexpected %s %q", sig.Code, sig.Text)
	}
}

func describeCopyState(c wire.Copy) string {
	switch c.State {
	case wire.StateAvailable:
		if c.Date == "" {
			return "available"
		}
		return "available since " + c.Date
	case wire.StateLoaned:
		return "loaned, due " + c.Date
	default:
		return fmt.Sprintf("in unknown state %q", c.State)
	}
}
