package inventory

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dittoloan/internal/logger"
	"github.com/marmos91/dittoloan/pkg/clock"
	"github.com/marmos91/dittoloan/pkg/loanerr"
)

// Store loads the catalogue at startup and persists it at shutdown.
//
// Persist always rewrites the whole catalogue; there are no partial updates.
// Implementations report unparseable data as CorruptDatabase.
type Store interface {
	// Load returns the persisted catalogue in stored order.
	Load(ctx context.Context) ([]*Title, error)

	// Persist replaces the persisted catalogue with titles.
	Persist(ctx context.Context, titles []*Title) error

	// Close releases the store's resources.
	Close() error
}

// Open loads and validates the catalogue from store.
func Open(ctx context.Context, store Store, clk clock.Clock, periodDays int) (*Inventory, error) {
	titles, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := Validate(titles); err != nil {
		return nil, err
	}
	return New(titles, clk, periodDays), nil
}

// Save persists titles, retrying once on failure.
//
// If the retry fails too, the catalogue is written to fallback so it can be
// recovered by hand, and a PersistenceFailure is
// returned. Save never gives up without attempting the dump.
func Save(ctx context.Context, store Store, titles []*Title, fallback io.Writer) error {
	err := store.Persist(ctx, titles)
	if err == nil {
		return nil
	}
	logger.Warn("Persist inventory failed, retrying once: %v", err)

	err = store.Persist(ctx, titles)
	if err == nil {
		return nil
	}
	logger.Error("Persist inventory failed again, dumping %d titles: %v", len(titles), err)

	if werr := dump(fallback, titles); werr != nil {
		logger.Error("Inventory dump failed: %v", werr)
	}
	return loanerr.Wrap(loanerr.PersistenceFailure, err, "persist inventory")
}

// dump writes titles to w in the flat text format. Catalogues the format
// cannot hold (names containing a separator) are written one copy per line
// instead, with the name quoted:
//
//	"Dune, Messiah",42,1,D,
//
// A title without copies gets a line with its name and ISBN only.
func dump(w io.Writer, titles []*Title) error {
	var buf bytes.Buffer
	if err := Encode(&buf, titles); err == nil {
		if _, err := fmt.Fprintln(w, "# inventory could not be saved, contents follow"); err != nil {
			return err
		}
		_, err = buf.WriteTo(w)
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# inventory could not be saved, one copy per line follows")
	fmt.Fprintln(bw, "# name,isbn,copy,state,date")
	for _, t := range titles {
		if len(t.Copies) == 0 {
			fmt.Fprintf(bw, "%q,%d\n", t.Name, t.ISBN)
			continue
		}
		for _, c := range t.Copies {
			fmt.Fprintf(bw, "%q,%d,%d,%c,%s\n", t.Name, t.ISBN, c.Number, c.State, FormatDate(c.Date))
		}
	}
	return bw.Flush()
}
