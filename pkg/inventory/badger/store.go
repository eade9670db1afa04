// Package badger stores the inventory in a BadgerDB database.
//
// Key layout:
//
//	t:<position>   one CBOR-encoded title record per title, <position> is
//	               the zero-padded index in catalogue order
//
// Persist deletes every t: key and writes the new records in one transaction,
// so readers never observe a mix of two snapshots.
package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/fxamacker/cbor/v2"

	"github.com/marmos91/dittoloan/pkg/inventory"
	"github.com/marmos91/dittoloan/pkg/loanerr"
)

const titlePrefix = "t:"

// Config configures a BadgerDB store.
type Config struct {
	// DBPath is the directory where BadgerDB keeps its files
	DBPath string `mapstructure:"db_path" validate:"required"`

	// InMemory runs BadgerDB without touching disk (tests)
	InMemory bool `mapstructure:"in_memory"`
}

// Store implements inventory.Store on BadgerDB.
type Store struct {
	db *badgerdb.DB
}

// titleRecord is the stored form of a title. Dates are kept as dd-mm-yyyy
// strings so records stay readable with generic CBOR tooling.
type titleRecord struct {
	ISBN   int          `cbor:"1,keyasint"`
	Name   string       `cbor:"2,keyasint"`
	Copies []copyRecord `cbor:"3,keyasint"`
}

type copyRecord struct {
	Number int    `cbor:"1,keyasint"`
	State  byte   `cbor:"2,keyasint"`
	Date   string `cbor:"3,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("badger: CBOR encoder initialization failed: " + err.Error())
	}
}

// New opens (or creates) the database at cfg.DBPath.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badgerdb.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badgerdb.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}
	return &Store{db: db}, nil
}

func titleKey(position int) []byte {
	return fmt.Appendf(nil, "%s%010d", titlePrefix, position)
}

// Load reads every title record in key order.
func (s *Store) Load(ctx context.Context) ([]*inventory.Title, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var titles []*inventory.Title
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(titlePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec titleRecord
			err := item.Value(func(val []byte) error {
				return cbor.Unmarshal(val, &rec)
			})
			if err != nil {
				return loanerr.Wrap(loanerr.CorruptDatabase, err, "decode title at key %s", item.Key())
			}

			t, err := fromRecord(rec)
			if err != nil {
				return err
			}
			titles = append(titles, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return titles, nil
}

// Persist replaces every stored title in a single transaction.
func (s *Store) Persist(ctx context.Context, titles []*inventory.Title) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		prefix := []byte(titlePrefix)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}

		for i, t := range titles {
			val, err := encMode.Marshal(toRecord(t))
			if err != nil {
				return fmt.Errorf("encode title %q: %w", t.Name, err)
			}
			if err := txn.Set(titleKey(i), val); err != nil {
				return fmt.Errorf("store title %q: %w", t.Name, err)
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

func toRecord(t *inventory.Title) titleRecord {
	rec := titleRecord{ISBN: t.ISBN, Name: t.Name, Copies: make([]copyRecord, len(t.Copies))}
	for i, c := range t.Copies {
		rec.Copies[i] = copyRecord{Number: c.Number, State: byte(c.State), Date: inventory.FormatDate(c.Date)}
	}
	return rec
}

func fromRecord(rec titleRecord) (*inventory.Title, error) {
	t := &inventory.Title{ISBN: rec.ISBN, Name: rec.Name, Copies: make([]inventory.Copy, len(rec.Copies))}
	for i, c := range rec.Copies {
		date, err := inventory.ParseDate(c.Date)
		if err != nil {
			return nil, loanerr.Wrap(loanerr.CorruptDatabase, err, "title %q copy #%d", rec.Name, c.Number)
		}
		t.Copies[i] = inventory.Copy{Number: c.Number, State: inventory.State(c.State), Date: date}
	}
	return t, nil
}
