// Package sqlite stores the inventory in an SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marmos91/dittoloan/pkg/inventory"
	"github.com/marmos91/dittoloan/pkg/loanerr"

	_ "modernc.org/sqlite"
)

// Config configures an SQLite store.
type Config struct {
	// Path is the database file. ":memory:" keeps it in memory.
	Path string `mapstructure:"path" validate:"required"`

	// BusyTimeout bounds how long a write waits on a locked database.
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// Store implements inventory.Store on SQLite.
//
// Titles keep their catalogue position so Load returns them in the order
// they were persisted. Persist rewrites both tables in one transaction.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS titles (
	position INTEGER PRIMARY KEY,
	isbn     INTEGER NOT NULL,
	name     TEXT    NOT NULL,
	UNIQUE (isbn, name)
);

CREATE TABLE IF NOT EXISTS copies (
	title_position INTEGER NOT NULL REFERENCES titles(position) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	number         INTEGER NOT NULL,
	state          TEXT    NOT NULL CHECK (state IN ('D', 'P')),
	date           TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (title_position, position),
	UNIQUE (title_position, number)
);
`

// New opens (or creates) the database and initializes the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", cfg.Path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Load reads the catalogue in stored order.
func (s *Store) Load(ctx context.Context) ([]*inventory.Title, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.position, t.isbn, t.name, c.number, c.state, c.date
		FROM titles t
		LEFT JOIN copies c ON c.title_position = t.position
		ORDER BY t.position, c.position`)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	defer rows.Close()

	var titles []*inventory.Title
	lastPosition := -1
	for rows.Next() {
		var (
			position int
			isbn     int
			name     string
			number   sql.NullInt64
			state    sql.NullString
			date     sql.NullString
		)
		if err := rows.Scan(&position, &isbn, &name, &number, &state, &date); err != nil {
			return nil, loanerr.Wrap(loanerr.CorruptDatabase, err, "scan inventory row")
		}

		if position != lastPosition {
			titles = append(titles, &inventory.Title{ISBN: isbn, Name: name})
			lastPosition = position
		}
		if !number.Valid {
			continue
		}

		d, err := inventory.ParseDate(date.String)
		if err != nil || len(state.String) != 1 {
			return nil, loanerr.New(loanerr.CorruptDatabase, "title %q copy #%d has bad state or date", name, number.Int64)
		}
		t := titles[len(titles)-1]
		t.Copies = append(t.Copies, inventory.Copy{
			Number: int(number.Int64),
			State:  inventory.State(state.String[0]),
			Date:   d,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	return titles, nil
}

// Persist replaces the catalogue in one transaction.
func (s *Store) Persist(ctx context.Context, titles []*inventory.Title) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM copies`); err != nil {
		return fmt.Errorf("clear copies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM titles`); err != nil {
		return fmt.Errorf("clear titles: %w", err)
	}

	insertTitle, err := tx.PrepareContext(ctx, `INSERT INTO titles (position, isbn, name) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer insertTitle.Close()

	insertCopy, err := tx.PrepareContext(ctx,
		`INSERT INTO copies (title_position, position, number, state, date) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer insertCopy.Close()

	for i, t := range titles {
		if _, err := insertTitle.ExecContext(ctx, i, t.ISBN, t.Name); err != nil {
			return fmt.Errorf("insert title %q: %w", t.Name, err)
		}
		for j, c := range t.Copies {
			if _, err := insertCopy.ExecContext(ctx, i, j, c.Number, string(rune(c.State)), inventory.FormatDate(c.Date)); err != nil {
				return fmt.Errorf("insert %q copy #%d: %w", t.Name, c.Number, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }
