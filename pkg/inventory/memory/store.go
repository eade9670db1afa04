// Package memory provides an inventory store that lives only in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/dittoloan/pkg/inventory"
)

// Store keeps a deep copy of the last persisted catalogue.
//
// Useful for tests and for servers seeded from configuration that do not
// need to survive a restart. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	titles []*inventory.Title
}

// New creates a store seeded with a copy of titles.
func New(titles []*inventory.Title) *Store {
	return &Store{titles: clone(titles)}
}

func clone(titles []*inventory.Title) []*inventory.Title {
	out := make([]*inventory.Title, len(titles))
	for i, t := range titles {
		out[i] = t.Clone()
	}
	return out
}

// Load returns a copy of the stored catalogue.
func (s *Store) Load(ctx context.Context) ([]*inventory.Title, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.titles), nil
}

// Persist replaces the stored catalogue with a copy of titles.
func (s *Store) Persist(ctx context.Context, titles []*inventory.Title) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = clone(titles)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
