package inventory

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoloan/pkg/clock"
	"github.com/marmos91/dittoloan/pkg/loanerr"
)

type flakyStore struct {
	titles   []*Title
	failures int
	calls    int
}

func (s *flakyStore) Load(context.Context) ([]*Title, error) { return s.titles, nil }

func (s *flakyStore) Persist(_ context.Context, titles []*Title) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("disk full")
	}
	s.titles = titles
	return nil
}

func (s *flakyStore) Close() error { return nil }

func sampleTitles() []*Title {
	return []*Title{{ISBN: 42, Name: "Dune", Copies: []Copy{{Number: 1, State: Available}}}}
}

func TestSaveSucceedsFirstTime(t *testing.T) {
	store := &flakyStore{}
	var dump bytes.Buffer

	require.NoError(t, Save(context.Background(), store, sampleTitles(), &dump))
	assert.Equal(t, 1, store.calls)
	assert.Zero(t, dump.Len())
}

func TestSaveRetriesOnce(t *testing.T) {
	store := &flakyStore{failures: 1}
	var dump bytes.Buffer

	require.NoError(t, Save(context.Background(), store, sampleTitles(), &dump))
	assert.Equal(t, 2, store.calls)
	assert.Zero(t, dump.Len())
	assert.Len(t, store.titles, 1)
}

func TestSaveDumpsAfterSecondFailure(t *testing.T) {
	store := &flakyStore{failures: 2}
	var dump bytes.Buffer

	err := Save(context.Background(), store, sampleTitles(), &dump)
	assert.True(t, errors.Is(err, loanerr.ErrPersistenceFailure))
	assert.Equal(t, 2, store.calls)
	assert.Contains(t, dump.String(), "Dune,42,1\n1,D,\n")
}

func TestSaveDumpKeepsNamesWithSeparators(t *testing.T) {
	store := &flakyStore{failures: 2}
	titles := []*Title{
		{ISBN: 42, Name: "Dune, Messiah", Copies: []Copy{
			{Number: 1, State: Available},
			{Number: 2, State: Loaned, Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		}},
		{ISBN: 7, Name: "Empty"},
	}
	var dump bytes.Buffer

	err := Save(context.Background(), store, titles, &dump)
	assert.True(t, errors.Is(err, loanerr.ErrPersistenceFailure))

	out := dump.String()
	assert.Contains(t, out, `"Dune, Messiah",42,1,D,`+"\n")
	assert.Contains(t, out, `"Dune, Messiah",42,2,P,`+FormatDate(titles[0].Copies[1].Date)+"\n")
	assert.Contains(t, out, `"Empty",7`+"\n")
}

func TestOpenValidates(t *testing.T) {
	store := &flakyStore{titles: []*Title{
		{ISBN: 1, Name: "A", Copies: []Copy{{Number: 1, State: Loaned}}},
	}}

	_, err := Open(context.Background(), store, clock.Fake(time.Now()), 7)
	assert.True(t, errors.Is(err, loanerr.ErrCorruptDatabase))

	store.titles = sampleTitles()
	inv, err := Open(context.Background(), store, clock.Fake(time.Now()), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.Len())
}
