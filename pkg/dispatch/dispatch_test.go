package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoloan/internal/protocol/wire"
	"github.com/marmos91/dittoloan/pkg/clock"
	"github.com/marmos91/dittoloan/pkg/inventory"
	"github.com/marmos91/dittoloan/pkg/loanerr"
	"github.com/marmos91/dittoloan/pkg/registry"
	"github.com/marmos91/dittoloan/pkg/session"
)

type outbound struct {
	bytes.Buffer
	name   string
	closed bool
	broken bool
}

func (o *outbound) Write(p []byte) (int, error) {
	if o.broken {
		return 0, io.ErrClosedPipe
	}
	return o.Buffer.Write(p)
}
func (o *outbound) Close() error { o.closed = true; return nil }
func (o *outbound) Name() string { return o.name }

// messages decodes everything written to o.
func (o *outbound) messages(t *testing.T) []*wire.Message {
	t.Helper()
	var out []*wire.Message
	for {
		m, err := wire.Receive(&o.Buffer)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, m)
	}
}

type fixture struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	opened     map[string]*outbound
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	due, err := inventory.ParseDate("01-01-2020")
	require.NoError(t, err)

	clk := clock.Fake(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	inv := inventory.New([]*inventory.Title{
		{ISBN: 42, Name: "Dune", Copies: []inventory.Copy{
			{Number: 1, State: inventory.Available},
			{Number: 2, State: inventory.Loaned, Date: due},
		}},
	}, clk, 7)

	f := &fixture{registry: registry.New(), opened: map[string]*outbound{}}
	hs := session.NewHandshake(f.registry, func(_ context.Context, path string) (registry.Outbound, error) {
		o := &outbound{name: path}
		f.opened[path] = o
		return o, nil
	}, session.HandshakeConfig{Clock: clk})
	f.dispatcher = New(f.registry, hs, inv, nil)
	return f
}

// connect registers client id and discards the SUCCEEDED answer.
func (f *fixture) connect(t *testing.T, id int32, path string) *outbound {
	t.Helper()
	require.NoError(t, f.dispatcher.Handle(context.Background(), wire.NewSignal(id, wire.SignalStart, path)))
	out := f.opened[path]
	msgs := out.messages(t)
	require.Len(t, msgs, 1)
	sig, _ := msgs[0].Signal()
	require.Equal(t, wire.SignalSucceeded, sig.Code)
	return out
}

func (f *fixture) book(t *testing.T, id int32, req wire.BookRequest) error {
	t.Helper()
	return f.dispatcher.Handle(context.Background(), wire.NewBook(id, req))
}

func onlySignal(t *testing.T, out *outbound) wire.Signal {
	t.Helper()
	msgs := out.messages(t)
	require.Len(t, msgs, 1, "exactly one response")
	sig, ok := msgs[0].Signal()
	require.True(t, ok)
	return sig
}

// ============================================================================
// Book requests
// ============================================================================

func TestDuneExample(t *testing.T) {
	f := newFixture(t)
	out := f.connect(t, 100, "/tmp/c100")

	require.NoError(t, f.book(t, 100, wire.BookRequest{Operation: wire.OpBorrow, ISBN: 42, Title: "Dune"}))
	sig := onlySignal(t, out)
	assert.Equal(t, wire.SignalBorrowed, sig.Code)
	assert.Equal(t, "22-03-2024 (copy #1)", sig.Text)

	require.NoError(t, f.book(t, 100, wire.BookRequest{Operation: wire.OpRenew, ISBN: 42, Title: "Dune", Copy: wire.Copy{Number: 2}}))
	sig = onlySignal(t, out)
	assert.Equal(t, wire.SignalRenewedLate, sig.Code)
	assert.Equal(t, "22-03-2024", sig.Text)
}

func TestRenewOnTimeAndReturn(t *testing.T) {
	f := newFixture(t)
	out := f.connect(t, 100, "/tmp/c100")

	require.NoError(t, f.book(t, 100, wire.BookRequest{Operation: wire.OpBorrow, ISBN: 42, Title: "Dune"}))
	onlySignal(t, out)

	require.NoError(t, f.book(t, 100, wire.BookRequest{Operation: wire.OpRenew, ISBN: 42, Title: "Dune", Copy: wire.Copy{Number: 1}}))
	sig := onlySignal(t, out)
	assert.Equal(t, wire.SignalRenewed, sig.Code)
	assert.Equal(t, "29-03-2024", sig.Text)

	require.NoError(t, f.book(t, 100, wire.BookRequest{Operation: wire.OpReturn, ISBN: 42, Title: "Dune", Copy: wire.Copy{Number: 1}}))
	sig = onlySignal(t, out)
	assert.Equal(t, wire.SignalReturned, sig.Code)
	assert.Equal(t, "15-03-2024", sig.Text)
}

func TestFailuresAreAnsweredOnce(t *testing.T) {
	f := newFixture(t)
	out := f.connect(t, 100, "/tmp/c100")

	err := f.book(t, 100, wire.BookRequest{Operation: wire.OpBorrow, ISBN: 1, Title: "Missing"})
	assert.True(t, errors.Is(err, loanerr.ErrNotFound))
	assert.Equal(t, wire.SignalNotFound, onlySignal(t, out).Code)

	err = f.book(t, 100, wire.BookRequest{Operation: wire.OpReturn, ISBN: 42, Title: "Dune", Copy: wire.Copy{Number: 1}})
	assert.True(t, errors.Is(err, loanerr.ErrUnavailable))
	assert.Equal(t, wire.SignalUnavailable, onlySignal(t, out).Code)

	err = f.book(t, 100, wire.BookRequest{Operation: wire.Operation(9), ISBN: 42, Title: "Dune"})
	assert.True(t, errors.Is(err, loanerr.ErrInvalidRequest))
	assert.Equal(t, wire.SignalInvalid, onlySignal(t, out).Code)
}

func TestLookupSendsOneMessagePerCopy(t *testing.T) {
	f := newFixture(t)
	out := f.connect(t, 100, "/tmp/c100")

	require.NoError(t, f.book(t, 100, wire.BookRequest{Operation: wire.OpLookup, ISBN: 42, Title: "Dune"}))
	msgs := out.messages(t)
	require.Len(t, msgs, 2)

	for i, m := range msgs {
		b, ok := m.Book()
		require.True(t, ok)
		assert.Equal(t, "Dune", b.Title)
		assert.Equal(t, int32(2), b.CopyCount)
		assert.Equal(t, int32(i+1), b.Copy.Number)
	}
	second, _ := msgs[1].Book()
	assert.Equal(t, wire.StateLoaned, second.Copy.State)
	assert.Equal(t, "01-01-2020", second.Copy.Date)
}

func TestLookupNotFoundIsErrorMessage(t *testing.T) {
	f := newFixture(t)
	out := f.connect(t, 100, "/tmp/c100")

	err := f.book(t, 100, wire.BookRequest{Operation: wire.OpLookup, ISBN: 43, Title: "Dune"})
	assert.True(t, errors.Is(err, loanerr.ErrNotFound))

	msgs := out.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.TagError, msgs[0].Tag())
}

func TestRequestsAreAnsweredToTheirSender(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, 1, "/tmp/a")
	b := f.connect(t, 2, "/tmp/b")

	require.NoError(t, f.book(t, 2, wire.BookRequest{Operation: wire.OpBorrow, ISBN: 42, Title: "Dune"}))
	assert.Empty(t, a.messages(t))
	assert.Equal(t, wire.SignalBorrowed, onlySignal(t, b).Code)
}

// ============================================================================
// Sessions
// ============================================================================

func TestUnknownSenderIsDropped(t *testing.T) {
	f := newFixture(t)
	err := f.book(t, 55, wire.BookRequest{Operation: wire.OpBorrow, ISBN: 42, Title: "Dune"})
	assert.True(t, errors.Is(err, loanerr.ErrUnknownSession))
}

func TestWriteFailureDropsSession(t *testing.T) {
	f := newFixture(t)
	out := f.connect(t, 100, "/tmp/c100")
	out.broken = true

	err := f.book(t, 100, wire.BookRequest{Operation: wire.OpLookup, ISBN: 42, Title: "Dune"})
	assert.True(t, errors.Is(err, loanerr.ErrPeerGone))
	assert.Equal(t, 0, f.registry.Len())
	assert.True(t, out.closed)
}

func TestStopClosesSession(t *testing.T) {
	f := newFixture(t)
	out := f.connect(t, 100, "/tmp/c100")

	require.NoError(t, f.dispatcher.Handle(context.Background(), wire.NewSignal(100, wire.SignalStop, "")))
	assert.True(t, out.closed)
	assert.Equal(t, 0, f.registry.Len())

	err := f.dispatcher.Handle(context.Background(), wire.NewSignal(100, wire.SignalStop, ""))
	assert.True(t, errors.Is(err, loanerr.ErrUnknownSession))
}

func TestDuplicateStartKeepsExistingSession(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 100, "/tmp/c100")

	err := f.dispatcher.Handle(context.Background(), wire.NewSignal(100, wire.SignalStart, "/tmp/c100-again"))
	assert.True(t, errors.Is(err, loanerr.ErrSessionExists))

	again := f.opened["/tmp/c100-again"]
	assert.Equal(t, wire.SignalFailed, onlySignal(t, again).Code)
	assert.True(t, again.closed)
	assert.Equal(t, 1, f.registry.Len())
}

func TestUnexpectedMessages(t *testing.T) {
	f := newFixture(t)

	err := f.dispatcher.Handle(context.Background(), wire.NewSignal(1, wire.SignalSucceeded, ""))
	assert.True(t, errors.Is(err, loanerr.ErrProtocolViolation))

	err = f.dispatcher.Handle(context.Background(), wire.NewFailure(1))
	assert.True(t, errors.Is(err, loanerr.ErrProtocolViolation))
}
