package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoloan/internal/protocol/wire"
	"github.com/marmos91/dittoloan/pkg/channel"
	"github.com/marmos91/dittoloan/pkg/clock"
	"github.com/marmos91/dittoloan/pkg/dispatch"
	"github.com/marmos91/dittoloan/pkg/inventory"
	"github.com/marmos91/dittoloan/pkg/loanerr"
	"github.com/marmos91/dittoloan/pkg/registry"
	"github.com/marmos91/dittoloan/pkg/session"
)

// recorder is a Handler that remembers senders in the order it saw them.
type recorder struct {
	mu      sync.Mutex
	senders []int32
	block   chan struct{}
	started chan struct{}
}

func (r *recorder) Handle(_ context.Context, msg *wire.Message) error {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.senders = append(r.senders, msg.Sender)
	r.mu.Unlock()
	return nil
}

func (r *recorder) seen() []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int32(nil), r.senders...)
}

func startServer(t *testing.T, cfg Config, h Handler, reg *registry.Registry) (*Server, chan error) {
	t.Helper()
	if cfg.InboundPath == "" {
		cfg.InboundPath = filepath.Join(t.TempDir(), "server")
	}

	srv := New(cfg, h, reg, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv, done
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestMessagesHandledInArrivalOrder(t *testing.T) {
	rec := &recorder{}
	srv, _ := startServer(t, Config{QueueCapacity: 3}, rec, registry.New())

	w, err := channel.OpenWriter(context.Background(), srv.config.InboundPath, 5*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	for i := int32(1); i <= 20; i++ {
		require.NoError(t, wire.Send(w, wire.NewSignal(i, wire.SignalStop, "")))
	}

	require.Eventually(t, func() bool { return len(rec.seen()) == 20 }, 2*time.Second, 5*time.Millisecond)

	want := make([]int32, 20)
	for i := range want {
		want[i] = int32(i + 1)
	}
	assert.Equal(t, want, rec.seen())
}

func TestAcceptIsThrottled(t *testing.T) {
	rec := &recorder{}
	srv, _ := startServer(t, Config{MessagesPerSecond: 20, Burst: 1}, rec, registry.New())

	w, err := channel.OpenWriter(context.Background(), srv.config.InboundPath, 5*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	start := time.Now()
	for i := int32(1); i <= 5; i++ {
		require.NoError(t, wire.Send(w, wire.NewSignal(i, wire.SignalStop, "")))
	}

	require.Eventually(t, func() bool { return len(rec.seen()) == 5 }, 3*time.Second, 5*time.Millisecond)
	// One message passes at once, the other four wait 50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, rec.seen())
}

func TestShutdownFinishesCurrentMessage(t *testing.T) {
	rec := &recorder{block: make(chan struct{}), started: make(chan struct{}, 1)}
	srv, done := startServer(t, Config{ShutdownTimeout: 2 * time.Second}, rec, registry.New())

	w, err := channel.OpenWriter(context.Background(), srv.config.InboundPath, 5*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, wire.Send(w, wire.NewSignal(7, wire.SignalStop, "")))

	select {
	case <-rec.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the message")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- srv.Stop(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-stopped:
		t.Fatal("Stop returned while the worker was busy")
	default:
	}

	close(rec.block)
	require.NoError(t, <-stopped)
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, []int32{7}, rec.seen())

	_, err = os.Stat(srv.config.InboundPath)
	assert.True(t, os.IsNotExist(err), "inbound channel should be removed")
}

func TestServeFailsOnNonChannelPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regular")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	srv := New(Config{InboundPath: path}, &recorder{}, registry.New(), nil)
	assert.Error(t, srv.Serve(context.Background()))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{InboundPath: "x"}
	cfg.applyDefaults()
	assert.Equal(t, DefaultQueueCapacity, cfg.QueueCapacity)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
}

// loanServer wires a real dispatcher over an in-memory Dune inventory.
func loanServer(t *testing.T) (*Server, chan error, *inventory.Inventory) {
	t.Helper()
	due, err := inventory.ParseDate("01-01-2020")
	require.NoError(t, err)

	clk := clock.Fake(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	inv := inventory.New([]*inventory.Title{
		{ISBN: 42, Name: "Dune", Copies: []inventory.Copy{
			{Number: 1, State: inventory.Available},
			{Number: 2, State: inventory.Loaned, Date: due},
		}},
	}, clk, inventory.DefaultLoanDays)

	reg := registry.New()
	hs := session.NewHandshake(reg, session.ChannelOpener(5*time.Millisecond), session.HandshakeConfig{
		OpenTimeout: time.Second,
		Clock:       clk,
	})
	srv, done := startServer(t, Config{}, dispatch.New(reg, hs, inv, nil), reg)
	return srv, done, inv
}

func connect(t *testing.T, srv *Server, id int32) *session.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := session.Connect(ctx, session.ClientConfig{
		ServerPath:        srv.config.InboundPath,
		ClientPrefix:      filepath.Join(t.TempDir(), "c"),
		ID:                id,
		HandshakeTimeout:  2 * time.Second,
		DisconnectTimeout: 2 * time.Second,
		RetryInterval:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestBorrowAndRenewEndToEnd(t *testing.T) {
	srv, done, inv := loanServer(t)
	client := connect(t, srv, 101)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	resp, err := client.Do(ctx, wire.BookRequest{Operation: wire.OpBorrow, ISBN: 42, Title: "Dune"})
	require.NoError(t, err)
	require.NotNil(t, resp.Signal)
	assert.Equal(t, wire.SignalBorrowed, resp.Signal.Code)
	assert.Equal(t, "22-03-2024 (copy #1)", resp.Signal.Text)

	resp, err = client.Do(ctx, wire.BookRequest{Operation: wire.OpRenew, ISBN: 42, Title: "Dune", Copy: wire.Copy{Number: 2}})
	require.NoError(t, err)
	require.NotNil(t, resp.Signal)
	assert.Equal(t, wire.SignalRenewedLate, resp.Signal.Code)
	assert.Equal(t, "22-03-2024", resp.Signal.Text)

	resp, err = client.Do(ctx, wire.BookRequest{Operation: wire.OpLookup, ISBN: 42, Title: "Dune"})
	require.NoError(t, err)
	require.Len(t, resp.Books, 2)
	assert.Equal(t, byte(wire.StateLoaned), resp.Books[0].Copy.State)

	resp, err = client.Do(ctx, wire.BookRequest{Operation: wire.OpLookup, ISBN: 7, Title: "Missing"})
	require.NoError(t, err)
	assert.True(t, resp.Failed)

	require.NoError(t, client.Disconnect(ctx))

	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, waitDone(t, done))

	title, err := inv.Lookup(42, "Dune")
	require.NoError(t, err)
	assert.Equal(t, inventory.Loaned, title.Copies[0].State)
}

func TestShutdownClosesSessions(t *testing.T) {
	srv, done, _ := loanServer(t)
	client := connect(t, srv, 202)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, waitDone(t, done))

	_, err := client.Do(ctx, wire.BookRequest{Operation: wire.OpLookup, ISBN: 42, Title: "Dune"})
	assert.ErrorIs(t, err, loanerr.ErrPeerGone)

	// The server already closed our channel, so the disconnect read ends at once.
	assert.NoError(t, client.Disconnect(ctx))
}
