package e2e

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittoloan/internal/logger"
	"github.com/marmos91/dittoloan/pkg/clock"
	"github.com/marmos91/dittoloan/pkg/config"
	"github.com/marmos91/dittoloan/pkg/dispatch"
	"github.com/marmos91/dittoloan/pkg/inventory"
	"github.com/marmos91/dittoloan/pkg/registry"
	"github.com/marmos91/dittoloan/pkg/server"
	"github.com/marmos91/dittoloan/pkg/session"
)

// Today is the fixed date every end-to-end run is served on.
var Today = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

// TestContext provides a complete testing environment with:
// - a running DittoLoan server on its own inbound channel
// - an inventory backed by the configured store
// - cleanup of channels and temporary files
type TestContext struct {
	T         *testing.T
	Config    *TestConfig
	Dir       string
	Store     inventory.Store
	Inventory *inventory.Inventory
	Server    *server.Server

	inventoryCfg config.InventoryConfig
	inboundPath  string
	clientPrefix string
	clock        *clock.FakeClock
	done         chan error
	running      bool
	nextID       atomic.Int32
}

// NewTestContext writes seed as the starting catalogue and starts a server
// over it.
func NewTestContext(t *testing.T, cfg *TestConfig, seed string) *TestContext {
	t.Helper()

	// Channel names are capped in length, so keep the directory short.
	dir, err := os.MkdirTemp("", "dle2e-")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}

	seedPath := filepath.Join(dir, "seed.txt")
	if err := os.WriteFile(seedPath, []byte(seed), 0644); err != nil {
		t.Fatalf("Failed to write seed catalogue: %v", err)
	}

	invCfg, err := cfg.InventoryConfig(dir, seedPath)
	if err != nil {
		t.Fatalf("Failed to build inventory config: %v", err)
	}

	tc := &TestContext{
		T:            t,
		Config:       cfg,
		Dir:          dir,
		inventoryCfg: invCfg,
		inboundPath:  filepath.Join(dir, "srv"),
		clientPrefix: filepath.Join(dir, "c"),
		clock:        clock.Fake(Today),
	}
	tc.nextID.Store(100)

	t.Cleanup(func() {
		tc.Stop()
		_ = os.RemoveAll(dir)
	})

	// Keep test output clean.
	logger.SetLevel("ERROR")

	tc.Start()
	return tc
}

// Start opens the store and runs a server until Stop.
func (tc *TestContext) Start() {
	tc.T.Helper()
	ctx := context.Background()

	store, err := config.CreateStore(ctx, &tc.inventoryCfg)
	if err != nil {
		tc.T.Fatalf("Failed to create %s store: %v", tc.Config, err)
	}
	inv, err := inventory.Open(ctx, store, tc.clock, inventory.DefaultLoanDays)
	if err != nil {
		_ = store.Close()
		tc.T.Fatalf("Failed to open inventory: %v", err)
	}

	reg := registry.New()
	hs := session.NewHandshake(reg, session.ChannelOpener(5*time.Millisecond), session.HandshakeConfig{
		OpenTimeout: 2 * time.Second,
		Clock:       tc.clock,
	})
	srv := server.New(server.Config{InboundPath: tc.inboundPath}, dispatch.New(reg, hs, inv, nil), reg, nil)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		_ = store.Close()
		tc.T.Fatalf("Server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		tc.T.Fatal("Timeout waiting for server to start")
	}

	tc.Store = store
	tc.Inventory = inv
	tc.Server = srv
	tc.done = done
	tc.running = true
}

// Stop shuts the server down, saves the catalogue and closes the store.
// It is a no-op when the server is not running.
func (tc *TestContext) Stop() {
	if !tc.running {
		return
	}
	tc.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := tc.Server.Stop(ctx); err != nil {
		tc.T.Errorf("Failed to stop server: %v", err)
	}
	if err := <-tc.done; err != nil {
		tc.T.Errorf("Serve returned: %v", err)
	}
	if err := inventory.Save(ctx, tc.Store, tc.Inventory.Titles(), os.Stderr); err != nil {
		tc.T.Errorf("Failed to save inventory: %v", err)
	}
	if err := tc.Store.Close(); err != nil {
		tc.T.Errorf("Failed to close store: %v", err)
	}
}

// Restart stops the server and starts a new one over the same store settings.
func (tc *TestContext) Restart() {
	tc.T.Helper()
	tc.Stop()
	tc.Start()
}

// Connect opens a session with a fresh client id.
func (tc *TestContext) Connect() *session.Client {
	tc.T.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := session.Connect(ctx, session.ClientConfig{
		ServerPath:        tc.inboundPath,
		ClientPrefix:      tc.clientPrefix,
		ID:                tc.nextID.Add(1),
		HandshakeTimeout:  3 * time.Second,
		DisconnectTimeout: 3 * time.Second,
		RetryInterval:     5 * time.Millisecond,
	})
	if err != nil {
		tc.T.Fatalf("Failed to connect: %v", err)
	}
	return client
}
