package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoloan/internal/protocol/wire"
	"github.com/marmos91/dittoloan/pkg/session"
)

// runOnAllConfigs runs testFunc once per backend, each with its own server.
func runOnAllConfigs(t *testing.T, seed string, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()
	for _, cfg := range AllConfigs() {
		t.Run(cfg.Name, func(t *testing.T) {
			tc := NewTestContext(t, cfg, seed)
			testFunc(t, tc)
		})
	}
}

// do sends one request and fails the test on a transport error.
func do(t *testing.T, client *session.Client, op wire.Operation, isbn int32, title string, copyNumber int32) *session.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Do(ctx, wire.BookRequest{
		Operation: op,
		ISBN:      isbn,
		Title:     title,
		Copy:      wire.Copy{Number: copyNumber},
	})
	require.NoError(t, err)
	return resp
}

func disconnect(t *testing.T, client *session.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Disconnect(ctx))
}
