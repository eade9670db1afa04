package session

import (
	"context"
	"time"

	"github.com/marmos91/dittoloan/internal/logger"
	"github.com/marmos91/dittoloan/internal/protocol/wire"
	"github.com/marmos91/dittoloan/pkg/channel"
	"github.com/marmos91/dittoloan/pkg/clock"
	"github.com/marmos91/dittoloan/pkg/loanerr"
	"github.com/marmos91/dittoloan/pkg/registry"
)

// Opener opens the write end of a client's outbound channel.
type Opener func(ctx context.Context, path string) (registry.Outbound, error)

// ChannelOpener returns an Opener backed by channel.OpenWriter.
func ChannelOpener(retryInterval time.Duration) Opener {
	return func(ctx context.Context, path string) (registry.Outbound, error) {
		return channel.OpenWriter(ctx, path, retryInterval)
	}
}

// HandshakeConfig configures the server half of the protocol.
type HandshakeConfig struct {
	// OpenTimeout bounds how long Start waits for the client's channel to
	// accept a writer.
	OpenTimeout time.Duration

	Clock clock.Clock
}

// Handshake is the server half of the session protocol.
//
//	Start: open the client's channel, register the session, answer SUCCEEDED.
//	       A failure at any step undoes the previous ones.
//	Stop:  remove the session and close its channel; the client's read
//	       then ends with EOF.
type Handshake struct {
	registry *registry.Registry
	open     Opener
	cfg      HandshakeConfig
}

// NewHandshake creates a Handshake over reg.
func NewHandshake(reg *registry.Registry, open Opener, cfg HandshakeConfig) *Handshake {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultHandshakeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Handshake{registry: reg, open: open, cfg: cfg}
}

// Start handles a START signal.
//
// A client id that already has a session is answered FAILED on the new
// channel and the existing session is kept (SessionExists). If the
// SUCCEEDED answer cannot be written the registration is undone and
// PeerGone is returned.
func (h *Handshake) Start(ctx context.Context, msg *wire.Message) error {
	sig, ok := msg.Signal()
	if !ok || sig.Code != wire.SignalStart {
		return loanerr.New(loanerr.ProtocolViolation, "client %d: expected START", msg.Sender)
	}
	if sig.Text == "" {
		return loanerr.New(loanerr.ProtocolViolation, "client %d: START without a channel name", msg.Sender)
	}

	// A repeated START for a live session's own channel gets no reply: any
	// FAILED written there would be read by the live client.
	if live, err := h.registry.Lookup(msg.Sender); err == nil && live.Channel.Name() == sig.Text {
		return loanerr.New(loanerr.SessionExists, "client %d: session already open on %s", msg.Sender, sig.Text)
	}

	openCtx, cancel := context.WithTimeout(ctx, h.cfg.OpenTimeout)
	defer cancel()

	out, err := h.open(openCtx, sig.Text)
	if err != nil {
		return loanerr.Wrap(loanerr.ChannelUnavailable, err, "client %d", msg.Sender)
	}

	sess := &registry.Session{ID: msg.Sender, Channel: out, ConnectedAt: h.cfg.Clock.Now()}
	if err := h.registry.Register(sess); err != nil {
		if sendErr := wire.Send(out, wire.NewSignal(msg.Sender, wire.SignalFailed, "session already exists")); sendErr != nil {
			logger.Debug("Client %d: FAILED not delivered: %v", msg.Sender, sendErr)
		}
		_ = out.Close()
		return err
	}

	if err := wire.Send(out, wire.NewSignal(msg.Sender, wire.SignalSucceeded, "")); err != nil {
		if _, rmErr := h.registry.Remove(msg.Sender); rmErr != nil {
			logger.Error("Client %d: undo registration: %v", msg.Sender, rmErr)
		}
		_ = out.Close()
		return loanerr.Wrap(loanerr.PeerGone, err, "client %d: confirm session", msg.Sender)
	}

	logger.Info("Client %d connected on %s", msg.Sender, out.Name())
	return nil
}

// Stop handles a STOP signal.
func (h *Handshake) Stop(msg *wire.Message) error {
	sess, err := h.registry.Remove(msg.Sender)
	if err != nil {
		return err
	}
	if err := sess.Channel.Close(); err != nil {
		logger.Warn("Client %d: close %s: %v", msg.Sender, sess.Channel.Name(), err)
	}
	logger.Info("Client %d disconnected", msg.Sender)
	return nil
}

// Drop forgets a session whose channel can no longer be written.
func (h *Handshake) Drop(id int32) {
	sess, err := h.registry.Remove(id)
	if err != nil {
		return
	}
	_ = sess.Channel.Close()
	logger.Warn("Client %d dropped", id)
}
