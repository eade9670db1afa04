// Package session implements both halves of the DittoLoan connect and
// disconnect protocol.
//
// Client side:
//
//	Connect:    open server inbound channel for writing
//	            create own outbound channel  <prefix><pid>, open it for reading
//	            send Signal{START, outbound path}  (bounded write attempts)
//	            wait for Signal{SUCCEEDED|FAILED}   (bounded by HandshakeTimeout)
//	Disconnect: send Signal{STOP} (best effort)
//	            read outbound until EOF             (bounded by DisconnectTimeout)
//	            close both channels, remove the outbound file
//
// Server side, see Handshake.
package session

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/marmos91/dittoloan/internal/logger"
	"github.com/marmos91/dittoloan/internal/protocol/wire"
	"github.com/marmos91/dittoloan/pkg/channel"
	"github.com/marmos91/dittoloan/pkg/loanerr"
)

// Protocol defaults.
const (
	DefaultClientPrefix      = "/tmp/dittoloan_client_"
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultDisconnectTimeout = 10 * time.Second
	DefaultWriteAttempts     = 5
)

// ClientConfig configures Connect.
type ClientConfig struct {
	// ServerPath is the server's inbound channel.
	ServerPath string

	// ClientPrefix is prepended to the decimal client id to name the
	// outbound channel.
	ClientPrefix string

	// ID identifies the client to the server. Zero means os.Getpid().
	ID int32

	HandshakeTimeout  time.Duration
	DisconnectTimeout time.Duration

	// WriteAttempts bounds how often the START signal is written before
	// giving up with WriteExhausted.
	WriteAttempts int

	// RetryInterval spaces write attempts and handshake polls.
	RetryInterval time.Duration
}

func (c *ClientConfig) applyDefaults() {
	if c.ClientPrefix == "" {
		c.ClientPrefix = DefaultClientPrefix
	}
	if c.ID == 0 {
		c.ID = int32(os.Getpid())
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.WriteAttempts <= 0 {
		c.WriteAttempts = DefaultWriteAttempts
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = channel.DefaultRetryInterval
	}
}

// OutboundPath returns the outbound channel name for id.
func OutboundPath(prefix string, id int32) string {
	return prefix + strconv.FormatInt(int64(id), 10)
}

// Client is an established session seen from the client process.
type Client struct {
	cfg     ClientConfig
	server  *channel.Channel
	inbox   *channel.Channel
	outPath string
}

// Response is the server's answer to one book request.
type Response struct {
	// Signal is set for borrow, renew and return, and for signal-coded
	// failures of any operation.
	Signal *wire.Signal

	// Books holds a lookup result, one entry per copy.
	Books []wire.BookRequest

	// Failed is set when the server answered with an error notice.
	Failed bool
}

// Connect runs the client half of the handshake.
//
// Any failure unwinds completely: channels are closed and the outbound
// channel file is removed before the error is returned. Connect only ever
// removes a channel file it created. If a live session already reads the
// outbound path, Connect fails with SessionExists before contacting the
// server; a leftover pipe with no reader is replaced.
func Connect(ctx context.Context, cfg ClientConfig) (*Client, error) {
	cfg.applyDefaults()

	outPath := OutboundPath(cfg.ClientPrefix, cfg.ID)
	if len(outPath) > wire.TextSize {
		return nil, loanerr.New(loanerr.InvalidRequest, "outbound channel name %q exceeds %d bytes", outPath, wire.TextSize)
	}

	openCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	server, err := channel.OpenWriter(openCtx, cfg.ServerPath, cfg.RetryInterval)
	if err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg, server: server, outPath: outPath}

	if err := claimOutbound(outPath, cfg.ID); err != nil {
		_ = server.Close()
		return nil, err
	}

	c.inbox, err = channel.OpenReader(outPath)
	if err != nil {
		c.unwind()
		return nil, err
	}

	if err := c.sendStart(ctx); err != nil {
		c.unwind()
		return nil, err
	}

	if err := c.awaitConfirmation(ctx); err != nil {
		c.unwind()
		return nil, err
	}

	logger.Debug("Session %d established on %s", cfg.ID, outPath)
	return c, nil
}

// claimOutbound creates the outbound channel at path for this client.
func claimOutbound(path string, id int32) error {
	created, err := channel.Create(path)
	if err != nil || created {
		return err
	}

	live, err := channel.HasReader(path)
	if err != nil {
		return err
	}
	if live {
		return loanerr.New(loanerr.SessionExists, "outbound channel %s is in use: client %d is already connected", path, id)
	}

	logger.Debug("Replacing stale outbound channel %s", path)
	if err := channel.Remove(path); err != nil {
		return loanerr.Wrap(loanerr.ChannelUnavailable, err, "replace stale channel %s", path)
	}
	created, err = channel.Create(path)
	if err != nil {
		return err
	}
	if !created {
		return loanerr.New(loanerr.SessionExists, "outbound channel %s was claimed concurrently", path)
	}
	return nil
}

func (c *Client) sendStart(ctx context.Context) error {
	start := wire.NewSignal(c.cfg.ID, wire.SignalStart, c.outPath)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.WriteAttempts; attempt++ {
		lastErr = wire.Send(c.server, start)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, loanerr.ErrInvalidRequest) {
			return lastErr
		}
		logger.Debug("START attempt %d/%d failed: %v", attempt, c.cfg.WriteAttempts, lastErr)

		select {
		case <-ctx.Done():
			return loanerr.Wrap(loanerr.WriteExhausted, ctx.Err(), "send START")
		case <-time.After(c.cfg.RetryInterval):
		}
	}
	return loanerr.Wrap(loanerr.WriteExhausted, lastErr, "send START after %d attempts", c.cfg.WriteAttempts)
}

// awaitConfirmation polls the outbound channel until the server's answer
// arrives or the handshake deadline passes. Reads return EOF while the
// server has not yet opened its end.
func (c *Client) awaitConfirmation(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)

	for {
		if err := c.inbox.SetReadDeadline(deadline); err != nil {
			return err
		}
		msg, err := wire.Receive(c.inbox)
		switch {
		case err == nil:
			return checkConfirmation(msg)
		case errors.Is(err, io.EOF):
		case errors.Is(err, os.ErrDeadlineExceeded):
			return loanerr.New(loanerr.HandshakeTimeout, "no answer from server within %s", c.cfg.HandshakeTimeout)
		default:
			return err
		}

		if !time.Now().Before(deadline) {
			return loanerr.New(loanerr.HandshakeTimeout, "no answer from server within %s", c.cfg.HandshakeTimeout)
		}
		select {
		case <-ctx.Done():
			return loanerr.Wrap(loanerr.HandshakeTimeout, ctx.Err(), "waiting for server")
		case <-time.After(c.cfg.RetryInterval):
		}
	}
}

func checkConfirmation(msg *wire.Message) error {
	sig, ok := msg.Signal()
	if !ok {
		return loanerr.New(loanerr.ProtocolViolation, "expected a signal, got %s", msg.Tag())
	}
	switch sig.Code {
	case wire.SignalSucceeded:
		return nil
	case wire.SignalFailed:
		if sig.Text != "" {
			return loanerr.New(loanerr.HandshakeRejected, "server refused session: %s", sig.Text)
		}
		return loanerr.New(loanerr.HandshakeRejected, "server refused session")
	default:
		return loanerr.New(loanerr.ProtocolViolation, "unexpected signal %s during handshake", sig.Code)
	}
}

func (c *Client) unwind() {
	if c.inbox != nil {
		_ = c.inbox.Close()
	}
	_ = c.server.Close()
	if err := channel.Remove(c.outPath); err != nil {
		logger.Warn("Cleanup: %v", err)
	}
}

// ID returns the client id used as Sender.
func (c *Client) ID() int32 {
	return c.cfg.ID
}

// Do sends one book request and reads the server's response.
//
// A lookup that finds the title is answered with one Book message per copy,
// each carrying the copy count; all of them are collected into Books. If ctx
// has a deadline it bounds the wait.
func (c *Client) Do(ctx context.Context, req wire.BookRequest) (*Response, error) {
	if err := wire.Send(c.server, wire.NewBook(c.cfg.ID, req)); err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline()
	if err := c.inbox.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	first, err := c.receive()
	if err != nil {
		return nil, err
	}

	switch p := first.Payload.(type) {
	case wire.Signal:
		return &Response{Signal: &p}, nil
	case wire.Failure:
		return &Response{Failed: true}, nil
	case wire.BookRequest:
		resp := &Response{Books: []wire.BookRequest{p}}
		for len(resp.Books) < int(p.CopyCount) {
			next, err := c.receive()
			if err != nil {
				return nil, err
			}
			book, ok := next.Book()
			if !ok {
				return nil, loanerr.New(loanerr.ProtocolViolation, "lookup result interrupted by %s", next.Tag())
			}
			resp.Books = append(resp.Books, book)
		}
		return resp, nil
	default:
		return nil, loanerr.New(loanerr.ProtocolViolation, "unexpected %s response", first.Tag())
	}
}

func (c *Client) receive() (*wire.Message, error) {
	msg, err := wire.Receive(c.inbox)
	if errors.Is(err, io.EOF) {
		return nil, loanerr.Wrap(loanerr.PeerGone, err, "server closed the session")
	}
	return msg, err
}

// Disconnect tears the session down.
//
// STOP is sent best effort. The client then waits for the server to close
// its end of the outbound channel; if that does not happen within
// DisconnectTimeout the channels are cleaned up anyway and DisconnectTimeout
// is returned.
func (c *Client) Disconnect(ctx context.Context) error {
	defer c.unwind()

	if err := wire.Send(c.server, wire.NewSignal(c.cfg.ID, wire.SignalStop, "")); err != nil {
		logger.Warn("Send STOP failed: %v", err)
	}

	deadline := time.Now().Add(c.cfg.DisconnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.inbox.SetReadDeadline(deadline); err != nil {
		return err
	}

	for {
		msg, err := wire.Receive(c.inbox)
		switch {
		case errors.Is(err, io.EOF):
			logger.Debug("Session %d closed", c.cfg.ID)
			return nil
		case errors.Is(err, os.ErrDeadlineExceeded):
			return loanerr.New(loanerr.DisconnectTimeout, "server did not close the session within %s", c.cfg.DisconnectTimeout)
		case err != nil:
			return err
		default:
			logger.Debug("Discarding %s message received while disconnecting", msg.Tag())
		}
	}
}
