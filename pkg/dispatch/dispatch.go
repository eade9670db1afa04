// Package dispatch interprets inbound messages on the server's worker.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittoloan/internal/logger"
	"github.com/marmos91/dittoloan/internal/protocol/wire"
	"github.com/marmos91/dittoloan/pkg/inventory"
	"github.com/marmos91/dittoloan/pkg/loanerr"
	"github.com/marmos91/dittoloan/pkg/metrics"
	"github.com/marmos91/dittoloan/pkg/registry"
	"github.com/marmos91/dittoloan/pkg/session"
)

// Dispatcher routes one message at a time to the session protocol or the
// inventory and writes the response.
//
// Every book request from a registered client gets exactly one logical
// response on that client's channel, failures included. A lookup response
// is one Book message per copy. If the response cannot be written the
// client's session is dropped.
//
// Dispatcher is not safe for concurrent use; the server's single worker owns
// it together with the inventory.
type Dispatcher struct {
	registry  *registry.Registry
	handshake *session.Handshake
	inventory *inventory.Inventory
	metrics   metrics.LoanMetrics
}

// New creates a Dispatcher. A nil m disables metrics.
func New(reg *registry.Registry, hs *session.Handshake, inv *inventory.Inventory, m metrics.LoanMetrics) *Dispatcher {
	if m == nil {
		m = metrics.NewNoopLoanMetrics()
	}
	return &Dispatcher{registry: reg, handshake: hs, inventory: inv, metrics: m}
}

// Handle processes msg. The returned error describes what went wrong for
// server-side logging; it has already been answered to the client where
// the protocol allows.
func (d *Dispatcher) Handle(ctx context.Context, msg *wire.Message) error {
	switch p := msg.Payload.(type) {
	case wire.Signal:
		return d.handleSignal(ctx, msg, p)
	case wire.BookRequest:
		return d.handleBook(msg.Sender, p)
	default:
		return loanerr.New(loanerr.ProtocolViolation, "client %d sent a %s message", msg.Sender, msg.Tag())
	}
}

func (d *Dispatcher) handleSignal(ctx context.Context, msg *wire.Message, sig wire.Signal) error {
	defer func() { d.metrics.SetActiveSessions(d.registry.Len()) }()

	switch sig.Code {
	case wire.SignalStart:
		err := d.handshake.Start(ctx, msg)
		switch {
		case err == nil:
			d.metrics.RecordHandshake(metrics.HandshakeSucceeded)
		case errors.Is(err, loanerr.ErrSessionExists):
			d.metrics.RecordHandshake(metrics.HandshakeRejected)
		default:
			d.metrics.RecordHandshake(metrics.HandshakeFailed)
		}
		return err
	case wire.SignalStop:
		return d.handshake.Stop(msg)
	default:
		return loanerr.New(loanerr.ProtocolViolation, "client %d sent unexpected signal %s", msg.Sender, sig.Code)
	}
}

func (d *Dispatcher) handleBook(sender int32, req wire.BookRequest) error {
	start := time.Now()

	sess, err := d.registry.Lookup(sender)
	if err != nil {
		return fmt.Errorf("%s request dropped: %w", req.Operation, err)
	}

	responses, reqErr := d.apply(sender, req)

	for _, resp := range responses {
		if err := wire.Send(sess.Channel, resp); err != nil {
			d.handshake.Drop(sender)
			d.metrics.SetActiveSessions(d.registry.Len())
			d.metrics.RecordRequest(req.Operation.String(), metrics.OutcomeUndelivered, time.Since(start))
			return loanerr.Wrap(loanerr.PeerGone, err, "client %d: write %s response", sender, req.Operation)
		}
	}

	d.metrics.RecordRequest(req.Operation.String(), outcome(reqErr), time.Since(start))
	if reqErr != nil {
		return fmt.Errorf("client %d: %s %q (isbn %d): %w", sender, req.Operation, req.Title, req.ISBN, reqErr)
	}
	logger.Debug("Client %d: %s %q (isbn %d) done", sender, req.Operation, req.Title, req.ISBN)
	return nil
}

// apply runs req against the inventory and builds the response messages.
// The returned error is the request failure, already encoded in the
// responses.
func (d *Dispatcher) apply(sender int32, req wire.BookRequest) ([]*wire.Message, error) {
	isbn, name, number := int(req.ISBN), req.Title, int(req.Copy.Number)

	switch req.Operation {
	case wire.OpBorrow:
		c, err := d.inventory.Borrow(isbn, name)
		if err != nil {
			return failure(sender, err), err
		}
		text := fmt.Sprintf("%s (copy #%d)", inventory.FormatDate(c.Date), c.Number)
		return single(wire.NewSignal(sender, wire.SignalBorrowed, text)), nil

	case wire.OpRenew:
		r, err := d.inventory.Renew(isbn, name, number)
		if err != nil {
			return failure(sender, err), err
		}
		code := wire.SignalRenewed
		if r.Late {
			code = wire.SignalRenewedLate
			d.metrics.RecordLateRenewal()
		}
		return single(wire.NewSignal(sender, code, inventory.FormatDate(r.Copy.Date))), nil

	case wire.OpReturn:
		c, err := d.inventory.Return(isbn, name, number)
		if err != nil {
			return failure(sender, err), err
		}
		return single(wire.NewSignal(sender, wire.SignalReturned, inventory.FormatDate(c.Date))), nil

	case wire.OpLookup:
		t, err := d.inventory.Lookup(isbn, name)
		if err != nil {
			return single(wire.NewFailure(sender)), err
		}
		return lookupResponses(sender, t), nil

	default:
		err := loanerr.New(loanerr.InvalidRequest, "unknown operation %d", int32(req.Operation))
		return single(wire.NewSignal(sender, wire.SignalInvalid, "unknown operation")), err
	}
}

// lookupResponses renders a title as one Book message per copy, in
// inventory order. A title without copies is still answered once.
func lookupResponses(sender int32, t *inventory.Title) []*wire.Message {
	base := wire.BookRequest{
		Operation: wire.OpLookup,
		ISBN:      int32(t.ISBN),
		Title:     t.Name,
		CopyCount: int32(t.CopyCount()),
	}
	if len(t.Copies) == 0 {
		return single(wire.NewBook(sender, base))
	}

	out := make([]*wire.Message, 0, len(t.Copies))
	for _, c := range t.Copies {
		b := base
		b.Copy = wire.Copy{Number: int32(c.Number), State: byte(c.State), Date: inventory.FormatDate(c.Date)}
		out = append(out, wire.NewBook(sender, b))
	}
	return out
}

func single(m *wire.Message) []*wire.Message {
	return []*wire.Message{m}
}

// failure maps an inventory error to its signal response.
func failure(sender int32, err error) []*wire.Message {
	switch {
	case errors.Is(err, loanerr.ErrNotFound):
		return single(wire.NewSignal(sender, wire.SignalNotFound, "title not found"))
	case errors.Is(err, loanerr.ErrUnavailable):
		return single(wire.NewSignal(sender, wire.SignalUnavailable, "no copy in the required state"))
	default:
		return single(wire.NewFailure(sender))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, loanerr.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, loanerr.ErrUnavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeInvalid
	}
}
