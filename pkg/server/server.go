// Package server owns the inbound channel of a DittoLoan server.
//
// A Server runs two loops:
//
//   - the accept loop reads fixed-size messages from the inbound channel and
//     enqueues them, blocking when the queue is full
//   - a single worker takes messages in arrival order and hands them to the
//     Handler
//
// All inventory and session mutation therefore happens on the worker. On
// shutdown the accept loop stops enqueueing, the worker finishes the message
// it holds and exits, and only then are client channels closed and the inbound
// channel removed.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittoloan/internal/logger"
	"github.com/marmos91/dittoloan/internal/protocol/wire"
	"github.com/marmos91/dittoloan/internal/ratelimiter"
	"github.com/marmos91/dittoloan/pkg/channel"
	"github.com/marmos91/dittoloan/pkg/loanerr"
	"github.com/marmos91/dittoloan/pkg/metrics"
	"github.com/marmos91/dittoloan/pkg/queue"
	"github.com/marmos91/dittoloan/pkg/registry"
)

const (
	DefaultQueueCapacity   = 10
	DefaultShutdownTimeout = 5 * time.Second
)

// Handler processes one inbound message. *dispatch.Dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, msg *wire.Message) error
}

// Config holds the server loop settings.
type Config struct {
	// InboundPath is the filesystem path of the inbound channel.
	// The channel is created on Serve and removed when Serve returns.
	InboundPath string `mapstructure:"inbound_path" validate:"required"`

	// QueueCapacity bounds the number of received but unprocessed messages.
	QueueCapacity int `mapstructure:"queue_capacity" validate:"min=0"`

	// ShutdownTimeout is how long Serve waits for the worker to finish its
	// current message before force-closing client channels.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MessagesPerSecond throttles the accept loop. Zero disables throttling.
	MessagesPerSecond uint `mapstructure:"messages_per_second"`

	// Burst is how many messages may be accepted back to back before
	// throttling applies.
	Burst uint `mapstructure:"burst"`
}

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Server is the accept loop and worker pair.
//
// Serve must be called at most once. Stop may be called concurrently with Serve.
type Server struct {
	config   Config
	handler  Handler
	registry *registry.Registry
	metrics  metrics.LoanMetrics
	queue    *queue.Queue[*wire.Message]
	limiter  *ratelimiter.RateLimiter

	inbound *channel.Channel
	mu      sync.Mutex

	// shutdown is closed once to signal both loops
	shutdown     chan struct{}
	shutdownOnce sync.Once

	// loopCtx is cancelled with shutdown; it unblocks Enqueue, Next and
	// channel opens performed by the handler
	loopCtx    context.Context
	cancelLoop context.CancelFunc

	workerDone chan struct{}
	serveDone  chan struct{}
	ready      chan struct{}
}

// New creates a Server. reg is the session registry the handler registers
// clients in; its channels are closed during shutdown. A nil m disables metrics.
func New(config Config, handler Handler, reg *registry.Registry, m metrics.LoanMetrics) *Server {
	if handler == nil {
		panic("server: handler cannot be nil")
	}
	if reg == nil {
		panic("server: registry cannot be nil")
	}
	if m == nil {
		m = metrics.NewNoopLoanMetrics()
	}
	config.applyDefaults()

	loopCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:     config,
		handler:    handler,
		registry:   reg,
		metrics:    m,
		queue:      queue.New[*wire.Message](config.QueueCapacity),
		limiter:    ratelimiter.New(config.MessagesPerSecond, config.Burst),
		shutdown:   make(chan struct{}),
		loopCtx:    loopCtx,
		cancelLoop: cancel,
		workerDone: make(chan struct{}),
		serveDone:  make(chan struct{}),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the inbound channel exists and is open for reading.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Serve creates the inbound channel and processes messages until ctx is
// cancelled or Stop is called. It returns nil on a graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	defer close(s.serveDone)

	if _, err := channel.Create(s.config.InboundPath); err != nil {
		close(s.workerDone)
		return fmt.Errorf("create inbound channel: %w", err)
	}

	inbound, err := channel.OpenReader(s.config.InboundPath)
	if err != nil {
		close(s.workerDone)
		_ = channel.Remove(s.config.InboundPath)
		return fmt.Errorf("open inbound channel: %w", err)
	}

	// Without a writer of our own, reads would see EOF between clients.
	if err := inbound.Hold(); err != nil {
		close(s.workerDone)
		_ = inbound.Close()
		_ = channel.Remove(s.config.InboundPath)
		return fmt.Errorf("hold inbound channel: %w", err)
	}

	s.mu.Lock()
	s.inbound = inbound
	s.mu.Unlock()

	logger.Info("Listening on %s (queue capacity %d)", s.config.InboundPath, s.queue.Cap())
	close(s.ready)

	go s.work()

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, stopping server")
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	acceptErr := s.accept(inbound)
	shutdownErr := s.gracefulShutdown()

	return errors.Join(acceptErr, shutdownErr)
}

// accept reads messages until shutdown. A read error outside shutdown is
// fatal and also triggers shutdown.
func (s *Server) accept(inbound *channel.Channel) error {
	for {
		msg, err := wire.Receive(inbound)
		if err != nil {
			if s.shuttingDown() {
				return nil
			}
			if errors.Is(err, loanerr.ErrProtocolViolation) {
				logger.Warn("Discarding inbound message: %v", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				continue
			}
			s.initiateShutdown()
			return fmt.Errorf("read inbound channel: %w", err)
		}

		logger.Debug("Received %s message from client %d", msg.Tag(), msg.Sender)

		if err := s.limiter.Wait(s.loopCtx); err != nil {
			logger.Debug("Dropping message from client %d: server shutting down", msg.Sender)
			return nil
		}

		if err := s.queue.Enqueue(s.loopCtx, msg); err != nil {
			// Only cancellation makes Enqueue fail.
			logger.Debug("Dropping message from client %d: server shutting down", msg.Sender)
			return nil
		}
		s.metrics.SetQueueDepth(s.queue.Len())
	}
}

// work is the single consumer. It checks for shutdown after every message so
// the message it holds is always finished.
func (s *Server) work() {
	defer close(s.workerDone)

	for {
		msg, err := s.queue.Next(s.loopCtx)
		if err != nil {
			return
		}

		if err := s.handler.Handle(s.loopCtx, *msg); err != nil {
			logger.Warn("Client %d: %v", (*msg).Sender, err)
		}

		s.queue.Release()
		s.metrics.SetQueueDepth(s.queue.Len())

		if s.shuttingDown() {
			return
		}
	}
}

func (s *Server) shuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// initiateShutdown signals both loops. It is safe to call more than once.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Server shutdown initiated")
		close(s.shutdown)
		s.cancelLoop()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.inbound != nil {
			if err := s.inbound.Close(); err != nil {
				logger.Debug("Error closing inbound channel: %v", err)
			}
		}
	})
}

// gracefulShutdown waits for the worker, then releases everything it shares.
//
// If the worker is still busy after ShutdownTimeout, client channels are
// closed under it so a blocked write fails, and the worker is waited for
// again. Teardown never runs while the worker can still touch a session.
func (s *Server) gracefulShutdown() error {
	pending := s.queue.Len()
	logger.Info("Waiting for worker to finish (timeout: %v, %d queued message(s) dropped)",
		s.config.ShutdownTimeout, pending)

	var timeoutErr error
	select {
	case <-s.workerDone:
	case <-time.After(s.config.ShutdownTimeout):
		logger.Warn("Worker still busy after %v, closing client channels", s.config.ShutdownTimeout)
		timeoutErr = fmt.Errorf("shutdown timeout: worker busy after %v", s.config.ShutdownTimeout)
		s.closeSessions()
		<-s.workerDone
	}

	s.closeSessions()

	if err := channel.Remove(s.config.InboundPath); err != nil {
		logger.Warn("Failed to remove inbound channel %s: %v", s.config.InboundPath, err)
	}

	logger.Info("Server stopped")
	return timeoutErr
}

func (s *Server) closeSessions() {
	n, err := s.registry.CloseAll()
	if err != nil {
		logger.Warn("Error closing client channels: %v", err)
	}
	if n > 0 {
		logger.Info("Closed %d client session(s)", n)
	}
	s.metrics.SetActiveSessions(s.registry.Len())
}

// Stop initiates shutdown and waits for Serve to return or ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	select {
	case <-s.serveDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
