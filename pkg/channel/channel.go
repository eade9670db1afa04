// Package channel implements the named byte-stream transport used between
// DittoLoan clients and the server.
//
// A channel is a POSIX named pipe (FIFO). Every descriptor is opened with
// O_NONBLOCK and handed to os.NewFile, which registers it with the Go runtime
// poller: reads and writes block the goroutine, not the thread, and
// SetReadDeadline works as it does for sockets.
//
// Named-pipe semantics that callers rely on:
//   - A read on a pipe that has never had a writer, or whose last writer has
//     closed, returns io.EOF immediately.
//   - Opening for write fails with ENXIO until a reader exists. OpenWriter
//     retries in that case until its context expires.
//   - Writes of at most PIPE_BUF bytes are atomic, so one wire message per
//     Write never interleaves with another writer's message.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/dittoloan/pkg/loanerr"
)

// Mode is the permission set used when creating a channel.
const Mode = 0o666

// DefaultRetryInterval is used by OpenWriter when retryInterval is zero.
const DefaultRetryInterval = 50 * time.Millisecond

// Channel is an open end of a named pipe.
type Channel struct {
	file *os.File
	path string

	// hold is a write end kept by a reader so reads block instead of
	// returning EOF when no external writer is connected.
	hold *os.File
}

// Create makes a named pipe at path and reports whether it did. An existing
// named pipe is reused and reported as not created; any other existing file
// is an error.
func Create(path string) (bool, error) {
	err := unix.Mkfifo(path, Mode)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, unix.EEXIST) {
		return false, loanerr.Wrap(loanerr.ChannelUnavailable, err, "create channel %s", path)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return false, loanerr.Wrap(loanerr.ChannelUnavailable, statErr, "create channel %s", path)
	}
	if info.Mode()&fs.ModeNamedPipe == 0 {
		return false, loanerr.New(loanerr.ChannelUnavailable, "create channel %s: file exists and is not a named pipe", path)
	}
	return false, nil
}

// HasReader reports whether the named pipe at path currently has a reader.
func HasReader(path string) (bool, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err == nil {
		_ = unix.Close(fd)
		return true, nil
	}
	if errors.Is(err, unix.ENXIO) {
		return false, nil
	}
	return false, loanerr.Wrap(loanerr.ChannelUnavailable, err, "check channel %s", path)
}

// Remove deletes the named pipe at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove channel %s: %w", path, err)
	}
	return nil
}

// OpenReader opens the read end of the named pipe at path.
//
// The open never blocks. Reads return io.EOF until a writer connects.
func OpenReader(path string) (*Channel, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, loanerr.Wrap(loanerr.ChannelUnavailable, err, "open channel %s for reading", path)
	}
	return &Channel{file: os.NewFile(uintptr(fd), path), path: path}, nil
}

// OpenWriter opens the write end of the named pipe at path.
//
// While the pipe has no reader the open is retried every retryInterval until
// ctx is done. A missing pipe, or a path that is not a named pipe, fails
// immediately. All failures are reported as ChannelUnavailable.
func OpenWriter(ctx context.Context, path string, retryInterval time.Duration) (*Channel, error) {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}

	for {
		fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err == nil {
			if err := requireFIFO(fd, path); err != nil {
				_ = unix.Close(fd)
				return nil, err
			}
			return &Channel{file: os.NewFile(uintptr(fd), path), path: path}, nil
		}
		if !errors.Is(err, unix.ENXIO) && !errors.Is(err, unix.EINTR) {
			return nil, loanerr.Wrap(loanerr.ChannelUnavailable, err, "open channel %s for writing", path)
		}

		select {
		case <-ctx.Done():
			return nil, loanerr.Wrap(loanerr.ChannelUnavailable, ctx.Err(), "open channel %s for writing: no reader", path)
		case <-time.After(retryInterval):
		}
	}
}

// requireFIFO checks that fd refers to a named pipe.
func requireFIFO(fd int, path string) error {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return loanerr.Wrap(loanerr.ChannelUnavailable, err, "stat channel %s", path)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFIFO {
		return loanerr.New(loanerr.ChannelUnavailable, "open channel %s for writing: not a named pipe", path)
	}
	return nil
}

// Hold keeps a private write end open on a reader channel.
//
// With a held writer, Read blocks until data arrives (or the read deadline
// passes, or the channel is closed) instead of returning io.EOF whenever
// the set of external writers is empty. Servers use it on their inbound
// channel.
func (c *Channel) Hold() error {
	if c.hold != nil {
		return nil
	}
	fd, err := unix.Open(c.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return loanerr.Wrap(loanerr.ChannelUnavailable, err, "hold channel %s", c.path)
	}
	c.hold = os.NewFile(uintptr(fd), c.path)
	return nil
}

// Read reads from the channel.
func (c *Channel) Read(p []byte) (int, error) {
	return c.file.Read(p)
}

// Write writes p in a single call. A write to a pipe whose reader has gone
// is reported as PeerGone.
func (c *Channel) Write(p []byte) (int, error) {
	n, err := c.file.Write(p)
	if err != nil && errors.Is(err, unix.EPIPE) {
		return n, loanerr.Wrap(loanerr.PeerGone, err, "write to channel %s", c.path)
	}
	return n, err
}

// SetReadDeadline bounds pending and future reads. A zero time clears it.
func (c *Channel) SetReadDeadline(t time.Time) error {
	return c.file.SetReadDeadline(t)
}

// Name returns the filesystem path of the channel.
func (c *Channel) Name() string {
	return c.path
}

// Close closes the channel and any held writer. A blocked Read returns
// an error wrapping os.ErrClosed.
func (c *Channel) Close() error {
	var holdErr error
	if c.hold != nil {
		holdErr = c.hold.Close()
	}
	return errors.Join(c.file.Close(), holdErr)
}
