package registry

import (
	"io"
	"time"
)

// Outbound is the server's write end of a client's channel.
type Outbound interface {
	io.WriteCloser
	Name() string
}

// Session is the server-side record of one connected client.
type Session struct {
	// ID is the client's process id, also the Sender of its messages
	ID int32

	// Channel is where responses for this client are written
	Channel Outbound

	// ConnectedAt is when the handshake completed
	ConnectedAt time.Time
}
