// Package chat implements connection admission for a single-session chat
// server: one active session, a FIFO waiting queue and the pairing of an
// image channel with the active session.
package chat

import (
	"context"
	"time"
)

// Conn abstracts a framed, bidirectional connection for both TCP and
// WebSocket. This interface isolates transport details from admission logic.
type Conn interface {
	// Read reads a single frame payload.
	// Returns io.EOF when the peer closed the connection between frames.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame payload.
	Write(ctx context.Context, data []byte) error

	// PeerClosed waits up to the given duration and reports true only when
	// the peer has definitely closed the connection.
	PeerClosed(wait time.Duration) bool

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
