// Package transport holds the framed connection shared by the TCP and
// WebSocket transports.
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/omochice/duochat/pkg/protocol"
)

// Stream is the byte stream a FramedConn reads frames from.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// FramedConn implements chat.Conn on top of any Stream.
// Reads must come from a single goroutine; writes are serialized.
type FramedConn struct {
	stream Stream
	reader *bufio.Reader

	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewFramedConn wraps a stream.
func NewFramedConn(s Stream) *FramedConn {
	return &FramedConn{
		stream: s,
		reader: bufio.NewReader(s),
	}
}

// Read blocks until a whole frame arrives. There is no read timeout;
// closing the connection unblocks it.
func (c *FramedConn) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return protocol.ReadFrame(c.reader)
}

// Write sends one frame.
func (c *FramedConn) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteFrame(c.stream, data)
}

// PeerClosed peeks at the stream for up to wait and reports true only when
// the peer has definitely closed it. Pending data, timeouts and any other
// error count as alive. Bytes seen by the peek stay buffered for Read.
func (c *FramedConn) PeerClosed(wait time.Duration) bool {
	if err := c.stream.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return false
	}
	defer c.stream.SetReadDeadline(time.Time{}) //nolint:errcheck

	_, err := c.reader.Peek(1)
	return errors.Is(err, io.EOF)
}

// Close closes the underlying stream. Safe to call more than once.
func (c *FramedConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stream.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address as host:port.
func (c *FramedConn) RemoteAddr() string {
	if addr := c.stream.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// IsClosed reports whether err is an ordinary end of a connection rather
// than a failure worth reporting.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}

// Host returns the host part of a host:port address, or addr unchanged
// when it has no port.
func Host(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
