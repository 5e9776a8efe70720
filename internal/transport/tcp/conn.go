// Package tcp provides the TCP transport for the chat server and client.
package tcp

import (
	"context"
	"net"

	"github.com/omochice/duochat/internal/chat"
	"github.com/omochice/duochat/internal/transport"
)

// NewConn wraps an established TCP connection as a framed chat.Conn.
func NewConn(conn net.Conn) *transport.FramedConn {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return transport.NewFramedConn(conn)
}

// Dial connects to addr. A failure is returned as *chat.ConnectError.
func Dial(ctx context.Context, addr string) (*transport.FramedConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &chat.ConnectError{Op: "dial", Addr: addr, Err: err}
	}
	return NewConn(conn), nil
}
