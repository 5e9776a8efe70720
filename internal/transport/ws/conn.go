// Package ws carries chat frames over WebSocket using gobwas/ws. Frames
// ride inside binary messages; message boundaries carry no meaning.
package ws

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/duochat/internal/chat"
	"github.com/omochice/duochat/internal/transport"
)

// lockedWriter serializes whole WebSocket frames written by the sender and
// by control frame replies issued while reading.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// stream presents a WebSocket connection as a byte stream.
type stream struct {
	conn  net.Conn
	state ws.State
	out   *lockedWriter
	rw    io.ReadWriter

	pending []byte
}

func newStream(conn net.Conn, br *bufio.Reader, state ws.State) *stream {
	out := &lockedWriter{w: conn}
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	return &stream{
		conn:  conn,
		state: state,
		out:   out,
		rw: struct {
			io.Reader
			io.Writer
		}{r, out},
	}
}

func (s *stream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		data, _, err := wsutil.ReadData(s.rw, s.state)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return 0, io.EOF
			}
			return 0, err
		}
		s.pending = data
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *stream) Write(p []byte) (int, error) {
	if err := s.writeFrame(ws.NewBinaryFrame(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *stream) writeFrame(f ws.Frame) error {
	if s.state.ClientSide() {
		f = ws.MaskFrameInPlace(f)
	}
	b, err := ws.CompileFrame(f)
	if err != nil {
		return err
	}
	_, err = s.out.Write(b)
	return err
}

func (s *stream) Close() error {
	_ = s.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
	return s.conn.Close()
}

func (s *stream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// NewServerConn wraps a connection that has completed the server side of
// the WebSocket handshake.
func NewServerConn(conn net.Conn) *transport.FramedConn {
	return transport.NewFramedConn(newStream(conn, nil, ws.StateServerSide))
}

// NewClientConn wraps a dialed WebSocket connection. br holds bytes the
// server sent right after the handshake and may be nil.
func NewClientConn(conn net.Conn, br *bufio.Reader) *transport.FramedConn {
	return transport.NewFramedConn(newStream(conn, br, ws.StateClientSide))
}

// Dial opens a WebSocket connection to url, e.g. ws://host:10002/text.
// A failure is returned as *chat.ConnectError.
func Dial(ctx context.Context, url string) (*transport.FramedConn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, &chat.ConnectError{Op: "dial", Addr: url, Err: err}
	}
	return NewClientConn(conn, br), nil
}
