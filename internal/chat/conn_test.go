package chat_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/omochice/duochat/internal/chat"
)

// mockConn is a mock implementation of chat.Conn for testing.
type mockConn struct {
	remoteAddr string
	readCh     chan []byte

	peerOnce sync.Once
	peerGone chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	writtenMu sync.Mutex
	written   [][]byte
	writeErr  error
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		remoteAddr: addr,
		readCh:     make(chan []byte, 16),
		peerGone:   make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, io.ErrClosedPipe
	case data := <-m.readCh:
		return data, nil
	case <-m.peerGone:
		select {
		case data := <-m.readCh:
			return data, nil
		default:
			return nil, io.EOF
		}
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-m.closed:
		return io.ErrClosedPipe
	default:
	}
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	m.written = append(m.written, copied)
	return nil
}

func (m *mockConn) PeerClosed(wait time.Duration) bool {
	select {
	case <-m.closed:
		return false
	default:
	}
	select {
	case <-m.peerGone:
		return true
	case <-m.closed:
		return false
	case <-time.After(wait):
		return false
	}
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

// send queues a frame as if the peer had written it.
func (m *mockConn) send(data string) {
	m.readCh <- []byte(data)
}

// hangUp simulates the peer closing its end.
func (m *mockConn) hangUp() {
	m.peerOnce.Do(func() { close(m.peerGone) })
}

func (m *mockConn) failWrites(err error) {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	m.writeErr = err
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *mockConn) getWritten() []string {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	out := make([]string, len(m.written))
	for i, w := range m.written {
		out[i] = string(w)
	}
	return out
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)
