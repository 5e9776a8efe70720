package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubConn struct{ addr string }

func (c stubConn) Read(context.Context) ([]byte, error) { return nil, nil }
func (c stubConn) Write(context.Context, []byte) error  { return nil }
func (c stubConn) PeerClosed(time.Duration) bool        { return false }
func (c stubConn) Close() error                         { return nil }
func (c stubConn) RemoteAddr() string                   { return c.addr }

func TestQueue_PushReturnsPosition(t *testing.T) {
	var q Queue
	for i, addr := range []string{"a", "b", "c"} {
		e, pos := q.Push(stubConn{addr})
		assert.Equal(t, i+1, pos)
		assert.Equal(t, addr, e.Addr)
		assert.Equal(t, uint64(i+1), e.Seq)
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"a", "b", "c"}, q.Addrs())
}

func TestQueue_PopIsFIFO(t *testing.T) {
	var q Queue
	q.Push(stubConn{"a"})
	q.Push(stubConn{"b"})

	assert.Equal(t, "a", q.Pop().Addr)
	assert.Equal(t, "b", q.Pop().Addr)
	assert.Nil(t, q.Pop())
}

func TestQueue_RemoveKeepsOrder(t *testing.T) {
	var q Queue
	q.Push(stubConn{"a"})
	b, _ := q.Push(stubConn{"b"})
	q.Push(stubConn{"c"})

	assert.True(t, q.Remove(b))
	assert.False(t, q.Remove(b), "entry must be removed at most once")
	assert.Equal(t, []string{"a", "c"}, q.Addrs())

	_, pos := q.Push(stubConn{"d"})
	assert.Equal(t, 3, pos)
}

func TestQueue_RemoveAfterPop(t *testing.T) {
	var q Queue
	a, _ := q.Push(stubConn{"a"})

	assert.Same(t, a, q.Pop())
	assert.False(t, q.Remove(a))
}

func TestQueue_Drain(t *testing.T) {
	var q Queue
	q.Push(stubConn{"a"})
	q.Push(stubConn{"b"})

	drained := q.Drain()
	assert.Len(t, drained, 2)
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Addrs())
}

func TestEntry_StopMonitorTwice(t *testing.T) {
	e := newEntry(stubConn{"a"}, 1)
	e.stopMonitor()
	e.stopMonitor()

	select {
	case <-e.stop:
	default:
		t.Fatal("stop channel not closed")
	}
}
