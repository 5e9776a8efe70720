package chat

import (
	"sync"
	"time"
)

// Entry is a connection waiting for the active session to end.
type Entry struct {
	Conn     Conn
	Addr     string
	Seq      uint64
	Enqueued time.Time

	stop        chan struct{}
	stopOnce    sync.Once
	monitorDone chan struct{}
}

func newEntry(conn Conn, seq uint64) *Entry {
	return &Entry{
		Conn:        conn,
		Addr:        conn.RemoteAddr(),
		Seq:         seq,
		Enqueued:    time.Now(),
		stop:        make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
}

// stopMonitor asks the liveness monitor to exit. The monitor closes
// monitorDone once it no longer touches the connection.
func (e *Entry) stopMonitor() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Queue is a strict FIFO of waiting entries.
// It is not safe for concurrent use; the Hub loop goroutine owns it.
type Queue struct {
	entries []*Entry
	seq     uint64
}

// Push appends conn and returns its entry and 1-based position.
func (q *Queue) Push(conn Conn) (*Entry, int) {
	q.seq++
	e := newEntry(conn, q.seq)
	q.entries = append(q.entries, e)
	return e, len(q.entries)
}

// Pop removes and returns the oldest entry, or nil when empty.
func (q *Queue) Pop() *Entry {
	if len(q.entries) == 0 {
		return nil
	}
	e := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	return e
}

// Remove deletes e wherever it is, keeping the order of the rest.
// It returns false if e is no longer queued.
func (q *Queue) Remove(e *Entry) bool {
	for i, cur := range q.entries {
		if cur == e {
			copy(q.entries[i:], q.entries[i+1:])
			q.entries[len(q.entries)-1] = nil
			q.entries = q.entries[:len(q.entries)-1]
			return true
		}
	}
	return false
}

// Len returns the number of waiting entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Addrs lists the waiting remote addresses in queue order.
func (q *Queue) Addrs() []string {
	addrs := make([]string, 0, len(q.entries))
	for _, e := range q.entries {
		addrs = append(addrs, e.Addr)
	}
	return addrs
}

// Drain empties the queue and returns what was in it.
func (q *Queue) Drain() []*Entry {
	entries := q.entries
	q.entries = nil
	return entries
}
