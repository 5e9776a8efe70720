package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/duochat/internal/transport"
	"github.com/omochice/duochat/pkg/protocol"
)

const (
	DefaultPromoteInterval = 200 * time.Millisecond
	DefaultProbeInterval   = 500 * time.Millisecond
	DefaultMailboxSize     = 1024
)

// Options configures a Hub. Zero values select the defaults.
type Options struct {
	Handler         Handler
	Logger          *zerolog.Logger
	PromoteInterval time.Duration
	ProbeInterval   time.Duration
	MailboxSize     int
}

// Hub admits connections into a single active session and keeps a FIFO
// queue of the rest. All session and queue state is owned by the goroutine
// running Run; other goroutines dispatch closures onto it.
type Hub struct {
	log             zerolog.Logger
	promoteInterval time.Duration
	probeInterval   time.Duration

	events   chan func()
	quit     chan struct{}
	done     chan struct{}
	ready    chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	notes    *notifier
	handler  Handler

	// owned by the loop goroutine
	session *Session
	queue   Queue
	nextID  uint64
	stopped bool
	wg      sync.WaitGroup
}

// NewHub creates a hub. Call Run to start it.
func NewHub(opts Options) *Hub {
	h := &Hub{
		log:             zerolog.Nop(),
		promoteInterval: opts.PromoteInterval,
		probeInterval:   opts.ProbeInterval,
		handler:         opts.Handler,
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
		ready:           make(chan struct{}),
		notes:           newNotifier(),
	}
	if opts.Logger != nil {
		h.log = opts.Logger.With().Str("component", "hub").Logger()
	}
	if h.promoteInterval <= 0 {
		h.promoteInterval = DefaultPromoteInterval
	}
	if h.probeInterval <= 0 {
		h.probeInterval = DefaultProbeInterval
	}
	if h.handler == nil {
		h.handler = NopHandler{}
	}
	size := opts.MailboxSize
	if size <= 0 {
		size = DefaultMailboxSize
	}
	h.events = make(chan func(), size)
	return h
}

// Run processes hub events until ctx is cancelled or Stop is called.
// On exit every connection the hub still holds is closed.
func (h *Hub) Run(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return errors.New("chat: hub already running")
	}
	defer close(h.done)
	close(h.ready)

	notesDone := make(chan struct{})
	go func() {
		defer close(notesDone)
		h.notes.run(h.handler, h.log)
	}()

	ticker := time.NewTicker(h.promoteInterval)
	defer ticker.Stop()

	h.log.Info().
		Dur("promote_interval", h.promoteInterval).
		Dur("probe_interval", h.probeInterval).
		Msg("hub started")

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.quit) })
			err = ctx.Err()
			break loop
		case <-h.quit:
			break loop
		case f := <-h.events:
			h.handle(f)
		case <-ticker.C:
			h.promoteNext()
		}
	}

	h.shutdown()
	h.notes.close()
	<-notesDone
	h.log.Info().Msg("hub stopped")
	return err
}

// Stop ends Run and waits for it to return.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	if h.started.Load() {
		<-h.done
	}
}

// Ready is closed once Run has started processing events.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Admit hands a newly accepted text connection to the hub. The connection
// either becomes the active session or joins the waiting queue. If the hub
// is stopped the connection is closed.
func (h *Hub) Admit(conn Conn) error {
	if err := h.dispatch(func() { h.admit(conn) }); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// AttachImage pairs an image connection with the active session. Only the
// first image connection per session is kept; others are closed.
func (h *Hub) AttachImage(conn Conn) error {
	if err := h.dispatch(func() { h.attachImage(conn) }); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// Send writes one frame to the active session on the given channel. A
// failed write closes that channel and returns a *SendError.
func (h *Hub) Send(ctx context.Context, ch protocol.Channel, data []byte) error {
	conn, err := h.channelConn(ch)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, data); err != nil {
		h.log.Warn().Err(err).Str("channel", ch.String()).Msg("send failed, closing channel")
		_ = conn.Close()
		return &SendError{Channel: ch, Err: err}
	}
	return nil
}

// CloseChannel closes one channel of the active session. Closing the text
// channel ends the session.
func (h *Hub) CloseChannel(ch protocol.Channel) error {
	conn, err := h.channelConn(ch)
	if err != nil {
		return err
	}
	return conn.Close()
}

// CloseSession ends the active session.
func (h *Hub) CloseSession() error {
	return h.CloseChannel(protocol.ChannelText)
}

// Status returns a snapshot of the session and the waiting queue.
func (h *Hub) Status() (Status, error) {
	var st Status
	err := h.query(func() {
		st.Waiting = h.queue.Addrs()
		if s := h.session; s != nil {
			st.Active = true
			st.SessionID = s.ID
			st.Addr = s.Addr
			st.Opened = s.Opened
			st.ImageAttached = s.image != nil
		}
	})
	return st, err
}

func (h *Hub) dispatch(f func()) error {
	select {
	case <-h.quit:
		return ErrHubStopped
	default:
	}
	select {
	case h.events <- f:
		return nil
	case <-h.quit:
		return ErrHubStopped
	}
}

// query runs f on the loop goroutine and waits for it.
func (h *Hub) query(f func()) error {
	if !h.started.Load() {
		return ErrHubNotRunning
	}
	ran := make(chan struct{})
	if err := h.dispatch(func() {
		defer close(ran)
		f()
	}); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) channelConn(ch protocol.Channel) (Conn, error) {
	var conn Conn
	var cerr error
	err := h.query(func() {
		switch {
		case h.stopped:
			cerr = ErrHubStopped
		case h.session == nil:
			cerr = ErrNoSession
		default:
			if conn = h.session.conn(ch); conn == nil {
				cerr = ErrNoChannel
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return conn, cerr
}

// loop goroutine
func (h *Hub) handle(f func()) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error().Interface("panic", rec).Msg("hub event recovered from panic")
		}
	}()
	f()
}

// loop goroutine
func (h *Hub) admit(conn Conn) {
	addr := conn.RemoteAddr()
	if h.stopped {
		_ = conn.Close()
		return
	}
	if h.session == nil {
		// waiting clients go first
		h.promoteNext()
	}
	if h.session == nil {
		h.promote(conn, nil)
		return
	}

	e, pos := h.queue.Push(conn)
	h.log.Info().Str("remote", addr).Int("position", pos).Msg("client queued")
	h.startMonitor(e, pos)
	h.notifyQueue()
}

// loop goroutine
func (h *Hub) promoteNext() {
	if h.stopped || h.session != nil {
		return
	}
	e := h.queue.Pop()
	if e == nil {
		return
	}
	e.stopMonitor()
	h.log.Info().
		Str("remote", e.Addr).
		Dur("waited", time.Since(e.Enqueued)).
		Msg("promoting queued client")
	h.promote(e.Conn, e.monitorDone)
	h.notifyQueue()
}

// promote makes conn the active session. The welcome frame is written and
// the reader started only after ready is closed, so a liveness monitor
// never reads concurrently with the session reader.
//
// loop goroutine
func (h *Hub) promote(conn Conn, ready <-chan struct{}) {
	h.nextID++
	s := &Session{
		ID:            h.nextID,
		Addr:          conn.RemoteAddr(),
		Opened:        time.Now(),
		text:          conn,
		awaitingImage: true,
	}
	h.session = s

	h.log.Info().Uint64("session", s.ID).Str("remote", s.Addr).Msg("session opened")
	addr := s.Addr
	h.notes.push(func(hd Handler) { hd.OnSessionOpened(addr) })

	h.startReader(s, protocol.ChannelText, conn, ready, protocol.Welcome())
}

// loop goroutine
func (h *Hub) attachImage(conn Conn) {
	s := h.session
	if h.stopped || s == nil || !s.awaitingImage {
		h.log.Info().Str("remote", conn.RemoteAddr()).Msg("no session awaiting an image channel, closing")
		_ = conn.Close()
		return
	}
	s.awaitingImage = false
	s.image = conn
	h.log.Info().
		Uint64("session", s.ID).
		Str("remote", conn.RemoteAddr()).
		Msg("image channel attached")
	h.startReader(s, protocol.ChannelImage, conn, nil, nil)
}

// loop goroutine
func (h *Hub) startReader(s *Session, ch protocol.Channel, conn Conn, ready <-chan struct{}, greeting []byte) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if ready != nil {
			<-ready
		}

		var err error
		if greeting != nil {
			err = conn.Write(context.Background(), greeting)
		}
		if err == nil {
			err = h.readLoop(s, ch, conn)
		}
		if derr := h.dispatch(func() { h.channelClosed(s, ch, conn, err) }); derr != nil {
			_ = conn.Close()
		}
	}()
}

func (h *Hub) readLoop(s *Session, ch protocol.Channel, conn Conn) error {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			return err
		}
		p := Payload{Data: data, Channel: ch, Time: time.Now(), Peer: s.Addr}
		h.notes.push(func(hd Handler) { hd.OnPayload(p) })
	}
}

// loop goroutine
func (h *Hub) channelClosed(s *Session, ch protocol.Channel, conn Conn, err error) {
	ev := h.log.Info()
	if err != nil && !transport.IsClosed(err) {
		ev = h.log.Warn().Err(err)
	}
	ev.Uint64("session", s.ID).Str("channel", ch.String()).Msg("channel closed")

	_ = conn.Close()
	if h.session != s {
		return
	}

	switch ch {
	case protocol.ChannelText:
		h.teardown()
	case protocol.ChannelImage:
		if s.image == conn {
			s.image = nil
		}
	}
}

// loop goroutine
func (h *Hub) teardown() {
	s := h.session
	if s == nil {
		return
	}
	h.session = nil
	s.close()

	h.log.Info().
		Uint64("session", s.ID).
		Str("remote", s.Addr).
		Dur("duration", time.Since(s.Opened)).
		Msg("session closed")
	addr := s.Addr
	h.notes.push(func(hd Handler) { hd.OnSessionClosed(addr) })
}

// loop goroutine
func (h *Hub) startMonitor(e *Entry, pos int) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(e.monitorDone)
		h.monitor(e, pos)
	}()
}

// monitor sends the queue position and then probes the waiting connection
// until it is promoted or the peer goes away.
func (h *Hub) monitor(e *Entry, pos int) {
	if err := e.Conn.Write(context.Background(), protocol.QueuePosition(pos)); err != nil {
		h.log.Warn().Err(err).Str("remote", e.Addr).Msg("failed to send queue position")
	}

	for {
		select {
		case <-e.stop:
			return
		default:
		}

		start := time.Now()
		if e.Conn.PeerClosed(h.probeInterval) {
			_ = h.dispatch(func() { h.dropWaiting(e) })
			return
		}

		wait := h.probeInterval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-e.stop:
			return
		case <-time.After(wait):
		}
	}
}

// loop goroutine
func (h *Hub) dropWaiting(e *Entry) {
	if !h.queue.Remove(e) {
		return
	}
	_ = e.Conn.Close()
	h.log.Info().Str("remote", e.Addr).Msg("queued client disconnected")
	h.notifyQueue()
}

// loop goroutine
func (h *Hub) notifyQueue() {
	waiting := h.queue.Addrs()
	h.notes.push(func(hd Handler) { hd.OnQueueChanged(waiting) })
}

// shutdown closes every held connection and waits for readers and
// monitors to exit, still serving events they dispatch meanwhile.
//
// loop goroutine
func (h *Hub) shutdown() {
	h.stopped = true
	h.teardown()
	for _, e := range h.queue.Drain() {
		e.stopMonitor()
		_ = e.Conn.Close()
	}

	exited := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(exited)
	}()
	for {
		select {
		case f := <-h.events:
			h.handle(f)
		case <-exited:
			for {
				select {
				case f := <-h.events:
					h.handle(f)
				default:
					return
				}
			}
		}
	}
}

// notifier delivers handler calls in order on its own goroutine. Its
// backlog is unbounded so the hub loop never blocks on a slow handler.
type notifier struct {
	mu      sync.Mutex
	pending []func(Handler)
	closed  bool
	wake    chan struct{}
}

func newNotifier() *notifier {
	return &notifier{wake: make(chan struct{}, 1)}
}

func (n *notifier) push(f func(Handler)) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.pending = append(n.pending, f)
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// close stops accepting calls; run returns after the backlog is delivered.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) run(hd Handler, log zerolog.Logger) {
	for {
		n.mu.Lock()
		batch, closed := n.pending, n.closed
		n.pending = nil
		n.mu.Unlock()

		for _, f := range batch {
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						log.Error().Interface("panic", rec).Msg("handler recovered from panic")
					}
				}()
				f(hd)
			}()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-n.wake
	}
}
