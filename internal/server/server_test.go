package server_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/duochat/internal/chat"
	"github.com/omochice/duochat/internal/server"
	wstransport "github.com/omochice/duochat/internal/transport/ws"
	"github.com/omochice/duochat/pkg/protocol"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type events struct {
	mu       sync.Mutex
	opened   []string
	closed   []string
	payloads []chat.Payload
}

func (e *events) OnSessionOpened(addr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = append(e.opened, addr)
}

func (e *events) OnPayload(p chat.Payload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads = append(e.payloads, p)
}

func (e *events) OnSessionClosed(addr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = append(e.closed, addr)
}

func (e *events) OnQueueChanged([]string) {}

func (e *events) payloadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.payloads)
}

func (e *events) closedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.closed)
}

func startServer(t *testing.T, withWS bool) (*server.Server, *events) {
	t.Helper()
	ev := &events{}
	opts := server.Options{
		TextAddr:        "127.0.0.1:0",
		ImageAddr:       "127.0.0.1:0",
		PromoteInterval: 20 * time.Millisecond,
		ProbeInterval:   50 * time.Millisecond,
		Handler:         ev,
		Logger:          zerolog.Nop(),
	}
	if withWS {
		opts.WSAddr = "127.0.0.1:0"
	}
	srv := server.New(opts)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv, ev
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn net.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	data, err := protocol.ReadFrame(conn)
	require.NoError(t, err)
	return string(data)
}

// Scenario A: a lone client is welcomed and talks on both channels.
func TestServer_SingleClientExchange(t *testing.T) {
	srv, ev := startServer(t, false)

	text := dial(t, srv.TextAddr())
	assert.Equal(t, protocol.WelcomeText, readFrame(t, text))

	image := dial(t, srv.ImageAddr())
	require.Eventually(t, func() bool {
		st, err := srv.Hub().Status()
		return err == nil && st.ImageAttached
	}, waitFor, tick)

	require.NoError(t, protocol.WriteFrame(text, protocol.FormatLine(protocol.RoleClient, "10.0.0.2", "hello")))
	require.NoError(t, protocol.WriteFrame(image, []byte("\x89PNG\r\n\x1a\n")))
	require.Eventually(t, func() bool { return ev.payloadCount() == 2 }, waitFor, tick)

	ev.mu.Lock()
	byChannel := map[protocol.Channel]string{}
	for _, p := range ev.payloads {
		byChannel[p.Channel] = string(p.Data)
	}
	ev.mu.Unlock()
	assert.Equal(t, "Client(10.0.0.2):hello\n", byChannel[protocol.ChannelText])
	assert.Equal(t, "\x89PNG\r\n\x1a\n", byChannel[protocol.ChannelImage])

	reply := protocol.FormatLine(protocol.RoleServer, "10.0.0.1", "hi")
	require.NoError(t, srv.Hub().Send(context.Background(), protocol.ChannelText, reply))
	assert.Equal(t, string(reply), readFrame(t, text))

	require.NoError(t, srv.Hub().Send(context.Background(), protocol.ChannelImage, []byte{1, 2, 3}))
	assert.Equal(t, "\x01\x02\x03", readFrame(t, image))
}

// Scenario B: a second client waits and is promoted when the first leaves.
func TestServer_QueueAndPromotion(t *testing.T) {
	srv, ev := startServer(t, false)

	first := dial(t, srv.TextAddr())
	assert.Equal(t, protocol.WelcomeText, readFrame(t, first))

	second := dial(t, srv.TextAddr())
	pos, ok := protocol.ParseQueuePosition([]byte(readFrame(t, second)))
	require.True(t, ok)
	assert.Equal(t, 1, pos)

	third := dial(t, srv.TextAddr())
	pos, ok = protocol.ParseQueuePosition([]byte(readFrame(t, third)))
	require.True(t, ok)
	assert.Equal(t, 2, pos)

	require.NoError(t, first.Close())
	assert.Equal(t, protocol.WelcomeText, readFrame(t, second))
	require.Eventually(t, func() bool { return ev.closedCount() == 1 }, waitFor, tick)

	st, err := srv.Hub().Status()
	require.NoError(t, err)
	assert.Equal(t, second.LocalAddr().String(), st.Addr)
	assert.Equal(t, []string{third.LocalAddr().String()}, st.Waiting)
}

func TestServer_QueuedClientLeaves(t *testing.T) {
	srv, _ := startServer(t, false)

	first := dial(t, srv.TextAddr())
	readFrame(t, first)
	second := dial(t, srv.TextAddr())
	readFrame(t, second)
	third := dial(t, srv.TextAddr())
	readFrame(t, third)

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool {
		st, err := srv.Hub().Status()
		return err == nil && len(st.Waiting) == 1
	}, waitFor, tick)

	require.NoError(t, first.Close())
	assert.Equal(t, protocol.WelcomeText, readFrame(t, third))
}

// Scenario D: a truncated frame ends the session and the next client
// takes over.
func TestServer_TruncatedFrameEndsSession(t *testing.T) {
	srv, ev := startServer(t, false)

	first := dial(t, srv.TextAddr())
	readFrame(t, first)
	second := dial(t, srv.TextAddr())
	readFrame(t, second)

	_, err := first.Write([]byte{0x00, 0x00})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	assert.Equal(t, protocol.WelcomeText, readFrame(t, second))
	require.Eventually(t, func() bool { return ev.closedCount() == 1 }, waitFor, tick)
	assert.Zero(t, ev.payloadCount())
}

func TestServer_ExtraImageConnectionClosed(t *testing.T) {
	srv, _ := startServer(t, false)

	text := dial(t, srv.TextAddr())
	readFrame(t, text)

	image := dial(t, srv.ImageAddr())
	require.Eventually(t, func() bool {
		st, err := srv.Hub().Status()
		return err == nil && st.ImageAttached
	}, waitFor, tick)

	extra := dial(t, srv.ImageAddr())
	require.NoError(t, extra.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := protocol.ReadFrame(extra)
	assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || isReset(err), "got %v", err)

	// The paired image channel still works.
	require.NoError(t, srv.Hub().Send(context.Background(), protocol.ChannelImage, []byte("img")))
	assert.Equal(t, "img", readFrame(t, image))
}

func isReset(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func TestServer_ImageLossKeepsSession(t *testing.T) {
	srv, _ := startServer(t, false)

	text := dial(t, srv.TextAddr())
	readFrame(t, text)
	image := dial(t, srv.ImageAddr())
	require.Eventually(t, func() bool {
		st, err := srv.Hub().Status()
		return err == nil && st.ImageAttached
	}, waitFor, tick)

	require.NoError(t, image.Close())
	require.Eventually(t, func() bool {
		st, err := srv.Hub().Status()
		return err == nil && st.Active && !st.ImageAttached
	}, waitFor, tick)

	require.NoError(t, srv.Hub().Send(context.Background(), protocol.ChannelText, []byte("still here")))
	assert.Equal(t, "still here", readFrame(t, text))
}

func TestServer_WebSocket(t *testing.T) {
	srv, ev := startServer(t, true)
	require.NotEmpty(t, srv.WSAddr())

	base := "ws://" + srv.WSAddr()
	text, err := wstransport.Dial(context.Background(), base+wstransport.PathText)
	require.NoError(t, err)
	defer text.Close()

	welcome, err := text.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.WelcomeText, string(welcome))

	image, err := wstransport.Dial(context.Background(), base+wstransport.PathImage)
	require.NoError(t, err)
	defer image.Close()

	require.NoError(t, image.Write(context.Background(), []byte("GIF89a")))
	require.Eventually(t, func() bool { return ev.payloadCount() == 1 }, waitFor, tick)

	ev.mu.Lock()
	p := ev.payloads[0]
	ev.mu.Unlock()
	assert.Equal(t, protocol.ChannelImage, p.Channel)
	assert.Equal(t, "GIF89a", string(p.Data))

	// A TCP client queues behind the WebSocket session.
	tcpClient := dial(t, srv.TextAddr())
	pos, ok := protocol.ParseQueuePosition([]byte(readFrame(t, tcpClient)))
	require.True(t, ok)
	assert.Equal(t, 1, pos)
}

func TestServer_StartBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	srv := server.New(server.Options{
		TextAddr:  "127.0.0.1:0",
		ImageAddr: taken.Addr().String(),
		Logger:    zerolog.Nop(),
	})
	err = srv.Start()

	var connErr *chat.ConnectError
	require.True(t, errors.As(err, &connErr), "got %v", err)
	assert.Equal(t, "listen", connErr.Op)
	srv.Stop()
}

func TestServer_StopClosesClients(t *testing.T) {
	srv, _ := startServer(t, false)

	active := dial(t, srv.TextAddr())
	readFrame(t, active)
	waiting := dial(t, srv.TextAddr())
	readFrame(t, waiting)

	srv.Stop()

	for _, conn := range []net.Conn{active, waiting} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
		_, err := protocol.ReadFrame(conn)
		assert.Error(t, err)
	}
}
