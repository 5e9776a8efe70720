// Package client is the client endpoint: it dials the text channel, opens
// the image channel once welcomed and exchanges frames on both.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/duochat/internal/chat"
	"github.com/omochice/duochat/internal/transport"
	"github.com/omochice/duochat/pkg/protocol"
)

// Dialer opens the connections of one session. Both TCP and WebSocket
// implementations satisfy this interface.
type Dialer interface {
	DialText(ctx context.Context) (chat.Conn, error)
	DialImage(ctx context.Context) (chat.Conn, error)
}

// Handler receives client events. OnPayload may be called from the text
// and the image reader concurrently.
type Handler interface {
	OnPayload(p chat.Payload)
	OnQueuePosition(position int)
	OnSessionClosed()
	OnImageChannel(err error)
}

// Options configures a Client.
type Options struct {
	Dialer  Dialer
	Handler Handler
	Logger  zerolog.Logger

	// LocalIP stamps outgoing text lines. Defaults to protocol.LocalIP().
	LocalIP string

	// ImageTimeout bounds the image channel dial. Defaults to 5s.
	ImageTimeout time.Duration
}

// Client is one chat participant.
type Client struct {
	dialer       Dialer
	handler      Handler
	log          zerolog.Logger
	localIP      string
	imageTimeout time.Duration

	mu       sync.Mutex
	text     chat.Conn
	image    chat.Conn
	welcomed bool
	closing  bool

	wg sync.WaitGroup
}

// New creates a client. Call Connect to join.
func New(opts Options) *Client {
	c := &Client{
		dialer:       opts.Dialer,
		handler:      opts.Handler,
		log:          opts.Logger.With().Str("component", "client").Logger(),
		localIP:      opts.LocalIP,
		imageTimeout: opts.ImageTimeout,
	}
	if c.localIP == "" {
		c.localIP = protocol.LocalIP()
	}
	if c.imageTimeout <= 0 {
		c.imageTimeout = 5 * time.Second
	}
	return c
}

// Connect dials the text channel and starts reading from it. The image
// channel is dialed when the welcome frame arrives. Failures are returned
// as *chat.ConnectError.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.text != nil {
		c.mu.Unlock()
		return errors.New("client: already connected")
	}
	c.mu.Unlock()

	conn, err := c.dialer.DialText(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.text = conn
	c.closing = false
	c.mu.Unlock()

	c.log.Info().Str("remote", conn.RemoteAddr()).Msg("connected")
	c.wg.Add(1)
	go c.readText(conn)
	return nil
}

func (c *Client) readText(conn chat.Conn) {
	defer c.wg.Done()
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			c.textEnded(conn, err)
			return
		}

		c.mu.Lock()
		welcomed := c.welcomed
		if !welcomed && protocol.IsWelcome(data) {
			c.welcomed = true
		}
		c.mu.Unlock()

		if !welcomed {
			if pos, ok := protocol.ParseQueuePosition(data); ok {
				c.log.Info().Int("position", pos).Msg("queued")
				c.handler.OnQueuePosition(pos)
				continue
			}
			if protocol.IsWelcome(data) {
				c.wg.Add(1)
				go c.openImage()
			}
		}
		c.handler.OnPayload(chat.Payload{
			Data:    data,
			Channel: protocol.ChannelText,
			Time:    time.Now(),
			Peer:    conn.RemoteAddr(),
		})
	}
}

func (c *Client) textEnded(conn chat.Conn, err error) {
	if err != nil && !transport.IsClosed(err) {
		c.log.Warn().Err(err).Msg("text channel ended")
	}
	_ = conn.Close()

	c.mu.Lock()
	image := c.image
	if c.text == conn {
		c.text = nil
		c.image = nil
		c.welcomed = false
	}
	c.mu.Unlock()
	if image != nil {
		_ = image.Close()
	}

	c.log.Info().Msg("session closed")
	c.handler.OnSessionClosed()
}

func (c *Client) openImage() {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.imageTimeout)
	defer cancel()

	conn, err := c.dialer.DialImage(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("image channel unavailable")
		c.handler.OnImageChannel(err)
		return
	}

	c.mu.Lock()
	if c.text == nil || c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		c.handler.OnImageChannel(chat.ErrNoSession)
		return
	}
	c.image = conn
	c.mu.Unlock()

	c.log.Info().Str("remote", conn.RemoteAddr()).Msg("image channel open")
	c.handler.OnImageChannel(nil)

	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			c.log.Debug().Err(err).Msg("image channel ended")
			_ = conn.Close()
			c.mu.Lock()
			if c.image == conn {
				c.image = nil
			}
			c.mu.Unlock()
			return
		}
		c.handler.OnPayload(chat.Payload{
			Data:    data,
			Channel: protocol.ChannelImage,
			Time:    time.Now(),
			Peer:    conn.RemoteAddr(),
		})
	}
}

func (c *Client) conn(ch protocol.Channel) chat.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ch {
	case protocol.ChannelText:
		return c.text
	case protocol.ChannelImage:
		return c.image
	}
	return nil
}

// Send writes one frame on the given channel. A failed write closes that
// channel and returns a *chat.SendError.
func (c *Client) Send(ctx context.Context, ch protocol.Channel, data []byte) error {
	conn := c.conn(ch)
	if conn == nil {
		return chat.ErrNoChannel
	}
	if err := conn.Write(ctx, data); err != nil {
		c.log.Warn().Err(err).Str("channel", ch.String()).Msg("send failed, closing channel")
		_ = conn.Close()
		return &chat.SendError{Channel: ch, Err: err}
	}
	return nil
}

// SendText sends body as a "Client(<ip>):<body>" line and returns the line.
func (c *Client) SendText(ctx context.Context, body string) ([]byte, error) {
	line := protocol.FormatLine(protocol.RoleClient, c.localIP, body)
	return line, c.Send(ctx, protocol.ChannelText, line)
}

// CloseChannel closes one channel. Closing the text channel ends the
// session.
func (c *Client) CloseChannel(ch protocol.Channel) error {
	conn := c.conn(ch)
	if conn == nil {
		return chat.ErrNoChannel
	}
	return conn.Close()
}

// Welcomed reports whether the server made this client the active session.
func (c *Client) Welcomed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.welcomed
}

// HasImage reports whether the image channel is open.
func (c *Client) HasImage() bool {
	return c.conn(protocol.ChannelImage) != nil
}

// Close closes both channels and waits for the readers to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	text, image := c.text, c.image
	c.mu.Unlock()

	if image != nil {
		_ = image.Close()
	}
	var err error
	if text != nil {
		err = text.Close()
	}
	c.wg.Wait()
	return err
}
