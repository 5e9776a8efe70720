// Package ws dials the two channels of a session over WebSocket. Both
// channels share one listener and are told apart by request path.
package ws

import (
	"context"
	"strings"

	"github.com/omochice/duochat/internal/chat"
	"github.com/omochice/duochat/internal/client"
	"github.com/omochice/duochat/internal/transport/ws"
)

// Dialer connects to <base>/text and <base>/image.
type Dialer struct {
	base string
}

// New creates a Dialer for a base URL such as ws://host:10002.
func New(baseURL string) *Dialer {
	return &Dialer{base: strings.TrimSuffix(baseURL, "/")}
}

// DialText connects the text channel.
func (d *Dialer) DialText(ctx context.Context) (chat.Conn, error) {
	return d.dial(ctx, ws.PathText)
}

// DialImage connects the image channel.
func (d *Dialer) DialImage(ctx context.Context) (chat.Conn, error) {
	return d.dial(ctx, ws.PathImage)
}

func (d *Dialer) dial(ctx context.Context, path string) (chat.Conn, error) {
	conn, err := ws.Dial(ctx, d.base+path)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

var _ client.Dialer = (*Dialer)(nil)
