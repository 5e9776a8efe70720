// Package tcp dials the two channels of a session over plain TCP.
package tcp

import (
	"context"

	"github.com/omochice/duochat/internal/chat"
	"github.com/omochice/duochat/internal/client"
	"github.com/omochice/duochat/internal/transport/tcp"
)

// Dialer connects to the text and image ports of a server.
type Dialer struct {
	textAddr  string
	imageAddr string
}

// New creates a Dialer for the given host:port pairs.
func New(textAddr, imageAddr string) *Dialer {
	return &Dialer{textAddr: textAddr, imageAddr: imageAddr}
}

// DialText connects the text channel.
func (d *Dialer) DialText(ctx context.Context) (chat.Conn, error) {
	return dial(ctx, d.textAddr)
}

// DialImage connects the image channel.
func (d *Dialer) DialImage(ctx context.Context) (chat.Conn, error) {
	return dial(ctx, d.imageAddr)
}

func dial(ctx context.Context, addr string) (chat.Conn, error) {
	conn, err := tcp.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

var _ client.Dialer = (*Dialer)(nil)
