package chat

import (
	"time"

	"github.com/omochice/duochat/pkg/protocol"
)

// Session is the one active client. It owns the text connection and at
// most one image connection. Only the Hub loop goroutine touches it.
type Session struct {
	ID     uint64
	Addr   string
	Opened time.Time

	text          Conn
	image         Conn
	awaitingImage bool
}

func (s *Session) conn(ch protocol.Channel) Conn {
	switch ch {
	case protocol.ChannelText:
		return s.text
	case protocol.ChannelImage:
		return s.image
	default:
		return nil
	}
}

func (s *Session) close() {
	_ = s.text.Close()
	if s.image != nil {
		_ = s.image.Close()
	}
}

// Status is a snapshot of the hub state.
type Status struct {
	Active        bool
	SessionID     uint64
	Addr          string
	Opened        time.Time
	ImageAttached bool
	Waiting       []string
}

// Payload is one decoded frame received from the active session.
type Payload struct {
	Data    []byte
	Channel protocol.Channel
	Time    time.Time
	Peer    string
}

// Handler receives hub events. Calls are made one at a time, in order,
// from a dedicated goroutine, so a Handler may call back into the Hub.
type Handler interface {
	OnSessionOpened(addr string)
	OnPayload(p Payload)
	OnSessionClosed(addr string)
	OnQueueChanged(waiting []string)
}

// NopHandler ignores every event.
type NopHandler struct{}

func (NopHandler) OnSessionOpened(string)  {}
func (NopHandler) OnPayload(Payload)       {}
func (NopHandler) OnSessionClosed(string)  {}
func (NopHandler) OnQueueChanged([]string) {}
