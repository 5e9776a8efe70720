package chat

import (
	"errors"
	"fmt"

	"github.com/omochice/duochat/pkg/protocol"
)

// Sentinel errors returned by the Hub.
var (
	ErrNoSession     = errors.New("no active session")
	ErrNoChannel     = errors.New("channel not connected")
	ErrHubStopped    = errors.New("hub stopped")
	ErrHubNotRunning = errors.New("hub not running")
)

// ConnectError reports a failed listen, dial, accept or upgrade.
type ConnectError struct {
	Op   string // "listen", "dial", "accept", "upgrade"
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a failed write on one channel. The channel is closed
// after a SendError and must not be reused.
type SendError struct {
	Channel protocol.Channel
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send on %s channel: %v", e.Channel, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
