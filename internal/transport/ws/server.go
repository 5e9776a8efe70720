package ws

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/omochice/duochat/internal/chat"
)

// Request paths of the two channels on the WebSocket port.
const (
	PathText  = "/text"
	PathImage = "/image"
)

const (
	handshakeTimeout = 5 * time.Second
	acceptBackoff    = 50 * time.Millisecond
)

// AcceptFunc receives every upgraded connection for one path.
type AcceptFunc func(conn chat.Conn)

// Server upgrades TCP connections to WebSocket and routes them by request
// path.
type Server struct {
	address  string
	routes   map[string]AcceptFunc
	log      zerolog.Logger
	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a WebSocket server. routes maps a request path to the
// function receiving connections upgraded on it.
func New(address string, routes map[string]AcceptFunc, logger zerolog.Logger) *Server {
	return &Server{
		address: address,
		routes:  routes,
		log:     logger.With().Str("listener", "ws").Logger(),
		quit:    make(chan struct{}),
	}
}

// Start binds the address and starts accepting in the background.
// A bind failure is returned as *chat.ConnectError.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return &chat.ConnectError{Op: "listen", Addr: s.address, Err: err}
	}
	s.listener = listener

	s.log.Info().Str("addr", listener.Addr().String()).Msg("WebSocket server started")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Warn().Err(err).Msg("failed to accept WebSocket connection")
				time.Sleep(acceptBackoff)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	var route AcceptFunc
	var path string
	u := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			path = string(uri)
			if i := strings.IndexByte(path, '?'); i >= 0 {
				path = path[:i]
			}
			fn, ok := s.routes[path]
			if !ok {
				return ws.RejectConnectionError(ws.RejectionStatus(http.StatusNotFound))
			}
			route = fn
			return nil
		},
	}

	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := u.Upgrade(conn); err != nil {
		s.log.Warn().
			Err(&chat.ConnectError{Op: "upgrade", Addr: conn.RemoteAddr().String(), Err: err}).
			Msg("WebSocket handshake failed")
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Str("path", path).Msg("upgraded")
	route(NewServerConn(conn))
}

// Stop closes the listener and waits for pending handshakes and
// AcceptFunc calls to return.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
