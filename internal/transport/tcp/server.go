package tcp

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/duochat/internal/chat"
)

const acceptBackoff = 50 * time.Millisecond

// AcceptFunc receives every accepted connection on its own goroutine.
type AcceptFunc func(conn chat.Conn)

// Server accepts TCP connections and hands each to an AcceptFunc.
type Server struct {
	address  string
	name     string
	accept   AcceptFunc
	log      zerolog.Logger
	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a TCP server. name labels the listener in logs.
func New(name, address string, accept AcceptFunc, logger zerolog.Logger) *Server {
	return &Server{
		address: address,
		name:    name,
		accept:  accept,
		log:     logger.With().Str("listener", name).Logger(),
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

	s.log.Info().Str("addr", listener.Addr().String()).Msg("TCP server started")

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
				s.log.Warn().Err(err).Msg("failed to accept TCP connection")
				time.Sleep(acceptBackoff)
				continue
			}
		}

		s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("accepted")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.accept(NewConn(conn))
		}()
	}
}

// Stop closes the listener and waits for the accept loop and pending
// AcceptFunc calls to return. Accepted connections are not closed.
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
