// Package server runs the chat server: the text and image listeners, the
// optional WebSocket listener and the hub that admits their connections.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/duochat/internal/chat"
	"github.com/omochice/duochat/internal/transport/tcp"
	wstransport "github.com/omochice/duochat/internal/transport/ws"
)

// Options configures a Server.
type Options struct {
	TextAddr  string
	ImageAddr string
	// WSAddr enables the WebSocket listener when non-empty.
	WSAddr string

	PromoteInterval time.Duration
	ProbeInterval   time.Duration

	Handler chat.Handler
	Logger  zerolog.Logger
}

// Server owns the listeners and the hub.
type Server struct {
	hub   *chat.Hub
	text  *tcp.Server
	image *tcp.Server
	ws    *wstransport.Server
	log   zerolog.Logger

	cancel  context.CancelFunc
	hubDone chan error
}

// New wires the listeners to a new hub. Nothing is bound until Start.
func New(opts Options) *Server {
	logger := opts.Logger
	hub := chat.NewHub(chat.Options{
		Handler:         opts.Handler,
		Logger:          &logger,
		PromoteInterval: opts.PromoteInterval,
		ProbeInterval:   opts.ProbeInterval,
	})

	s := &Server{
		hub: hub,
		log: logger.With().Str("component", "server").Logger(),
	}
	s.text = tcp.New("text", opts.TextAddr, s.admit, logger)
	s.image = tcp.New("image", opts.ImageAddr, s.attachImage, logger)
	if opts.WSAddr != "" {
		s.ws = wstransport.New(opts.WSAddr, map[string]wstransport.AcceptFunc{
			wstransport.PathText:  s.admit,
			wstransport.PathImage: s.attachImage,
		}, logger)
	}
	return s
}

func (s *Server) admit(conn chat.Conn) {
	if err := s.hub.Admit(conn); err != nil {
		s.log.Debug().Err(err).Str("remote", conn.RemoteAddr()).Msg("admit rejected")
	}
}

func (s *Server) attachImage(conn chat.Conn) {
	if err := s.hub.AttachImage(conn); err != nil {
		s.log.Debug().Err(err).Str("remote", conn.RemoteAddr()).Msg("image attach rejected")
	}
}

// Start binds every listener and starts the hub. If any bind fails the
// listeners already bound are closed and the error is returned.
func (s *Server) Start() error {
	started := make([]interface{ Stop() }, 0, 3)
	rollback := func(err error) error {
		for _, l := range started {
			l.Stop()
		}
		return err
	}

	if err := s.text.Start(); err != nil {
		return rollback(err)
	}
	started = append(started, s.text)
	if err := s.image.Start(); err != nil {
		return rollback(err)
	}
	started = append(started, s.image)
	if s.ws != nil {
		if err := s.ws.Start(); err != nil {
			return rollback(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.hubDone = make(chan error, 1)
	go func() {
		s.hubDone <- s.hub.Run(ctx)
	}()
	<-s.hub.Ready()
	return nil
}

// Stop closes the listeners, then the session and every waiting
// connection.
func (s *Server) Stop() {
	s.text.Stop()
	s.image.Stop()
	if s.ws != nil {
		s.ws.Stop()
	}
	if s.cancel == nil {
		return
	}
	s.cancel()
	if err := <-s.hubDone; err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error().Err(err).Msg("hub stopped with error")
	}
	s.cancel = nil
}

// Hub exposes the hub for sending and status queries.
func (s *Server) Hub() *chat.Hub {
	return s.hub
}

// TextAddr returns the bound text listener address.
func (s *Server) TextAddr() string { return s.text.Addr() }

// ImageAddr returns the bound image listener address.
func (s *Server) ImageAddr() string { return s.image.Addr() }

// WSAddr returns the bound WebSocket listener address, or "".
func (s *Server) WSAddr() string {
	if s.ws == nil {
		return ""
	}
	return s.ws.Addr()
}
