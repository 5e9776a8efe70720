package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/omochice/duochat/internal/chat"
	"github.com/omochice/duochat/internal/chatlog"
	"github.com/omochice/duochat/internal/config"
	"github.com/omochice/duochat/internal/console"
	"github.com/omochice/duochat/internal/logging"
	"github.com/omochice/duochat/internal/outbox"
	"github.com/omochice/duochat/internal/server"
	"github.com/omochice/duochat/pkg/protocol"
)

var exampleUsage = strings.TrimSpace(`
  duochat-server
  duochat-server --text-port 12000 --image-port 12001 --ws-port 12002
  duochat-server --config $HOME/.duochat/config.toml --archive chat.msgpack
`)

const commandHelp = "commands: /image <path>  /kick  /queue  /quit"

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := config.DefaultServer()
	var cfgPath string

	root := &cobra.Command{
		Use:          "duochat-server",
		Short:        "Serve one chat session at a time over a text and an image channel",
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = config.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && config.FileExists(cfgFile) {
				fc, err := config.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := config.ApplyServerFile(&cfg, fc.Server, changed); err != nil {
					return err
				}
			}
			if err := config.ApplyServerEnv(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default $HOME/.duochat/config.toml)")
	f.StringVar(&cfg.Host, "host", cfg.Host, "interface to listen on (empty means all)")
	f.IntVar(&cfg.TextPort, "text-port", cfg.TextPort, "text channel port")
	f.IntVar(&cfg.ImagePort, "image-port", cfg.ImagePort, "image channel port")
	f.IntVar(&cfg.WSPort, "ws-port", cfg.WSPort, "WebSocket port serving /text and /image (0 disables)")
	f.DurationVar(&cfg.PromoteInterval, "promote-interval", cfg.PromoteInterval, "how often a waiting client is considered for promotion")
	f.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "how often waiting connections are checked for disconnect")
	f.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for chat_log_*.txt files")
	f.StringVar(&cfg.Archive, "archive", cfg.Archive, "append every payload to this archive (msgpack, or protobuf for a .pb file)")
	f.StringVar(&cfg.Outbox, "outbox", cfg.Outbox, "send image files dropped into this directory")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Server) error {
	log, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	textLog, err := chatlog.OpenTextLog(cfg.LogDir, time.Now())
	if err != nil {
		return err
	}
	defer textLog.Close()

	var archive *chatlog.Archive
	if cfg.Archive != "" {
		archive, err = chatlog.OpenArchive(cfg.Archive)
		if err != nil {
			return err
		}
		defer archive.Close()
	}

	presenter := console.NewPresenter(os.Stdout, textLog, console.DefaultCoalesceWindow)
	defer presenter.Flush()
	journal := server.NewJournal(presenter, archive, log)

	srv := server.New(server.Options{
		TextAddr:        cfg.TextAddr(),
		ImageAddr:       cfg.ImageAddr(),
		WSAddr:          cfg.WSAddr(),
		PromoteInterval: cfg.PromoteInterval,
		ProbeInterval:   cfg.ProbeInterval,
		Handler:         journal,
		Logger:          log,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	presenter.System(time.Now(), "listening: text %s, image %s", srv.TextAddr(), srv.ImageAddr())
	if addr := srv.WSAddr(); addr != "" {
		presenter.System(time.Now(), "listening: websocket %s", addr)
	}
	presenter.System(time.Now(), "chat log: %s", textLog.Path())
	presenter.System(time.Now(), commandHelp)

	s := &shell{
		hub:       srv.Hub(),
		journal:   journal,
		presenter: presenter,
		localIP:   protocol.LocalIP(),
		log:       log,
	}

	if cfg.Outbox != "" {
		w := outbox.New(cfg.Outbox, func(_ string, data []byte) error {
			return s.send(ctx, protocol.ChannelImage, data)
		}, outbox.DefaultSettle, log)
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Msg("outbox stopped")
			}
		}()
	}

	lines := console.NewInput(os.Stdin, os.Stdout, "> ").Lines(ctx)
	for {
		select {
		case <-ctx.Done():
			presenter.System(time.Now(), "shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep serving until signalled
				lines = nil
				continue
			}
			if s.handle(ctx, line) {
				presenter.System(time.Now(), "shutting down")
				return nil
			}
		}
	}
}

// shell runs the operator's console commands.
type shell struct {
	hub       *chat.Hub
	journal   *server.Journal
	presenter *console.Presenter
	localIP   string
	log       zerolog.Logger
}

func (s *shell) send(ctx context.Context, ch protocol.Channel, data []byte) error {
	if err := s.hub.Send(ctx, ch, data); err != nil {
		return err
	}
	s.journal.Sent(ch, data)
	return nil
}

// handle runs one input line and reports whether the server should exit.
func (s *shell) handle(ctx context.Context, line string) bool {
	now := time.Now()
	name, arg, isCmd := console.Command(line)
	if !isCmd {
		s.report(s.send(ctx, protocol.ChannelText, protocol.FormatLine(protocol.RoleServer, s.localIP, line)))
		return false
	}

	switch name {
	case "image":
		data, err := outbox.ReadImage(arg)
		if err != nil {
			s.presenter.System(now, "%v", err)
			return false
		}
		s.report(s.send(ctx, protocol.ChannelImage, data))
	case "kick":
		s.report(s.hub.CloseSession())
	case "queue":
		st, err := s.hub.Status()
		if err != nil {
			s.report(err)
			return false
		}
		if st.Active {
			s.presenter.System(now, "session %d: %s (image attached: %t)", st.SessionID, st.Addr, st.ImageAttached)
		} else {
			s.presenter.System(now, "no active session")
		}
		s.presenter.System(now, "waiting: %d %s", len(st.Waiting), strings.Join(st.Waiting, ", "))
	case "quit", "exit":
		return true
	default:
		s.presenter.System(now, commandHelp)
	}
	return false
}

func (s *shell) report(err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, chat.ErrNoSession):
		s.presenter.System(time.Now(), "no client connected")
	case errors.Is(err, chat.ErrNoChannel):
		s.presenter.System(time.Now(), "image channel not connected")
	default:
		s.log.Warn().Err(err).Msg("command failed")
		s.presenter.System(time.Now(), "error: %v", err)
	}
}
