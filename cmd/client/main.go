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
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/omochice/duochat/internal/chat"
	"github.com/omochice/duochat/internal/client"
	clienttcp "github.com/omochice/duochat/internal/client/tcp"
	clientws "github.com/omochice/duochat/internal/client/ws"
	"github.com/omochice/duochat/internal/config"
	"github.com/omochice/duochat/internal/console"
	"github.com/omochice/duochat/internal/logging"
	"github.com/omochice/duochat/internal/outbox"
	"github.com/omochice/duochat/internal/transport"
	"github.com/omochice/duochat/pkg/protocol"
)

var exampleUsage = strings.TrimSpace(`
  duochat-client --server 192.168.1.10
  duochat-client --transport ws --ws-url ws://chat.example.com:10002
`)

const commandHelp = "commands: /image <path>  /quit"

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := config.DefaultClient()
	var cfgPath string

	root := &cobra.Command{
		Use:          "duochat-client",
		Short:        "Join a duochat server, waiting in line if someone else is chatting",
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
				if err := config.ApplyClientFile(&cfg, fc.Client, changed); err != nil {
					return err
				}
			}
			if err := config.ApplyClientEnv(&cfg, changed); err != nil {
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
	f.StringVar(&cfg.Server, "server", cfg.Server, "server host")
	f.IntVar(&cfg.TextPort, "text-port", cfg.TextPort, "server text channel port")
	f.IntVar(&cfg.ImagePort, "image-port", cfg.ImagePort, "server image channel port")
	f.StringVar(&cfg.Transport, "transport", cfg.Transport, "tcp or ws")
	f.StringVar(&cfg.WSURL, "ws-url", cfg.WSURL, "WebSocket base URL, e.g. ws://host:10002")
	f.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "dial timeout")
	f.StringVar(&cfg.Outbox, "outbox", cfg.Outbox, "send image files dropped into this directory")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// view prints client events.
type view struct {
	presenter *console.Presenter
	ended     chan struct{}
	endOnce   sync.Once
}

func (v *view) OnPayload(p chat.Payload) {
	switch p.Channel {
	case protocol.ChannelText:
		v.presenter.Text(p.Time, p.Data)
	case protocol.ChannelImage:
		v.presenter.Image(p.Time, string(protocol.RoleServer)+"("+transport.Host(p.Peer)+")", p.Data)
	}
}

func (v *view) OnQueuePosition(position int) {
	v.presenter.System(time.Now(), "server is busy, you are number %d in line", position)
}

func (v *view) OnSessionClosed() {
	v.presenter.System(time.Now(), "disconnected from server")
	v.endOnce.Do(func() { close(v.ended) })
}

func (v *view) OnImageChannel(err error) {
	if err != nil {
		v.presenter.System(time.Now(), "image channel unavailable: %v", err)
		return
	}
	v.presenter.System(time.Now(), "image channel connected")
}

func run(cfg config.Client) error {
	log, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	var dialer client.Dialer
	switch cfg.Transport {
	case config.TransportWS:
		dialer = clientws.New(cfg.WSURL)
	default:
		dialer = clienttcp.New(cfg.TextAddr(), cfg.ImageAddr())
	}

	presenter := console.NewPresenter(os.Stdout, nil, console.DefaultCoalesceWindow)
	defer presenter.Flush()
	v := &view{presenter: presenter, ended: make(chan struct{})}

	c := client.New(client.Options{
		Dialer:       dialer,
		Handler:      v,
		Logger:       log,
		ImageTimeout: cfg.ConnectTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	err = c.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	presenter.System(time.Now(), commandHelp)

	if cfg.Outbox != "" {
		w := outbox.New(cfg.Outbox, func(_ string, data []byte) error {
			return sendImage(ctx, c, presenter, data)
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
			return nil
		case <-v.ended:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handle(ctx, c, presenter, line); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the client should exit.
func handle(ctx context.Context, c *client.Client, p *console.Presenter, line string) bool {
	name, arg, isCmd := console.Command(line)
	if !isCmd {
		if !c.Welcomed() {
			p.System(time.Now(), "still waiting in line")
			return false
		}
		sent, err := c.SendText(ctx, line)
		if err != nil {
			report(p, err)
			return false
		}
		p.Outgoing(time.Now(), string(sent))
		return false
	}

	switch name {
	case "image":
		data, err := outbox.ReadImage(arg)
		if err != nil {
			p.System(time.Now(), "%v", err)
			return false
		}
		report(p, sendImage(ctx, c, p, data))
	case "quit", "exit":
		return true
	default:
		p.System(time.Now(), commandHelp)
	}
	return false
}

func sendImage(ctx context.Context, c *client.Client, p *console.Presenter, data []byte) error {
	if err := c.Send(ctx, protocol.ChannelImage, data); err != nil {
		return err
	}
	p.Outgoing(time.Now(), "sent "+console.Describe(data))
	return nil
}

func report(p *console.Presenter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, chat.ErrNoChannel) {
		p.System(time.Now(), "channel not connected")
		return
	}
	p.System(time.Now(), "error: %v", err)
}
