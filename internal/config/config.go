// Package config holds the server and client settings and the layering of
// flags, environment variables and the TOML file over the defaults.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Default ports and the accepted transports.
const (
	DefaultTextPort  = 10000
	DefaultImagePort = 10001

	TransportTCP = "tcp"
	TransportWS  = "ws"
)

// Server holds the settings of duochat-server.
type Server struct {
	Host      string
	TextPort  int
	ImagePort int
	WSPort    int

	PromoteInterval time.Duration
	ProbeInterval   time.Duration

	LogDir   string
	Archive  string
	Outbox   string
	LogLevel string
}

// DefaultServer returns a Server with default values.
func DefaultServer() Server {
	return Server{
		TextPort:        DefaultTextPort,
		ImagePort:       DefaultImagePort,
		PromoteInterval: 200 * time.Millisecond,
		ProbeInterval:   500 * time.Millisecond,
		LogDir:          "chat_logs",
		LogLevel:        "info",
	}
}

// Validate checks the configuration for errors.
func (c *Server) Validate() error {
	if err := checkPort("text-port", c.TextPort); err != nil {
		return err
	}
	if err := checkPort("image-port", c.ImagePort); err != nil {
		return err
	}
	if c.WSPort != 0 {
		if err := checkPort("ws-port", c.WSPort); err != nil {
			return err
		}
		if c.WSPort == c.TextPort || c.WSPort == c.ImagePort {
			return fmt.Errorf("ws-port %d collides with another port", c.WSPort)
		}
	}
	if c.TextPort == c.ImagePort {
		return fmt.Errorf("text-port and image-port must differ (both %d)", c.TextPort)
	}
	if c.PromoteInterval <= 0 {
		return fmt.Errorf("promote interval must be positive")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}
	return nil
}

// TextAddr is the listen address of the text channel.
func (c *Server) TextAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.TextPort))
}

// ImageAddr is the listen address of the image channel.
func (c *Server) ImageAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.ImagePort))
}

// WSAddr is the WebSocket listen address, or "" when disabled.
func (c *Server) WSAddr() string {
	if c.WSPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.WSPort))
}

// Client holds the settings of duochat-client.
type Client struct {
	Server    string
	TextPort  int
	ImagePort int

	Transport string
	WSURL     string

	ConnectTimeout time.Duration

	Outbox   string
	LogLevel string
}

// DefaultClient returns a Client with default values.
func DefaultClient() Client {
	return Client{
		Server:         "127.0.0.1",
		TextPort:       DefaultTextPort,
		ImagePort:      DefaultImagePort,
		Transport:      TransportTCP,
		ConnectTimeout: 5 * time.Second,
		LogLevel:       "warn",
	}
}

// Validate checks the configuration for errors and normalizes the
// WebSocket URL.
func (c *Client) Validate() error {
	switch c.Transport {
	case TransportTCP:
		if c.Server == "" {
			return fmt.Errorf("server is required")
		}
		if err := checkPort("text-port", c.TextPort); err != nil {
			return err
		}
		if err := checkPort("image-port", c.ImagePort); err != nil {
			return err
		}
	case TransportWS:
		if c.WSURL == "" {
			return fmt.Errorf("ws-url is required with transport %q", TransportWS)
		}
		if !strings.HasPrefix(c.WSURL, "ws://") && !strings.HasPrefix(c.WSURL, "wss://") {
			return fmt.Errorf("ws-url must start with ws:// or wss://, got %q", c.WSURL)
		}
		c.WSURL = strings.TrimRight(c.WSURL, "/")
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportTCP, TransportWS)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	return nil
}

// TextAddr is the server's text channel address.
func (c *Client) TextAddr() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.TextPort))
}

// ImageAddr is the server's image channel address.
func (c *Client) ImageAddr() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.ImagePort))
}

func checkPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d out of range 1-65535", name, port)
	}
	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}
