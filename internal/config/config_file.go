package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig is the TOML file layout. Durations are strings.
type FileConfig struct {
	Server ServerFile `toml:"server"`
	Client ClientFile `toml:"client"`
}

// ServerFile is the [server] table.
type ServerFile struct {
	Host            string `toml:"host"`
	TextPort        int    `toml:"text_port"`
	ImagePort       int    `toml:"image_port"`
	WSPort          int    `toml:"ws_port"`
	PromoteInterval string `toml:"promote_interval"`
	ProbeInterval   string `toml:"probe_interval"`
	LogDir          string `toml:"log_dir"`
	Archive         string `toml:"archive"`
	Outbox          string `toml:"outbox"`
	LogLevel        string `toml:"log_level"`
}

// ClientFile is the [client] table.
type ClientFile struct {
	Server         string `toml:"server"`
	TextPort       int    `toml:"text_port"`
	ImagePort      int    `toml:"image_port"`
	Transport      string `toml:"transport"`
	WSURL          string `toml:"ws_url"`
	ConnectTimeout string `toml:"connect_timeout"`
	Outbox         string `toml:"outbox"`
	LogLevel       string `toml:"log_level"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.duochat/config.toml, or "" when the home
// directory is unknown.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".duochat", "config.toml")
	}
	return ""
}

// ApplyServerFile applies the [server] table. Flags in changed win.
func ApplyServerFile(cfg *Server, fc ServerFile, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("host", fc.Host, &cfg.Host)
	s.setString("log-dir", fc.LogDir, &cfg.LogDir)
	s.setString("archive", fc.Archive, &cfg.Archive)
	s.setString("outbox", fc.Outbox, &cfg.Outbox)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	s.setInt("text-port", fc.TextPort, &cfg.TextPort)
	s.setInt("image-port", fc.ImagePort, &cfg.ImagePort)
	s.setInt("ws-port", fc.WSPort, &cfg.WSPort)

	if err := s.setDuration("promote-interval", fc.PromoteInterval, &cfg.PromoteInterval); err != nil {
		return err
	}
	if err := s.setDuration("probe-interval", fc.ProbeInterval, &cfg.ProbeInterval); err != nil {
		return err
	}
	return nil
}

// ApplyClientFile applies the [client] table. Flags in changed win.
func ApplyClientFile(cfg *Client, fc ClientFile, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("server", fc.Server, &cfg.Server)
	s.setString("transport", fc.Transport, &cfg.Transport)
	s.setString("ws-url", fc.WSURL, &cfg.WSURL)
	s.setString("outbox", fc.Outbox, &cfg.Outbox)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	s.setInt("text-port", fc.TextPort, &cfg.TextPort)
	s.setInt("image-port", fc.ImagePort, &cfg.ImagePort)

	return s.setDuration("connect-timeout", fc.ConnectTimeout, &cfg.ConnectTimeout)
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
