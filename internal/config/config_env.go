package config

import "os"

// ApplyServerEnv applies DUOCHAT_* environment variables to cfg.
// It respects flags that have been explicitly set (changed map).
func ApplyServerEnv(cfg *Server, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("host", os.Getenv("DUOCHAT_HOST"), &cfg.Host)
	s.setString("log-dir", os.Getenv("DUOCHAT_LOG_DIR"), &cfg.LogDir)
	s.setString("archive", os.Getenv("DUOCHAT_ARCHIVE"), &cfg.Archive)
	s.setString("outbox", os.Getenv("DUOCHAT_OUTBOX"), &cfg.Outbox)
	s.setString("log-level", os.Getenv("DUOCHAT_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setIntFromString("text-port", os.Getenv("DUOCHAT_TEXT_PORT"), &cfg.TextPort); err != nil {
		return err
	}
	if err := s.setIntFromString("image-port", os.Getenv("DUOCHAT_IMAGE_PORT"), &cfg.ImagePort); err != nil {
		return err
	}
	if err := s.setIntFromString("ws-port", os.Getenv("DUOCHAT_WS_PORT"), &cfg.WSPort); err != nil {
		return err
	}

	if err := s.setDuration("promote-interval", os.Getenv("DUOCHAT_PROMOTE_INTERVAL"), &cfg.PromoteInterval); err != nil {
		return err
	}
	return s.setDuration("probe-interval", os.Getenv("DUOCHAT_PROBE_INTERVAL"), &cfg.ProbeInterval)
}

// ApplyClientEnv applies DUOCHAT_* environment variables to cfg.
// It respects flags that have been explicitly set (changed map).
func ApplyClientEnv(cfg *Client, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("server", os.Getenv("DUOCHAT_SERVER"), &cfg.Server)
	s.setString("transport", os.Getenv("DUOCHAT_TRANSPORT"), &cfg.Transport)
	s.setString("ws-url", os.Getenv("DUOCHAT_WS_URL"), &cfg.WSURL)
	s.setString("outbox", os.Getenv("DUOCHAT_OUTBOX"), &cfg.Outbox)
	s.setString("log-level", os.Getenv("DUOCHAT_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setIntFromString("text-port", os.Getenv("DUOCHAT_TEXT_PORT"), &cfg.TextPort); err != nil {
		return err
	}
	if err := s.setIntFromString("image-port", os.Getenv("DUOCHAT_IMAGE_PORT"), &cfg.ImagePort); err != nil {
		return err
	}
	return s.setDuration("connect-timeout", os.Getenv("DUOCHAT_CONNECT_TIMEOUT"), &cfg.ConnectTimeout)
}
