package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config with strings for durations to keep the TOML
// representation friendly.
type FileConfig struct {
	ListenAddr     string `toml:"listen_addr"`
	CaptureFile    string `toml:"capture_file"`
	ReplyFile      string `toml:"reply_file"`
	MetricsAddr    string `toml:"metrics_addr"`
	ReadTimeout    string `toml:"read_timeout"`
	IdleTimeout    string `toml:"idle_timeout"`
	MaxFrameLength int    `toml:"max_frame_length"`
	SendRetryLimit int    `toml:"send_retry_limit"`
	Debug          *bool  `toml:"debug"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig

	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}

	return fc, nil
}

// DefaultConfigPath returns ~/.astm-capture/config.toml when the user home
// directory is accessible, otherwise "".
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".astm-capture", "config.toml")
	}

	return ""
}

// ApplyFileConfig applies file configuration to cfg, skipping any field whose
// flag was explicitly set on the command line.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("capture", fc.CaptureFile, &cfg.CaptureFile)
	s.setString("reply", fc.ReplyFile, &cfg.ReplyFile)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	if err := s.setDuration("read-timeout", fc.ReadTimeout, &cfg.ReadTimeout); err != nil {
		return err
	}
	if err := s.setDuration("idle-timeout", fc.IdleTimeout, &cfg.IdleTimeout); err != nil {
		return err
	}

	s.setInt("max-frame-length", fc.MaxFrameLength, &cfg.MaxFrameLength)
	s.setInt("retry", fc.SendRetryLimit, &cfg.SendRetryLimit)
	s.setBool("debug", fc.Debug, &cfg.Debug)

	return nil
}

// FileExists reports whether a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)

	return err == nil
}
