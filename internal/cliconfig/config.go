// Package cliconfig holds the configuration plumbing for the astm-capture
// command: defaults, TOML file loading, environment overrides, and the
// flag-precedence rules between them. Precedence from lowest to highest is
// defaults, config file, environment, explicit flags.
package cliconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the CLI configuration for astm-capture.
type Config struct {
	ListenAddr  string
	CaptureFile string
	ReplyFile   string
	MetricsAddr string

	ReadTimeout    time.Duration
	IdleTimeout    time.Duration
	MaxFrameLength int
	SendRetryLimit int

	Debug bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":5000",
		ReadTimeout:    15 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxFrameLength: 8192,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}
	if c.IdleTimeout < c.ReadTimeout {
		return fmt.Errorf("idle timeout %s must be at least the read timeout %s",
			c.IdleTimeout, c.ReadTimeout)
	}
	if c.MaxFrameLength <= 0 {
		return errors.New("max frame length must be positive")
	}
	if c.SendRetryLimit < 0 {
		return errors.New("send retry limit must not be negative")
	}

	return nil
}

// ApplyEnvConfig applies ASTM_* environment variables to cfg. Environment
// values override the config file but lose to explicitly set flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", os.Getenv("ASTM_LISTEN"), &cfg.ListenAddr)
	s.setString("capture", os.Getenv("ASTM_CAPTURE_FILE"), &cfg.CaptureFile)
	s.setString("reply", os.Getenv("ASTM_REPLY_FILE"), &cfg.ReplyFile)
	s.setString("metrics-addr", os.Getenv("ASTM_METRICS_ADDR"), &cfg.MetricsAddr)

	if err := s.setDuration("read-timeout", os.Getenv("ASTM_READ_TIMEOUT"), &cfg.ReadTimeout); err != nil {
		return err
	}
	if err := s.setDuration("idle-timeout", os.Getenv("ASTM_IDLE_TIMEOUT"), &cfg.IdleTimeout); err != nil {
		return err
	}
	if err := s.setIntFromString("max-frame-length", os.Getenv("ASTM_MAX_FRAME_LENGTH"), &cfg.MaxFrameLength); err != nil {
		return err
	}
	if err := s.setIntFromString("retry", os.Getenv("ASTM_SEND_RETRY_LIMIT"), &cfg.SendRetryLimit); err != nil {
		return err
	}

	s.setBoolFromString("debug", os.Getenv("ASTM_DEBUG"), &cfg.Debug)

	return nil
}

// configSetter applies configuration values while respecting flag precedence:
// a value is only applied when the corresponding flag was not explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

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

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

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

func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
