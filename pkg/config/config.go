package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/radio"
	"gopkg.in/yaml.v3"
)

// OutputFormats lists the accepted values of OutputFormat.
var OutputFormats = []string{"table", "json", "yaml"}

// Config holds application configuration
type Config struct {
	LogLevel           string        `yaml:"log_level" default:"info"`
	ScanDuration       time.Duration `yaml:"scan_duration" default:"10s"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"5s"`
	OperationTimeout   time.Duration `yaml:"operation_timeout" default:"1s"`
	CloseTimeout       time.Duration `yaml:"close_timeout" default:"2s"`
	NotificationBuffer int           `yaml:"notification_buffer" default:"64"`
	EventBuffer        int           `yaml:"event_buffer" default:"100"`
	AddrType           string        `yaml:"addr_type" default:"public"`
	OutputFormat       string        `yaml:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// LoadFile reads a YAML config file over the defaults. Keys missing from
// the file keep their default values.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.PeerAddrType(); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]time.Duration{
		"scan_duration":     c.ScanDuration,
		"connect_timeout":   c.ConnectTimeout,
		"operation_timeout": c.OperationTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.NotificationBuffer <= 0 {
		errs = append(errs, fmt.Errorf("notification_buffer must be positive, got %d", c.NotificationBuffer))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer))
	}
	if !validFormat(c.OutputFormat) {
		errs = append(errs, fmt.Errorf("unsupported output format %q (supported: %v)", c.OutputFormat, OutputFormats))
	}
	return errors.Join(errs...)
}

func validFormat(f string) bool {
	for _, v := range OutputFormats {
		if v == f {
			return true
		}
	}
	return false
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log_level: %w", err)
	}
	return lvl, nil
}

// PeerAddrType parses AddrType.
func (c *Config) PeerAddrType() (radio.AddrType, error) {
	return radio.ParseAddrType(c.AddrType)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	lvl, _ := c.Level()
	logger.SetLevel(lvl)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
