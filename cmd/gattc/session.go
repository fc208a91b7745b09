package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/central"
	"github.com/srg/gattc/internal/device"
	"github.com/srg/gattc/internal/radio"
	"github.com/srg/gattc/internal/radio/goble"
	"github.com/srg/gattc/pkg/config"
)

// newTransport opens the radio (can be overridden in tests)
var newTransport = func(cfg *config.Config, logger *logrus.Logger) (radio.Transport, error) {
	addrType, err := cfg.PeerAddrType()
	if err != nil {
		return nil, err
	}
	return goble.OpenDefault(goble.Options{
		Logger:      logger,
		AddrType:    addrType,
		DialTimeout: cfg.ConnectTimeout,
		EventBuffer: cfg.EventBuffer,
	})
}

// session is the per-command runtime: config, logger and an open central.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	central *central.Central
}

// loadConfig reads --config (or defaults) and applies global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if at, _ := cmd.Flags().GetString("addr-type"); at != "" {
		cfg.AddrType = at
	}
	if f, _ := cmd.Flags().GetString("format"); f != "" {
		cfg.OutputFormat = f
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openSession validates flags, then opens the radio. Usage is silenced
// afterwards since remaining failures are runtime errors.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	tr, err := newTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	c := central.New(tr, central.Options{
		Logger:             logger,
		NotificationBuffer: cfg.NotificationBuffer,
		CloseTimeout:       cfg.CloseTimeout,
	})
	return &session{cfg: cfg, logger: logger, central: c}, nil
}

func (s *session) Close() {
	if err := s.central.Close(); err != nil {
		s.logger.WithError(err).Debug("Failed to close central")
	}
}

// connect parses address and connects with the configured address type.
func (s *session) connect(ctx context.Context, address string) (*device.Device, error) {
	addr, err := radio.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	addrType, err := s.cfg.PeerAddrType()
	if err != nil {
		return nil, err
	}
	dev, err := s.central.Connect(ctx, radio.PeerIdentity{AddrType: addrType, Addr: addr}, s.cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return dev, nil
}

// commandContext derives a context cancelled on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
