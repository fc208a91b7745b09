// Package central is the process-level BLE central context. It owns the
// transport, the device registry and the scan state, and registers the
// event dispatcher as the transport's single handler. Create it once at
// startup with New and release it with Close.
package central

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/device"
	"github.com/srg/gattc/internal/radio"
	"github.com/srg/gattc/internal/registry"
	"github.com/srg/gattc/internal/ringchan"
)

var (
	ErrScanInProgress = errors.New("scan already in progress")
	ErrClosed         = errors.New("central closed")
)

const (
	// DefaultEventBuffer is the capacity of the device event ring.
	DefaultEventBuffer = 100
	// DefaultCloseTimeout bounds each disconnect performed by Close.
	DefaultCloseTimeout = 2 * time.Second
	// scanGrace is how long Scan waits for scan-done past the scan duration.
	scanGrace = 5 * time.Second
)

// Options configures a Central.
type Options struct {
	Logger             *logrus.Logger
	NotificationBuffer int
	CloseTimeout       time.Duration
}

// Central ties a transport to a device registry.
type Central struct {
	transport radio.Transport
	registry  *registry.Registry
	logger    *logrus.Logger
	closeWait time.Duration

	events *ringchan.Ring[DeviceEvent]

	mu     sync.Mutex
	scan   *scanState
	closed bool
	// stale holds the deadlines of radio scans abandoned before their
	// scan-done arrived. Each one owes a scan-done that must not end a
	// later scan.
	stale []time.Time
}

// New creates a Central and registers its dispatcher on transport.
func New(transport radio.Transport, opts Options) *Central {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	closeWait := opts.CloseTimeout
	if closeWait <= 0 {
		closeWait = DefaultCloseTimeout
	}

	var devOpts []device.Option
	if opts.NotificationBuffer > 0 {
		devOpts = append(devOpts, device.WithNotificationBuffer(opts.NotificationBuffer))
	}

	c := &Central{
		transport: transport,
		registry:  registry.New(transport, logger, devOpts...),
		logger:    logger,
		closeWait: closeWait,
		events:    ringchan.New[DeviceEvent](DefaultEventBuffer),
	}
	transport.SetHandler(c.Dispatch)
	return c
}

// Registry exposes the device registry.
func (c *Central) Registry() *registry.Registry {
	return c.registry
}

// Device returns a known device.
func (c *Central) Device(id radio.PeerIdentity) (*device.Device, bool) {
	return c.registry.GetByAddr(id)
}

// Connect resolves id to its device record, creating it if needed, and
// connects it.
func (c *Central) Connect(ctx context.Context, id radio.PeerIdentity, timeout time.Duration) (*device.Device, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	dev, _ := c.registry.GetOrCreate(id)
	if err := dev.Connect(ctx, timeout); err != nil {
		return dev, err
	}
	return dev, nil
}

// Events returns device discovery events produced while scanning.
func (c *Central) Events() <-chan DeviceEvent {
	return c.events.C()
}

func (c *Central) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close disconnects every connected device, detaches the dispatcher and
// closes the transport.
func (c *Central) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	for _, dev := range c.registry.Devices() {
		if !dev.IsConnected() {
			continue
		}
		if err := dev.Disconnect(context.Background(), c.closeWait); err != nil {
			c.logger.WithField("device", dev.Identity().String()).WithError(err).Warn("Failed to disconnect device during shutdown")
		}
	}

	c.transport.SetHandler(nil)
	c.events.Close()
	c.logger.Debug("Central closed")
	return c.transport.Close()
}
