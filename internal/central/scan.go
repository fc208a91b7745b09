package central

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/device"
	"github.com/srg/gattc/internal/radio"
)

type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

// DeviceEvent reports a scan result that passed the scan filter.
type DeviceEvent struct {
	Type   DeviceEventType
	Device *device.Device
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration     time.Duration
	ServiceUUIDs []ble.UUID
	AllowList    []string
	BlockList    []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration: 10 * time.Second,
	}
}

type scanState struct {
	opts *ScanOptions
	done chan struct{}
	seen map[string]*device.Device
}

// Scanning reports whether a scan is running.
func (c *Central) Scanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scan != nil
}

// Scan runs one scan and blocks until the radio reports scan-done. Every
// advertiser is recorded in the registry; the returned list holds the
// devices seen during this scan that pass the filters in opts, ordered by
// identity.
func (c *Central) Scan(ctx context.Context, opts *ScanOptions) ([]*device.Device, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	case c.scan != nil:
		c.mu.Unlock()
		return nil, ErrScanInProgress
	}
	st := &scanState{opts: opts, done: make(chan struct{}), seen: make(map[string]*device.Device)}
	c.scan = st
	c.mu.Unlock()

	c.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	if err := c.transport.Scan(opts.Duration); err != nil {
		c.endScan(st)
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	deadline := time.Now().Add(opts.Duration + scanGrace)
	timer := time.NewTimer(opts.Duration + scanGrace)
	defer timer.Stop()

	select {
	case <-st.done:
	case <-timer.C:
		c.endScan(st)
		return nil, fmt.Errorf("scan failed: %w", device.ErrTimeout)
	case <-ctx.Done():
		c.abandonScan(st, deadline)
		return nil, ctx.Err()
	}

	c.mu.Lock()
	devs := make([]*device.Device, 0, len(st.seen))
	for _, d := range st.seen {
		devs = append(devs, d)
	}
	c.mu.Unlock()
	sort.Slice(devs, func(i, j int) bool {
		return devs[i].Identity().String() < devs[j].Identity().String()
	})

	c.logger.WithField("device_count", len(devs)).Info("BLE scan completed")
	return devs, nil
}

func (c *Central) endScan(st *scanState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scan == st {
		c.scan = nil
	}
}

// abandonScan ends st while its radio scan is still running. The scan-done
// that radio scan reports later is expected until deadline.
func (c *Central) abandonScan(st *scanState, deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scan == st {
		c.scan = nil
		c.stale = append(c.stale, deadline)
	}
}

// consumeStaleLocked reports whether a scan-done belongs to an abandoned
// scan. Abandoned scans past their deadline are forgotten.
func (c *Central) consumeStaleLocked(now time.Time) bool {
	live := c.stale[:0]
	for _, d := range c.stale {
		if now.Before(d) {
			live = append(live, d)
		}
	}
	c.stale = live
	if len(c.stale) == 0 {
		return false
	}
	c.stale = c.stale[1:]
	return true
}

func (c *Central) onScanResult(ev radio.ScanResult) {
	dev := c.registry.HandleScanResult(ev)

	c.mu.Lock()
	st := c.scan
	if st == nil || !shouldIncludeDevice(dev, st.opts) {
		c.mu.Unlock()
		return
	}
	key := ev.Peer.String()
	_, existing := st.seen[key]
	st.seen[key] = dev
	c.mu.Unlock()

	event := DeviceEvent{Type: EventUpdated, Device: dev}
	if !existing {
		event.Type = EventNew
	}
	c.events.Send(event)
}

func (c *Central) onScanDone() {
	c.mu.Lock()
	if c.consumeStaleLocked(time.Now()) {
		c.mu.Unlock()
		c.logger.Debug("Dropped scan done of an abandoned scan")
		return
	}
	st := c.scan
	c.scan = nil
	c.mu.Unlock()

	if st == nil {
		c.logger.Debug("Scan done with no scan in progress")
		return
	}
	c.logger.WithFields(logrus.Fields{"devices": len(st.seen)}).Debug("Scan done")
	close(st.done)
}

// shouldIncludeDevice applies to allow/block/service filters
func shouldIncludeDevice(dev *device.Device, opts *ScanOptions) bool {
	addr := dev.Identity().Addr.String()

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		services := dev.Advertisement().Services
		for _, required := range opts.ServiceUUIDs {
			for _, advUUID := range services {
				if required.Equal(advUUID) {
					return true
				}
			}
		}
		return false
	}

	return true
}
