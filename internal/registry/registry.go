// Package registry maps peer identities and live connection handles to
// device records.
//
// The identity map holds every device ever observed; the handle map holds
// only connected ones. Every handle-map entry also lives in the identity map,
// and a disconnect removes the handle entry but keeps the device known.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/device"
	"github.com/srg/gattc/internal/radio"
)

// ErrUnknownHandle is returned when an event names a connection handle that
// is not bound to any device.
var ErrUnknownHandle = errors.New("unknown connection handle")

// Registry owns all device records.
type Registry struct {
	transport radio.Transport
	logger    *logrus.Logger
	devOpts   []device.Option

	byAddr *hashmap.Map[string, *device.Device]
	byConn *hashmap.Map[uint16, *device.Device]

	// bindMu serializes handle-map rebinding.
	bindMu sync.Mutex
}

// New creates an empty registry. Devices it creates issue commands on
// transport and are built with opts.
func New(transport radio.Transport, logger *logrus.Logger, opts ...device.Option) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		transport: transport,
		logger:    logger,
		devOpts:   append([]device.Option{device.WithLogger(logger)}, opts...),
		byAddr:    hashmap.New[string, *device.Device](),
		byConn:    hashmap.New[uint16, *device.Device](),
	}
}

// GetByAddr returns the device with the given identity.
func (r *Registry) GetByAddr(id radio.PeerIdentity) (*device.Device, bool) {
	return r.byAddr.Get(id.String())
}

// GetByConn returns the device bound to a live connection handle.
func (r *Registry) GetByConn(conn uint16) (*device.Device, bool) {
	return r.byConn.Get(conn)
}

// GetOrCreate returns the device for id, creating it on first sight. The
// second result reports whether the device already existed.
func (r *Registry) GetOrCreate(id radio.PeerIdentity) (*device.Device, bool) {
	key := id.String()
	if dev, ok := r.byAddr.Get(key); ok {
		return dev, true
	}
	dev, existing := r.byAddr.GetOrInsert(key, device.New(id, r.transport, r.devOpts...))
	if !existing {
		r.logger.WithField("device", key).Debug("Registered new device")
	}
	return dev, existing
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	return r.byAddr.Len()
}

// Devices returns every known device, ordered by identity.
func (r *Registry) Devices() []*device.Device {
	devs := make([]*device.Device, 0, r.byAddr.Len())
	r.byAddr.Range(func(_ string, dev *device.Device) bool {
		devs = append(devs, dev)
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		return devs[i].Identity().String() < devs[j].Identity().String()
	})
	return devs
}

// HandleScanResult creates or updates the advertising device.
func (r *Registry) HandleScanResult(ev radio.ScanResult) *device.Device {
	dev, existing := r.GetOrCreate(ev.Peer)
	if err := dev.UpdateAdvertisement(ev.AdvType, ev.RSSI, ev.Data); err != nil {
		r.logger.WithField("device", ev.Peer.String()).WithError(err).Debug("Advertisement partially decoded")
	}
	if !existing {
		info := dev.Advertisement()
		r.logger.WithFields(logrus.Fields{
			"device": ev.Peer.String(),
			"name":   info.LocalName,
			"rssi":   ev.RSSI,
		}).Info("Discovered new device")
	}
	return dev
}

// HandleConnect binds the new connection handle to the identity's device.
// A device that still held the handle is reset first, so a handle is never
// owned by two devices.
func (r *Registry) HandleConnect(ev radio.PeripheralConnect) *device.Device {
	dev, _ := r.GetOrCreate(ev.Peer)

	r.bindMu.Lock()
	if prev, ok := r.byConn.Get(ev.Conn); ok && prev != dev {
		r.logger.WithFields(logrus.Fields{
			"conn":     ev.Conn,
			"previous": prev.Identity().String(),
			"device":   ev.Peer.String(),
		}).Warn("Connection handle reused without a disconnect, resetting previous owner")
		prev.HandleDisconnect()
	}
	if old, ok := dev.ConnHandle(); ok && old != ev.Conn {
		r.byConn.Del(old)
	}
	r.byConn.Set(ev.Conn, dev)
	r.bindMu.Unlock()

	dev.HandleConnect(ev.Conn)
	return dev
}

// HandleDisconnect unbinds the handle and resets its device. A disconnect
// for a handle that was never bound fails a pending connect to ev.Peer, if
// any; otherwise ErrUnknownHandle is returned.
func (r *Registry) HandleDisconnect(ev radio.PeripheralDisconnect) error {
	r.bindMu.Lock()
	dev, ok := r.byConn.Get(ev.Conn)
	if ok {
		r.byConn.Del(ev.Conn)
	}
	r.bindMu.Unlock()

	if ok {
		dev.HandleDisconnect()
		return nil
	}
	if dev, ok := r.GetByAddr(ev.Peer); ok && dev.State() == device.StateConnecting {
		dev.HandleDisconnect()
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnknownHandle, ev.Conn)
}

// Route calls fn with the device bound to conn.
func (r *Registry) Route(conn uint16, fn func(*device.Device)) error {
	dev, ok := r.byConn.Get(conn)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, conn)
	}
	fn(dev)
	return nil
}
