// Package goble implements radio.Transport on top of github.com/go-ble/ble.
//
// go-ble exposes blocking calls; this package turns each command into a
// goroutine and reports its outcome as radio events, delivered to the
// handler from a single pump goroutine in the order they were produced.
package goble

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/gattc/internal/advdata"
)

// Advertisement is the part of ble.Advertisement the transport reads.
type Advertisement interface {
	advdata.Advertisement
	Addr() ble.Addr
	RSSI() int
	Connectable() bool
}

// Client is the part of ble.Client the transport uses. Clients that also
// provide Disconnected() <-chan struct{} get link-loss detection.
type Client interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	CancelConnection() error
}

// Radio is a local BLE adapter.
type Radio interface {
	Scan(ctx context.Context, allowDup bool, h func(Advertisement)) error
	Dial(ctx context.Context, addr ble.Addr) (Client, error)
}

// ErrUnsupportedPlatform is returned by DeviceFactory where go-ble has no backend.
var ErrUnsupportedPlatform = errors.New("BLE is not supported on this platform")

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// FromDevice adapts a go-ble device to Radio.
func FromDevice(dev ble.Device) Radio {
	return deviceRadio{dev: dev}
}

type deviceRadio struct {
	dev ble.Device
}

func (r deviceRadio) Scan(ctx context.Context, allowDup bool, h func(Advertisement)) error {
	return r.dev.Scan(ctx, allowDup, func(a ble.Advertisement) { h(a) })
}

func (r deviceRadio) Dial(ctx context.Context, addr ble.Addr) (Client, error) {
	client, err := r.dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// OpenDefault creates the platform device and wraps it in a Transport.
func OpenDefault(opts Options) (*Transport, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	return New(FromDevice(dev), opts), nil
}
