package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/srg/gattc/internal/radio"
)

// ServiceProfile is a discovered service with its characteristics.
type ServiceProfile struct {
	Service
	Characteristics []CharacteristicProfile
}

// CharacteristicProfile is a discovered characteristic with its descriptors.
type CharacteristicProfile struct {
	Characteristic
	Descriptors []Descriptor
}

func (d *Device) discover(ctx context.Context, kind discoveryKind, start, end uint16, timeout time.Duration, issue func(conn uint16) error) (*operation, error) {
	op, conn, err := d.begin(StateDiscovering, kind, 0)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	op.start, op.end = start, end
	d.mu.Unlock()

	if err := d.run(ctx, op, timeout, func() error { return issue(conn) }); err != nil {
		return nil, err
	}
	if err := op.err("discovery"); err != nil {
		return nil, err
	}
	return op, nil
}

// DiscoverServices discovers all primary services.
func (d *Device) DiscoverServices(ctx context.Context, timeout time.Duration) ([]Service, error) {
	op, err := d.discover(ctx, discoverServices, radio.MinHandle, radio.MaxHandle, timeout, func(conn uint16) error {
		return d.transport.DiscoverServices(conn)
	})
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}
	return op.services, nil
}

// DiscoverCharacteristics discovers the characteristics declared in [start, end].
func (d *Device) DiscoverCharacteristics(ctx context.Context, start, end uint16, timeout time.Duration) ([]Characteristic, error) {
	op, err := d.discover(ctx, discoverCharacteristics, start, end, timeout, func(conn uint16) error {
		return d.transport.DiscoverCharacteristics(conn, start, end)
	})
	if err != nil {
		return nil, fmt.Errorf("discover characteristics 0x%04x-0x%04x: %w", start, end, err)
	}
	return op.characteristics, nil
}

// DiscoverDescriptors discovers the descriptors in [start, end].
func (d *Device) DiscoverDescriptors(ctx context.Context, start, end uint16, timeout time.Duration) ([]Descriptor, error) {
	op, err := d.discover(ctx, discoverDescriptors, start, end, timeout, func(conn uint16) error {
		return d.transport.DiscoverDescriptors(conn, start, end)
	})
	if err != nil {
		return nil, fmt.Errorf("discover descriptors 0x%04x-0x%04x: %w", start, end, err)
	}
	return op.descriptors, nil
}

// DiscoverAll discovers services, then the characteristics of each service,
// then the descriptors of each characteristic. Each step has its own timeout.
func (d *Device) DiscoverAll(ctx context.Context, timeout time.Duration) ([]ServiceProfile, error) {
	services, err := d.DiscoverServices(ctx, timeout)
	if err != nil {
		return nil, err
	}

	for _, s := range services {
		if _, err := d.DiscoverCharacteristics(ctx, s.StartHandle, s.EndHandle, timeout); err != nil && !attributeNotFound(err) {
			return nil, err
		}
	}

	var chars []Characteristic
	for _, s := range services {
		chars = append(chars, d.characteristicsIn(s)...)
	}
	for _, c := range chars {
		d.mu.Lock()
		start, end, ok := d.gatt.descriptorRange(c.ValueHandle)
		d.mu.Unlock()
		if !ok {
			continue
		}
		if _, err := d.DiscoverDescriptors(ctx, start, end, timeout); err != nil && !attributeNotFound(err) {
			return nil, err
		}
	}

	return d.Profile(), nil
}

func (d *Device) characteristicsIn(s Service) []Characteristic {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gatt.characteristicList(s.StartHandle, s.EndHandle)
}

// attributeNotFound reports the ATT status some stacks use to end an empty discovery.
func attributeNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == attAttributeNotFound
}

// Profile returns the attributes discovered on the current connection.
func (d *Device) Profile() []ServiceProfile {
	d.mu.Lock()
	defer d.mu.Unlock()

	services := d.gatt.serviceList()
	out := make([]ServiceProfile, 0, len(services))
	for _, s := range services {
		sp := ServiceProfile{Service: s}
		for _, c := range d.gatt.characteristicList(s.StartHandle, s.EndHandle) {
			cp := CharacteristicProfile{Characteristic: c}
			if start, end, ok := d.gatt.descriptorRange(c.ValueHandle); ok {
				cp.Descriptors = d.gatt.descriptorList(start, end)
			}
			sp.Characteristics = append(sp.Characteristics, cp)
		}
		out = append(out, sp)
	}
	return out
}
