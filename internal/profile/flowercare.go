package profile

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Flower Care (Xiaomi HHCCJCY01) handles.
const (
	HandleDeviceName         uint16 = 0x03
	HandleFirmwareAndBattery uint16 = 0x38
	HandleDeviceTime         uint16 = 0x41
)

var (
	// FlowerCareName is the GAP device name.
	FlowerCareName = Field[string]{Name: "name", Handle: HandleDeviceName, Decode: Text}
	// FlowerCareFirmware is the firmware version, after the 2-byte battery prefix.
	FlowerCareFirmware = Field[string]{Name: "firmware", Handle: HandleFirmwareAndBattery, Decode: TextFrom(2)}
	// FlowerCareBattery is the battery level in percent.
	FlowerCareBattery = Field[uint8]{Name: "battery", Handle: HandleFirmwareAndBattery, Decode: Uint8At(0)}
	// FlowerCareTime is the device clock, undecoded.
	FlowerCareTime = Field[[]byte]{Name: "time", Handle: HandleDeviceTime, Decode: Raw}
)

// FlowerCareFields lists the Flower Care fields in display order.
var FlowerCareFields = []AnyField{FlowerCareName, FlowerCareFirmware, FlowerCareBattery, FlowerCareTime}

// FlowerCare reads Flower Care fields from a connected device.
type FlowerCare struct {
	dev     HandleReader
	timeout time.Duration
}

// NewFlowerCare binds the profile to a device. Each read waits at most timeout.
func NewFlowerCare(dev HandleReader, timeout time.Duration) *FlowerCare {
	return &FlowerCare{dev: dev, timeout: timeout}
}

func (p *FlowerCare) Name(ctx context.Context) (string, error) {
	return FlowerCareName.Read(ctx, p.dev, p.timeout)
}

func (p *FlowerCare) FirmwareVersion(ctx context.Context) (string, error) {
	return FlowerCareFirmware.Read(ctx, p.dev, p.timeout)
}

func (p *FlowerCare) BatteryLevel(ctx context.Context) (uint8, error) {
	return FlowerCareBattery.Read(ctx, p.dev, p.timeout)
}

func (p *FlowerCare) Time(ctx context.Context) ([]byte, error) {
	return FlowerCareTime.Read(ctx, p.dev, p.timeout)
}

// Reading is a full Flower Care snapshot.
type Reading struct {
	Name     string `json:"name" yaml:"name"`
	Firmware string `json:"firmware" yaml:"firmware"`
	Battery  uint8  `json:"battery" yaml:"battery"`
	Time     []byte `json:"time" yaml:"time"`
}

// ReadAll reads every field, stopping at the first error.
func (p *FlowerCare) ReadAll(ctx context.Context) (*Reading, error) {
	var (
		r   Reading
		err error
	)
	if r.Name, err = p.Name(ctx); err != nil {
		return nil, err
	}
	if r.Firmware, err = p.FirmwareVersion(ctx); err != nil {
		return nil, err
	}
	if r.Battery, err = p.BatteryLevel(ctx); err != nil {
		return nil, err
	}
	if r.Time, err = p.Time(ctx); err != nil {
		return nil, err
	}
	return &r, nil
}

// Lookup finds a Flower Care field by name, case-insensitively.
func Lookup(name string) (AnyField, error) {
	for _, f := range FlowerCareFields {
		if strings.EqualFold(f.Info().Name, name) {
			return f, nil
		}
	}
	names := make([]string, 0, len(FlowerCareFields))
	for _, f := range FlowerCareFields {
		names = append(names, f.Info().Name)
	}
	return nil, fmt.Errorf("unknown field %q (valid: %s)", name, strings.Join(names, ", "))
}
