package advdata

import (
	"errors"
	"fmt"

	"github.com/go-ble/ble"
)

// maxPayload is the largest payload a single length byte can describe.
const maxPayload = 254

// ErrPayloadTooLarge is returned by Builder.Bytes when a record payload does
// not fit in one AD structure.
var ErrPayloadTooLarge = errors.New("AD payload too large")

// Builder assembles an advertising payload record by record.
//
//	data, err := advdata.NewBuilder().
//	    Flags(0x06).
//	    Services(ble.UUID16(0x180f)).
//	    LocalName("Flower care").
//	    Bytes()
type Builder struct {
	buf []byte
	err error
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a raw record.
func (b *Builder) Add(t Type, payload []byte) *Builder {
	if b.err != nil {
		return b
	}
	if len(payload) > maxPayload {
		b.err = fmt.Errorf("%w: %s has %d bytes", ErrPayloadTooLarge, t, len(payload))
		return b
	}
	b.buf = append(b.buf, byte(len(payload)+1), byte(t))
	b.buf = append(b.buf, payload...)
	return b
}

func (b *Builder) Flags(flags byte) *Builder {
	return b.Add(TypeFlags, []byte{flags})
}

// Services appends complete 16-bit and 128-bit UUID lists. UUIDs of other
// lengths are skipped.
func (b *Builder) Services(uuids ...ble.UUID) *Builder {
	var short, long []byte
	for _, u := range uuids {
		// ble.UUID is stored little-endian, which is the on-air order
		switch len(u) {
		case 2:
			short = append(short, u...)
		case 16:
			long = append(long, u...)
		}
	}
	if len(short) > 0 {
		b.Add(TypeComplete16, short)
	}
	if len(long) > 0 {
		b.Add(TypeComplete128, long)
	}
	return b
}

func (b *Builder) LocalName(name string) *Builder {
	if name == "" {
		return b
	}
	return b.Add(TypeCompleteName, []byte(name))
}

func (b *Builder) TxPower(level int) *Builder {
	return b.Add(TypeTxPower, []byte{byte(int8(level))})
}

func (b *Builder) ServiceData(uuid ble.UUID, data []byte) *Builder {
	t := TypeServiceData16
	if len(uuid) != 2 {
		t = TypeServiceData128
	}
	payload := make([]byte, 0, len(uuid)+len(data))
	payload = append(payload, uuid...)
	return b.Add(t, append(payload, data...))
}

func (b *Builder) ManufacturerData(data []byte) *Builder {
	if len(data) == 0 {
		return b
	}
	return b.Add(TypeManufacturerData, data)
}

// Bytes returns the assembled payload or the first error encountered.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.buf, nil
}

// noTxPower is what go-ble reports when an advertisement carries no tx power.
const noTxPower = 127

// Advertisement is the subset of ble.Advertisement that FromAdvertisement reads.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []ble.ServiceData
	Services() []ble.UUID
	TxPowerLevel() int
}

// FromAdvertisement re-encodes a go-ble advertisement, whose fields arrive
// already decoded, into the raw payload format.
func FromAdvertisement(a Advertisement) ([]byte, error) {
	b := NewBuilder().
		LocalName(a.LocalName()).
		Services(a.Services()...)
	if p := a.TxPowerLevel(); p != noTxPower {
		b.TxPower(p)
	}
	for _, sd := range a.ServiceData() {
		b.ServiceData(sd.UUID, sd.Data)
	}
	b.ManufacturerData(a.ManufacturerData())
	return b.Bytes()
}
