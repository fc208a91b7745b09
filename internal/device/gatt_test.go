package device

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
)

func TestTable_DescriptorRange(t *testing.T) {
	tbl := newTable()
	tbl.addService(Service{StartHandle: 0x01, EndHandle: 0x07, UUID: ble.UUID16(0x1800)})
	tbl.addService(Service{StartHandle: 0x08, EndHandle: 0x0f, UUID: ble.UUID16(0x180f)})
	tbl.addCharacteristic(Characteristic{DefHandle: 0x02, ValueHandle: 0x03})
	tbl.addCharacteristic(Characteristic{DefHandle: 0x04, ValueHandle: 0x05})
	tbl.addCharacteristic(Characteristic{DefHandle: 0x09, ValueHandle: 0x0a})
	tbl.addCharacteristic(Characteristic{DefHandle: 0x0c, ValueHandle: 0x0d})

	tests := []struct {
		name        string
		valueHandle uint16
		start, end  uint16
		ok          bool
	}{
		{name: "followed by declaration", valueHandle: 0x03, ok: false},
		{name: "last in service", valueHandle: 0x05, start: 0x06, end: 0x07, ok: true},
		{name: "one descriptor slot", valueHandle: 0x0a, start: 0x0b, end: 0x0b, ok: true},
		{name: "last in database", valueHandle: 0x0d, start: 0x0e, end: 0x0f, ok: true},
		{name: "unknown", valueHandle: 0x30, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := tbl.descriptorRange(tt.valueHandle)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.start, start)
				assert.Equal(t, tt.end, end)
			}
		})
	}
}

func TestTable_CCCDAndReset(t *testing.T) {
	tbl := newTable()
	tbl.addService(Service{StartHandle: 0x08, EndHandle: 0x0f})
	tbl.addCharacteristic(Characteristic{DefHandle: 0x09, ValueHandle: 0x0a, Properties: ble.CharNotify})
	tbl.addDescriptor(Descriptor{Handle: 0x0b, UUID: ble.UUID16(0x2901)})
	tbl.addDescriptor(Descriptor{Handle: 0x0c, UUID: ble.UUID16(0x2902)})

	h, ok := tbl.cccd(0x0a)
	assert.True(t, ok)
	assert.Equal(t, uint16(0x0c), h)

	// Rediscovery keeps the subscription flag.
	c, _ := tbl.characteristics.Get(0x0a)
	c.Subscribed = true
	tbl.addCharacteristic(Characteristic{DefHandle: 0x09, ValueHandle: 0x0a, Properties: ble.CharNotify})
	c, _ = tbl.characteristics.Get(0x0a)
	assert.True(t, c.Subscribed)

	tbl.reset()
	_, ok = tbl.cccd(0x0a)
	assert.False(t, ok)
	assert.Empty(t, tbl.serviceList())
}
