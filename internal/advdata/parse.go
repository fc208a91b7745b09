package advdata

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/hexdump"
)

// Fields holds the values extracted from one advertising payload.
type Fields struct {
	Flags            *byte
	Services16       []uint16
	Services128      []ble.UUID
	LocalName        string
	TxPower          *int8
	ServiceData      [][]byte
	ManufacturerData []byte
	DeviceAddress    []byte

	// Unknown lists records with unrecognized types, kept for diagnostics.
	Unknown []Record
	// Truncated lists UUID list records whose payload was not a whole number
	// of UUIDs; the trailing partial UUID was ignored.
	Truncated []Record

	// Consumed is the number of buffer bytes accounted for, including a
	// trailing zero-padded region.
	Consumed int
}

// Services returns every advertised service UUID in go-ble form.
func (f *Fields) Services() []ble.UUID {
	out := make([]ble.UUID, 0, len(f.Services16)+len(f.Services128))
	for _, u := range f.Services16 {
		out = append(out, ble.UUID16(u))
	}
	return append(out, f.Services128...)
}

type parseOptions struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// ParseOption customizes Parse.
type ParseOption func(*parseOptions)

// WithLogger makes Parse trace every record at debug level.
func WithLogger(logger *logrus.Logger, fields logrus.Fields) ParseOption {
	return func(o *parseOptions) {
		o.logger = logger
		o.fields = fields
	}
}

// Parse extracts Fields from data. On a malformed record the fields decoded
// so far are returned together with a *MalformedError.
func Parse(data []byte, opts ...ParseOption) (*Fields, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}

	f := &Fields{}
	if o.logger != nil {
		hexdump.Log(o.logger, "advertising data", data, o.fields)
	}

	for rec, err := range Records(data) {
		if err != nil {
			if o.logger != nil {
				o.logger.WithFields(o.fields).WithError(err).Warn("Dropping malformed advertising record")
			}
			return f, err
		}
		f.apply(rec, &o)
		f.Consumed = rec.Offset + rec.Size()
	}
	if f.Consumed < len(data) {
		f.Consumed = len(data)
	}
	return f, nil
}

func (f *Fields) apply(rec Record, o *parseOptions) {
	var entry *logrus.Entry
	if o.logger != nil {
		entry = o.logger.WithFields(o.fields).WithField("ad_type", rec.Type.String())
	}
	debug := func(msg string, kv logrus.Fields) {
		if entry != nil {
			entry.WithFields(kv).Debug(msg)
		}
	}
	dump := func(msg string) {
		if o.logger != nil {
			hexdump.Log(o.logger, msg, rec.Payload, o.fields)
		}
	}

	switch rec.Type {
	case TypeFlags:
		if len(rec.Payload) > 0 {
			flags := rec.Payload[0]
			f.Flags = &flags
			debug("Flags", logrus.Fields{"flags": flags})
		}
	case TypeIncomplete16, TypeComplete16:
		n := len(rec.Payload) / 2
		for i := 0; i < n; i++ {
			u := binary.LittleEndian.Uint16(rec.Payload[2*i:])
			f.Services16 = append(f.Services16, u)
			debug("Service class UUID", logrus.Fields{"uuid": ble.UUID16(u).String()})
		}
		if len(rec.Payload)%2 != 0 {
			f.Truncated = append(f.Truncated, rec)
			debug("Ignoring trailing byte of 16-bit UUID list", logrus.Fields{"length": len(rec.Payload)})
		}
	case TypeIncomplete128, TypeComplete128:
		n := len(rec.Payload) / 16
		for i := 0; i < n; i++ {
			u := make(ble.UUID, 16)
			copy(u, rec.Payload[16*i:16*(i+1)])
			f.Services128 = append(f.Services128, u)
			debug("Service class UUID", logrus.Fields{"uuid": u.String()})
		}
		if len(rec.Payload)%16 != 0 {
			f.Truncated = append(f.Truncated, rec)
			debug("Ignoring trailing bytes of 128-bit UUID list", logrus.Fields{"length": len(rec.Payload)})
		}
	case TypeShortName, TypeCompleteName:
		// a complete name always wins over a shortened one
		if f.LocalName == "" || rec.Type == TypeCompleteName {
			f.LocalName = string(rec.Payload)
		}
		debug("Local name", logrus.Fields{"name": string(rec.Payload)})
	case TypeTxPower:
		if len(rec.Payload) > 0 {
			p := int8(rec.Payload[0])
			f.TxPower = &p
		}
	case TypeServiceData16, TypeServiceData128:
		f.ServiceData = append(f.ServiceData, rec.Payload)
		dump("service data")
	case TypeManufacturerData:
		f.ManufacturerData = rec.Payload
		dump("manufacturer data")
	case TypeDeviceAddress:
		f.DeviceAddress = rec.Payload
		debug("LE Bluetooth device address", logrus.Fields{"address": hex.EncodeToString(rec.Payload)})
	default:
		f.Unknown = append(f.Unknown, rec)
		debug("Unknown AD element", nil)
		dump("unknown AD element")
	}
}
