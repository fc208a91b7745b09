// Package advdata decodes and encodes BLE advertising payloads.
//
// An advertising payload is a sequence of AD structures, each laid out as
//
//	[length][type][payload ... (length-1 bytes)]
//
// where length counts the type byte plus the payload. Records iterates the
// structures lazily, Parse extracts the fields the central cares about, and
// Builder produces payloads in the same format.
package advdata

import (
	"errors"
	"fmt"
	"iter"
)

// Type is an AD structure type as assigned by the Bluetooth SIG.
type Type byte

const (
	TypeFlags            Type = 0x01
	TypeIncomplete16     Type = 0x02
	TypeComplete16       Type = 0x03
	TypeIncomplete128    Type = 0x06
	TypeComplete128      Type = 0x07
	TypeShortName        Type = 0x08
	TypeCompleteName     Type = 0x09
	TypeTxPower          Type = 0x0a
	TypeServiceData16    Type = 0x16
	TypeDeviceAddress    Type = 0x1b
	TypeServiceData128   Type = 0x21
	TypeManufacturerData Type = 0xff
)

var typeNames = map[Type]string{
	TypeFlags:            "flags",
	TypeIncomplete16:     "incomplete 16-bit service UUIDs",
	TypeComplete16:       "complete 16-bit service UUIDs",
	TypeIncomplete128:    "incomplete 128-bit service UUIDs",
	TypeComplete128:      "complete 128-bit service UUIDs",
	TypeShortName:        "shortened local name",
	TypeCompleteName:     "complete local name",
	TypeTxPower:          "tx power level",
	TypeServiceData16:    "service data",
	TypeDeviceAddress:    "LE device address",
	TypeServiceData128:   "service data (128-bit)",
	TypeManufacturerData: "manufacturer data",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown AD type 0x%02x", byte(t))
}

// Known reports whether the parser extracts a field from this type.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Record is a single AD structure. Payload aliases the parsed buffer.
type Record struct {
	Offset  int
	Type    Type
	Payload []byte
}

// Size returns the number of buffer bytes the record occupies, length byte included.
func (r Record) Size() int {
	return 2 + len(r.Payload)
}

// ErrMalformedAdvertisement is matched by every MalformedError.
var ErrMalformedAdvertisement = errors.New("malformed advertisement")

// MalformedError reports an AD structure whose declared length runs past the
// end of the buffer.
type MalformedError struct {
	Offset    int // offset of the length byte
	Length    int // declared length
	Remaining int // bytes available after the length byte
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: record at offset %d declares %d bytes, only %d remain",
		ErrMalformedAdvertisement, e.Offset, e.Length, e.Remaining)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedAdvertisement
}

// Records returns a single-pass iterator over the AD structures in data.
//
// The cursor advances by exactly 1+length after every record whether or not
// the type is known. A zero length byte is padding: the cursor steps over it
// and iteration continues with the next byte. A record that would overrun the
// buffer yields a *MalformedError as its final element.
func Records(data []byte) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		off := 0
		for off < len(data) {
			length := int(data[off])
			if length == 0 {
				off++
				continue
			}
			remaining := len(data) - off - 1
			if length > remaining {
				yield(Record{Offset: off}, &MalformedError{Offset: off, Length: length, Remaining: remaining})
				return
			}
			rec := Record{
				Offset:  off,
				Type:    Type(data[off+1]),
				Payload: data[off+2 : off+1+length],
			}
			if !yield(rec, nil) {
				return
			}
			off += 1 + length
		}
	}
}
