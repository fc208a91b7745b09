package radio

import (
	"fmt"

	"github.com/go-ble/ble"
)

// Kind discriminates radio events.
type Kind int

const (
	KindScanResult Kind = iota + 1
	KindScanDone
	KindPeripheralConnect
	KindPeripheralDisconnect
	KindServiceResult
	KindServiceDone
	KindCharacteristicResult
	KindCharacteristicDone
	KindDescriptorResult
	KindDescriptorDone
	KindReadResult
	KindReadDone
	KindWriteDone
	KindNotify
	KindIndicate
)

var kindNames = map[Kind]string{
	KindScanResult:           "scan-result",
	KindScanDone:             "scan-done",
	KindPeripheralConnect:    "peripheral-connect",
	KindPeripheralDisconnect: "peripheral-disconnect",
	KindServiceResult:        "service-result",
	KindServiceDone:          "service-done",
	KindCharacteristicResult: "characteristic-result",
	KindCharacteristicDone:   "characteristic-done",
	KindDescriptorResult:     "descriptor-result",
	KindDescriptorDone:       "descriptor-done",
	KindReadResult:           "read-result",
	KindReadDone:             "read-done",
	KindWriteDone:            "write-done",
	KindNotify:               "notify",
	KindIndicate:             "indicate",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is one asynchronous notification from the radio. The concrete types
// below are the only implementations.
type Event interface {
	Kind() Kind
}

// GATTEvent is an event scoped to a live connection.
type GATTEvent interface {
	Event
	ConnHandle() uint16
}

// AdvType is the advertising PDU type reported with a scan result.
type AdvType uint8

const (
	AdvInd AdvType = iota
	AdvDirectInd
	AdvScanInd
	AdvNonconnInd
	AdvScanRsp
)

func (t AdvType) String() string {
	switch t {
	case AdvInd:
		return "ADV_IND"
	case AdvDirectInd:
		return "ADV_DIRECT_IND"
	case AdvScanInd:
		return "ADV_SCAN_IND"
	case AdvNonconnInd:
		return "ADV_NONCONN_IND"
	case AdvScanRsp:
		return "SCAN_RSP"
	default:
		return fmt.Sprintf("adv_type(%d)", uint8(t))
	}
}

// Connectable reports whether a central may connect in response to this PDU.
func (t AdvType) Connectable() bool {
	return t == AdvInd || t == AdvDirectInd
}

type ScanResult struct {
	Peer    PeerIdentity
	AdvType AdvType
	RSSI    int
	Data    []byte
}

type ScanDone struct{}

type PeripheralConnect struct {
	Conn uint16
	Peer PeerIdentity
}

type PeripheralDisconnect struct {
	Conn uint16
	Peer PeerIdentity
}

type ServiceResult struct {
	Conn        uint16
	StartHandle uint16
	EndHandle   uint16
	UUID        ble.UUID
}

type ServiceDone struct {
	Conn   uint16
	Status int
}

type CharacteristicResult struct {
	Conn        uint16
	DefHandle   uint16
	ValueHandle uint16
	Properties  ble.Property
	UUID        ble.UUID
}

type CharacteristicDone struct {
	Conn   uint16
	Status int
}

type DescriptorResult struct {
	Conn   uint16
	Handle uint16
	UUID   ble.UUID
}

type DescriptorDone struct {
	Conn   uint16
	Status int
}

type ReadResult struct {
	Conn        uint16
	ValueHandle uint16
	Data        []byte
}

// ReadDone completes a read. Some stacks report ValueHandle as zero.
type ReadDone struct {
	Conn        uint16
	ValueHandle uint16
	Status      int
}

// WriteDone completes a write with response. Some stacks report ValueHandle as zero.
type WriteDone struct {
	Conn        uint16
	ValueHandle uint16
	Status      int
}

type Notify struct {
	Conn        uint16
	ValueHandle uint16
	Data        []byte
}

type Indicate struct {
	Conn        uint16
	ValueHandle uint16
	Data        []byte
}

func (ScanResult) Kind() Kind           { return KindScanResult }
func (ScanDone) Kind() Kind             { return KindScanDone }
func (PeripheralConnect) Kind() Kind    { return KindPeripheralConnect }
func (PeripheralDisconnect) Kind() Kind { return KindPeripheralDisconnect }
func (ServiceResult) Kind() Kind        { return KindServiceResult }
func (ServiceDone) Kind() Kind          { return KindServiceDone }
func (CharacteristicResult) Kind() Kind { return KindCharacteristicResult }
func (CharacteristicDone) Kind() Kind   { return KindCharacteristicDone }
func (DescriptorResult) Kind() Kind     { return KindDescriptorResult }
func (DescriptorDone) Kind() Kind       { return KindDescriptorDone }
func (ReadResult) Kind() Kind           { return KindReadResult }
func (ReadDone) Kind() Kind             { return KindReadDone }
func (WriteDone) Kind() Kind            { return KindWriteDone }
func (Notify) Kind() Kind               { return KindNotify }
func (Indicate) Kind() Kind             { return KindIndicate }

func (e PeripheralDisconnect) ConnHandle() uint16 { return e.Conn }
func (e ServiceResult) ConnHandle() uint16        { return e.Conn }
func (e ServiceDone) ConnHandle() uint16          { return e.Conn }
func (e CharacteristicResult) ConnHandle() uint16 { return e.Conn }
func (e CharacteristicDone) ConnHandle() uint16   { return e.Conn }
func (e DescriptorResult) ConnHandle() uint16     { return e.Conn }
func (e DescriptorDone) ConnHandle() uint16       { return e.Conn }
func (e ReadResult) ConnHandle() uint16           { return e.Conn }
func (e ReadDone) ConnHandle() uint16             { return e.Conn }
func (e WriteDone) ConnHandle() uint16            { return e.Conn }
func (e Notify) ConnHandle() uint16               { return e.Conn }
func (e Indicate) ConnHandle() uint16             { return e.Conn }
