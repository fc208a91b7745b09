// Package radio defines the contract between the central and the radio stack.
//
// Commands on a Transport are fire-and-forget: a nil error only means the
// command was accepted. Results and completions arrive later, on the single
// Handler registered with SetHandler, as Event values. A Transport must
// deliver events to the handler from one goroutine at a time.
package radio

import (
	"errors"
	"time"
)

// Handler receives every asynchronous radio event.
type Handler func(Event)

// Transport executes radio commands.
type Transport interface {
	// SetHandler registers the event handler. A nil handler drops events.
	SetHandler(h Handler)

	Scan(duration time.Duration) error
	Connect(peer PeerIdentity) error
	Disconnect(conn uint16) error

	DiscoverServices(conn uint16) error
	DiscoverCharacteristics(conn uint16, start, end uint16) error
	DiscoverDescriptors(conn uint16, start, end uint16) error

	Read(conn uint16, valueHandle uint16) error
	Write(conn uint16, valueHandle uint16, data []byte, withResponse bool) error
	// Subscribe enables notifications (or indications) by writing the CCCD at
	// cccdHandle; values arrive as Notify/Indicate events for valueHandle.
	Subscribe(conn uint16, valueHandle, cccdHandle uint16, indicate bool) error

	Close() error
}

// Attribute handle range used for whole-database discovery.
const (
	MinHandle uint16 = 0x0001
	MaxHandle uint16 = 0xffff
)

// InvalidConn is reported with PeripheralDisconnect when a connect attempt
// fails before a connection handle was assigned.
const InvalidConn uint16 = 0xffff

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrUnknownConn     = errors.New("unknown connection handle")
)
