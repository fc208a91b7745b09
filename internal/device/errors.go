package device

import (
	"errors"
	"fmt"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	ConnectFailed    ConnectionState = "connect_failed"
	ConnectionLost   ConnectionState = "connection_lost"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrConnectFailed    = &ConnectionError{State: ConnectFailed}
	ErrConnectionLost   = &ConnectionError{State: ConnectionLost}
)

// Operation errors
var (
	// ErrTimeout is returned when a blocking wait exceeds its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrReadFailed is returned when a read completes without a captured value.
	ErrReadFailed = errors.New("read failed")
	// ErrBusy is returned when an operation is issued while another is in flight.
	ErrBusy = errors.New("device busy")
	// ErrNotDiscovered is returned when an operation needs attributes that were not discovered.
	ErrNotDiscovered = errors.New("attribute not discovered")
	// ErrNotSupported is returned when a characteristic lacks the needed property.
	ErrNotSupported = errors.New("not supported by characteristic")
	// ErrGATTStatus matches every StatusError.
	ErrGATTStatus = errors.New("gatt error status")
)

// StatusError reports a non-zero status on a done event.
type StatusError struct {
	Op     string
	Handle uint16
	Status int
}

func (e *StatusError) Error() string {
	if e.Handle != 0 {
		return fmt.Sprintf("%s 0x%04x failed with status 0x%02x", e.Op, e.Handle, e.Status)
	}
	return fmt.Sprintf("%s failed with status 0x%02x", e.Op, e.Status)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrGATTStatus
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
