package device

import "fmt"

// State is the lifecycle state of a Device.
type State int

const (
	// StateIdle means no connection. It is the initial state.
	StateIdle State = iota
	StateConnecting
	// StateConnected means a live connection with no operation in flight.
	StateConnected
	StateDiscovering
	StateReading
	StateWriting
	StateDisconnecting
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateDiscovering:   "discovering",
	StateReading:       "reading",
	StateWriting:       "writing",
	StateDisconnecting: "disconnecting",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Busy reports whether an operation is in flight.
func (s State) Busy() bool {
	return s != StateIdle && s != StateConnected
}

// HasConnection reports whether a device in this state owns a connection handle.
func (s State) HasConnection() bool {
	return s != StateIdle && s != StateConnecting
}

// ParseState returns the state with the given name.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return StateIdle, fmt.Errorf("unknown device state %q", name)
}
