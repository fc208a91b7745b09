package main

import (
	"errors"
	"fmt"

	"github.com/srg/gattc/internal/device"
	"github.com/srg/gattc/internal/profile"
	"github.com/srg/gattc/internal/script"
)

// FormatUserError turns an error chain into a short message for the terminal.
// Unrecognized errors are printed as is.
func FormatUserError(err error) string {
	var (
		statusErr *device.StatusError
		scriptErr *script.Error
	)
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("device rejected %s of handle 0x%04x (ATT error 0x%02x)", statusErr.Op, statusErr.Handle, statusErr.Status)
	case errors.As(err, &scriptErr):
		return scriptErr.Error()
	case errors.Is(err, device.ErrConnectFailed):
		return "could not connect to device (is it powered on and in range?)"
	case errors.Is(err, device.ErrConnectionLost):
		return "connection to device lost"
	case errors.Is(err, device.ErrNotConnected):
		return "device is not connected"
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("operation timed out: %s", err)
	case errors.Is(err, device.ErrBusy):
		return "device is busy with another operation"
	case errors.Is(err, profile.ErrDecode):
		return fmt.Sprintf("unexpected value from device: %s", err)
	}
	return err.Error()
}
