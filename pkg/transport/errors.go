package transport

import "errors"

// Transport-level errors.
var (
	// ErrNotConnected is returned when no session is active.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrTimeout is returned when the response frame is not fully
	// received within the exchange timeout.
	ErrTimeout = errors.New("transport: response timeout")
)

// Protocol-level errors, mapped from non-OK response status codes. The
// device's raw status byte is preserved in the wrapped message.
var (
	ErrDeviceBusy     = errors.New("transport: device busy")
	ErrInvalidCommand = errors.New("transport: invalid command")
	ErrDeviceError    = errors.New("transport: device error")
)
