// Package device exposes the measurement capabilities of a FIRM-LOCK
// device as a typed interface.
//
// Two implementations exist: Client speaks the framed serial protocol
// through pkg/transport, and Simulator answers from memory for
// development and tests. Callers pick one at construction; nothing
// downstream distinguishes them.
package device

import (
	"context"
	"errors"

	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
)

// ErrMalformedResponse is returned when a device response payload is
// shorter than its fixed layout requires.
var ErrMalformedResponse = errors.New("device: malformed response payload")

// Info is the device identity block.
type Info struct {
	DeviceID        string
	FirmwareVersion string
	Simulated       bool
}

// Device is the measurement capability surface of one attached device.
// Implementations are not required to support concurrent calls; the
// underlying link is half-duplex.
type Device interface {
	// Connect establishes the session. Idempotent.
	Connect(ctx context.Context) error

	// Close tears the session down.
	Close() error

	// Info returns device identity and firmware version.
	Info() (*Info, error)

	// PCRBank reads the current measurement registers.
	PCRBank() (attest.PCRBank, error)

	// Attest submits a challenge nonce and verifier timestamp and
	// returns the full signed evidence bundle.
	Attest(nonce []byte, timestamp uint32) (*attest.Evidence, error)

	// Recover triggers restoration to the factory PCR state and waits
	// for device-side completion.
	Recover() error

	// FirmwareVersion reads the firmware version string.
	FirmwareVersion() (string, error)
}
