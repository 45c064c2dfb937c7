package transport

import (
	"os"
	"time"

	"go.bug.st/serial"
)

// serialStream adapts a serial.Port to the deadline-based read model
// the exchange loop uses. The port's own read timeout is re-armed from
// the stored deadline on every read.
type serialStream struct {
	port     serial.Port
	deadline time.Time
}

// openSerial opens the device at 8 data bits, no parity, one stop bit.
// The baud rate is the only negotiable parameter; the framing is fixed
// by the device firmware.
func openSerial(path string, baudRate int) (*serialStream, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return &serialStream{port: port}, nil
}

func (s *serialStream) Read(p []byte) (int, error) {
	if !s.deadline.IsZero() {
		remaining := time.Until(s.deadline)
		if remaining <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		s.port.SetReadTimeout(remaining)
	} else {
		s.port.SetReadTimeout(serial.NoTimeout)
	}

	n, err := s.port.Read(p)
	// The serial library signals a timed-out read as (0, nil).
	if n == 0 && err == nil && !s.deadline.IsZero() {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (s *serialStream) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialStream) Close() error {
	return s.port.Close()
}

// SetReadDeadline implements the readDeadliner interface. A zero time
// disarms the deadline.
func (s *serialStream) SetReadDeadline(t time.Time) error {
	s.deadline = t
	return nil
}

// ResetInputBuffer implements bufferResetter by flushing the kernel
// receive buffer.
func (s *serialStream) ResetInputBuffer() error {
	return s.port.ResetInputBuffer()
}

// ResetOutputBuffer implements bufferResetter by flushing the kernel
// transmit buffer.
func (s *serialStream) ResetOutputBuffer() error {
	return s.port.ResetOutputBuffer()
}
