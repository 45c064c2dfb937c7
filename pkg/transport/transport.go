package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/TeamMavericKX/firmlockv01/pkg/packet"
)

const (
	// DefaultTimeout bounds a single command/response exchange.
	DefaultTimeout = 5 * time.Second

	// DefaultSettleDelay is how long Connect waits after opening the
	// link before draining stale bytes. USB CDC-ACM devices emit boot
	// noise for a few hundred milliseconds after enumeration.
	DefaultSettleDelay = 500 * time.Millisecond

	// DefaultBaudRate matches the device firmware's UART configuration.
	DefaultBaudRate = 115200
)

// Config contains options for opening a device link.
type Config struct {
	// Port is the serial device path, e.g. /dev/ttyACM0.
	Port string

	// BaudRate overrides DefaultBaudRate.
	BaudRate int

	// Timeout overrides DefaultTimeout for each exchange.
	Timeout time.Duration

	// SettleDelay overrides DefaultSettleDelay.
	SettleDelay time.Duration

	// Stream, if non-nil, is used directly instead of opening Port.
	// Used for test injection and the in-process simulator.
	Stream io.ReadWriteCloser
}

// readDeadliner is implemented by streams that support bounded reads
// (net.Conn, net.Pipe, the serial adapter).
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// bufferResetter is implemented by streams that can discard queued
// bytes directly (serial ports).
type bufferResetter interface {
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Transport performs exclusive request/response exchanges over one
// device link. All methods are safe for concurrent use; commands are
// serialized because the underlying link has no pipelining.
type Transport struct {
	cfg Config

	// xmu serializes exchanges (single-flight per link).
	xmu sync.Mutex

	// mu guards connection state only, so Close can interrupt an
	// exchange blocked in a read.
	mu        sync.Mutex
	stream    io.ReadWriteCloser
	connected bool
	closed    bool
}

// New creates a Transport for the given link configuration. Connect
// must be called before the first exchange.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	return &Transport{cfg: cfg}
}

// Connect opens the link, waits the settle delay, and discards any
// stale bytes in both directions.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport closed")
	}
	if t.connected {
		return nil
	}

	stream := t.cfg.Stream
	if stream == nil {
		if t.cfg.Port == "" {
			return fmt.Errorf("no serial port configured")
		}
		s, err := openSerial(t.cfg.Port, t.cfg.BaudRate)
		if err != nil {
			return fmt.Errorf("open serial port %s: %w", t.cfg.Port, err)
		}
		stream = s
	}

	// Let the device finish booting before the first exchange.
	select {
	case <-time.After(t.cfg.SettleDelay):
	case <-ctx.Done():
		if t.cfg.Stream == nil {
			stream.Close()
		}
		return ctx.Err()
	}

	drain(stream)

	t.stream = stream
	t.connected = true
	return nil
}

// Connected reports whether a session is active.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// SendCommand writes one encoded frame and blocks reading exactly one
// frame back within the exchange timeout. Non-OK response status codes
// map to ErrDeviceBusy, ErrInvalidCommand, or ErrDeviceError; the
// response payload (if any) is returned alongside so callers can log
// device-reported detail. No retries happen here.
func (t *Transport) SendCommand(code byte, payload []byte) (*packet.Frame, error) {
	t.xmu.Lock()
	defer t.xmu.Unlock()

	t.mu.Lock()
	stream := t.stream
	connected := t.connected
	t.mu.Unlock()

	if !connected || stream == nil {
		return nil, ErrNotConnected
	}

	frame, err := packet.Encode(code, payload)
	if err != nil {
		return nil, err
	}
	if _, err := stream.Write(frame); err != nil {
		return nil, fmt.Errorf("write command 0x%02X: %w", code, err)
	}

	resp, err := t.readResponse(stream)
	if err != nil {
		return nil, err
	}

	switch resp.Code {
	case packet.RespOK:
		return resp, nil
	case packet.RespBusy:
		return resp, fmt.Errorf("%w (status 0x%02X)", ErrDeviceBusy, resp.Code)
	case packet.RespInvalidCmd:
		return resp, fmt.Errorf("%w (status 0x%02X)", ErrInvalidCommand, resp.Code)
	default:
		return resp, fmt.Errorf("%w (status 0x%02X)", ErrDeviceError, resp.Code)
	}
}

// readResponse reads one frame within the configured timeout. Deadline
// expiry maps to ErrTimeout; everything else passes through, so a
// closed connection surfaces as a hard I/O error.
func (t *Transport) readResponse(stream io.ReadWriteCloser) (*packet.Frame, error) {
	if d, ok := stream.(readDeadliner); ok {
		d.SetReadDeadline(time.Now().Add(t.cfg.Timeout))
		defer d.SetReadDeadline(time.Time{})
	}

	resp, err := packet.ReadFrame(stream)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return resp, nil
}

// Close tears down the link. An exchange blocked in a read observes the
// close as an I/O error.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.connected = false

	if t.stream != nil {
		err := t.stream.Close()
		t.stream = nil
		return err
	}
	return nil
}

// drain discards queued bytes in both directions. Serial ports flush
// their kernel buffers; other streams are read with a short deadline
// until empty. Streams supporting neither are left as-is.
func drain(stream io.ReadWriteCloser) {
	if r, ok := stream.(bufferResetter); ok {
		r.ResetInputBuffer()
		r.ResetOutputBuffer()
		return
	}
	d, ok := stream.(readDeadliner)
	if !ok {
		return
	}

	scratch := make([]byte, 256)
	for {
		d.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		if _, err := stream.Read(scratch); err != nil {
			break
		}
	}
	d.SetReadDeadline(time.Time{})
}
