package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Frame delimiters. Both are outside the valid command code range so a
// marker byte can never be mistaken for a code.
const (
	StartMarker byte = 0xFA
	EndMarker   byte = 0xFB
)

// Command codes understood by the device.
const (
	CmdGetInfo    byte = 0x01
	CmdGetPCRs    byte = 0x02
	CmdAttest     byte = 0x03
	CmdRecover    byte = 0x04
	CmdGetVersion byte = 0x05
)

// Response status codes returned by the device.
const (
	RespOK         byte = 0x00
	RespError      byte = 0x01
	RespInvalidCmd byte = 0x02
	RespBusy       byte = 0x03
)

const (
	// MaxPayload is the largest payload the 16-bit length field can carry.
	MaxPayload = 0xFFFF

	// headerSize is start + code + length.
	headerSize = 4
	// trailerSize is crc32 + end.
	trailerSize = 5
)

// Codec errors. ErrFrameTruncated means the input ended before the
// declared frame did; callers should treat it as "read more" rather
// than "corrupt data".
var (
	ErrPayloadTooLarge  = errors.New("packet: payload exceeds 16-bit length field")
	ErrFrameTruncated   = errors.New("packet: frame truncated")
	ErrBadStartMarker   = errors.New("packet: bad start marker")
	ErrBadEndMarker     = errors.New("packet: bad end marker")
	ErrChecksumMismatch = errors.New("packet: checksum mismatch")
)

// Frame is a decoded link frame.
type Frame struct {
	Code    byte
	Payload []byte
}

// Checksum computes the frame CRC32 over the code byte and payload.
func Checksum(code byte, payload []byte) uint32 {
	crc := crc32.ChecksumIEEE([]byte{code})
	return crc32.Update(crc, crc32.IEEETable, payload)
}

// Encode builds a complete frame for the given code and payload.
func Encode(code byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, 0, headerSize+len(payload)+trailerSize)
	buf = append(buf, StartMarker, code)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	buf = binary.LittleEndian.AppendUint32(buf, Checksum(code, payload))
	buf = append(buf, EndMarker)
	return buf, nil
}

// Decode parses a single frame from buf. It validates the start marker,
// reads exactly the declared payload length, then checks the CRC32 and
// end marker. A buffer shorter than the declared frame yields
// ErrFrameTruncated so callers can distinguish a short read from
// corruption.
func Decode(buf []byte) (*Frame, error) {
	return ReadFrame(bytes.NewReader(buf))
}

// ReadFrame reads one frame from r. Short reads surface as
// ErrFrameTruncated; I/O errors other than EOF pass through unchanged.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, truncated(err)
	}
	if header[0] != StartMarker {
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadStartMarker, header[0])
	}

	code := header[1]
	length := binary.LittleEndian.Uint16(header[2:4])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, truncated(err)
	}

	var trailer [trailerSize]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return nil, truncated(err)
	}
	if trailer[4] != EndMarker {
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadEndMarker, trailer[4])
	}

	received := binary.LittleEndian.Uint32(trailer[:4])
	if computed := Checksum(code, payload); received != computed {
		return nil, fmt.Errorf("%w: got 0x%08X, want 0x%08X", ErrChecksumMismatch, received, computed)
	}

	return &Frame{Code: code, Payload: payload}, nil
}

// truncated maps end-of-input conditions to ErrFrameTruncated and
// passes real I/O errors through.
func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrFrameTruncated
	}
	return err
}
