package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		code    byte
		payload []byte
	}{
		{"empty payload", CmdGetInfo, nil},
		{"single byte", CmdGetPCRs, []byte{0x42}},
		{"nonce plus timestamp", CmdAttest, bytes.Repeat([]byte{0xAB}, 36)},
		{"response status", RespOK, []byte("FL-2847-AF")},
		{"payload containing markers", CmdGetVersion, []byte{StartMarker, EndMarker, StartMarker}},
		{"max payload", CmdGetPCRs, bytes.Repeat([]byte{0x5A}, MaxPayload)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := Encode(tc.code, tc.payload)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			frame, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if frame.Code != tc.code {
				t.Errorf("code = 0x%02X, want 0x%02X", frame.Code, tc.code)
			}
			if !bytes.Equal(frame.Payload, tc.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(frame.Payload), len(tc.payload))
			}
		})
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	_, err := Encode(CmdAttest, make([]byte, MaxPayload+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestEncodeLayout(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	buf, err := Encode(CmdGetPCRs, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(buf) != 4+len(payload)+5 {
		t.Fatalf("frame length = %d, want %d", len(buf), 4+len(payload)+5)
	}
	if buf[0] != StartMarker {
		t.Errorf("start marker = 0x%02X", buf[0])
	}
	if buf[1] != CmdGetPCRs {
		t.Errorf("code = 0x%02X", buf[1])
	}
	if got := binary.LittleEndian.Uint16(buf[2:4]); got != uint16(len(payload)) {
		t.Errorf("length field = %d, want %d", got, len(payload))
	}
	if buf[len(buf)-1] != EndMarker {
		t.Errorf("end marker = 0x%02X", buf[len(buf)-1])
	}
}

// TestChecksumConvention pins the CRC32 convention to the zlib/IEEE
// reflected polynomial. The device firmware computes the same value;
// if this test ever needs updating, the protocol has been broken.
func TestChecksumConvention(t *testing.T) {
	if got := crc32.ChecksumIEEE([]byte("123456789")); got != 0xCBF43926 {
		t.Fatalf("CRC32 check value = 0x%08X, want 0xCBF43926", got)
	}

	// Checksum(code, payload) must equal CRC32 over the concatenation.
	code := byte(CmdAttest)
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	want := crc32.ChecksumIEEE(append([]byte{code}, payload...))
	if got := Checksum(code, payload); got != want {
		t.Fatalf("Checksum = 0x%08X, want 0x%08X", got, want)
	}
}

// TestSingleByteCorruption flips each byte of the code and payload in
// turn and verifies every flip is caught as a checksum mismatch. CRC32
// detects all single-byte errors deterministically, not merely with
// high probability.
func TestSingleByteCorruption(t *testing.T) {
	payload := []byte("attestation evidence payload")
	buf, err := Encode(CmdAttest, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Byte 1 is the code; bytes 4..4+len(payload) are the payload.
	covered := append([]int{1}, seq(4, 4+len(payload))...)
	for _, i := range covered {
		corrupted := bytes.Clone(buf)
		corrupted[i] ^= 0x01

		_, err := Decode(corrupted)
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Errorf("flip at byte %d: expected ErrChecksumMismatch, got %v", i, err)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	buf, err := Encode(CmdGetPCRs, bytes.Repeat([]byte{0x11}, 128))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Every proper prefix must report truncation, never corruption.
	for _, n := range []int{0, 1, 3, 4, 10, len(buf) - 5, len(buf) - 1} {
		_, err := Decode(buf[:n])
		if !errors.Is(err, ErrFrameTruncated) {
			t.Errorf("prefix of %d bytes: expected ErrFrameTruncated, got %v", n, err)
		}
	}
}

func TestDecodeBadMarkers(t *testing.T) {
	buf, err := Encode(CmdGetInfo, []byte{0x01})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	bad := bytes.Clone(buf)
	bad[0] = 0x00
	if _, err := Decode(bad); !errors.Is(err, ErrBadStartMarker) {
		t.Errorf("expected ErrBadStartMarker, got %v", err)
	}

	bad = bytes.Clone(buf)
	bad[len(bad)-1] = 0x00
	if _, err := Decode(bad); !errors.Is(err, ErrBadEndMarker) {
		t.Errorf("expected ErrBadEndMarker, got %v", err)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	buf, err := Encode(CmdGetPCRs, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Declare a longer payload than is present: the reader runs out of
	// bytes and must report truncation.
	bad := bytes.Clone(buf)
	binary.LittleEndian.PutUint16(bad[2:4], 200)
	if _, err := Decode(bad); !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("inflated length: expected ErrFrameTruncated, got %v", err)
	}

	// Declare a shorter payload: the CRC trailer is then read from the
	// wrong offset and the checksum cannot match.
	bad = bytes.Clone(buf)
	binary.LittleEndian.PutUint16(bad[2:4], 2)
	_, err = Decode(bad)
	if !errors.Is(err, ErrChecksumMismatch) && !errors.Is(err, ErrBadEndMarker) {
		t.Errorf("deflated length: expected checksum or end marker error, got %v", err)
	}
}

func seq(lo, hi int) []int {
	out := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}
