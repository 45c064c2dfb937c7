package attest

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// NumPCRs is the number of platform configuration registers the
	// device measures into.
	NumPCRs = 4

	// PCRSize is the byte length of a single register value.
	PCRSize = 32

	// NonceSize is the byte length of a challenge nonce (256 bits).
	NonceSize = 32

	// DeviceIDSize is the wire length of a device identity field
	// (ASCII, NUL-padded).
	DeviceIDSize = 16

	// SignatureSize is the wire length of the evidence signature.
	SignatureSize = 64

	// CertificateSize is the wire length of the evidence certificate.
	CertificateSize = 128
)

// PCRBank is an immutable snapshot of the device's four measurement
// registers. A new bank replaces the old one wholesale per attestation
// cycle; banks are never patched register by register.
type PCRBank [NumPCRs][PCRSize]byte

// ParsePCRBank reads NumPCRs concatenated register values.
func ParsePCRBank(data []byte) (PCRBank, error) {
	var bank PCRBank
	if len(data) < NumPCRs*PCRSize {
		return bank, fmt.Errorf("pcr bank: got %d bytes, want %d", len(data), NumPCRs*PCRSize)
	}
	for i := 0; i < NumPCRs; i++ {
		copy(bank[i][:], data[i*PCRSize:(i+1)*PCRSize])
	}
	return bank, nil
}

// MustPCRBank builds a bank from NumPCRs hex-encoded register values.
// It panics on malformed input; intended for fixtures and tests.
func MustPCRBank(hexValues ...string) PCRBank {
	if len(hexValues) != NumPCRs {
		panic(fmt.Sprintf("pcr bank: got %d values, want %d", len(hexValues), NumPCRs))
	}
	var bank PCRBank
	for i, h := range hexValues {
		v, err := hex.DecodeString(h)
		if err != nil || len(v) != PCRSize {
			panic(fmt.Sprintf("pcr bank: bad register %d: %q", i, h))
		}
		copy(bank[i][:], v)
	}
	return bank
}

// Bytes returns the bank as NumPCRs concatenated register values.
func (b PCRBank) Bytes() []byte {
	out := make([]byte, 0, NumPCRs*PCRSize)
	for i := 0; i < NumPCRs; i++ {
		out = append(out, b[i][:]...)
	}
	return out
}

// Equal reports whether both banks hold identical register values.
func (b PCRBank) Equal(other PCRBank) bool {
	return b == other
}

// HexMap renders the bank as register index to hex digest, the shape
// the API and store use.
func (b PCRBank) HexMap() map[int]string {
	out := make(map[int]string, NumPCRs)
	for i := 0; i < NumPCRs; i++ {
		out[i] = hex.EncodeToString(b[i][:])
	}
	return out
}

// Challenge is a single-use attestation challenge. The nonce is
// outstanding from issuance until Verify consumes it.
type Challenge struct {
	ID       string
	DeviceID string
	Nonce    []byte
	IssuedAt time.Time
}

// Evidence is the signed measurement bundle a device returns in answer
// to a challenge. Signature and Certificate are carried end to end;
// the signature is only checked when the device has a provisioned
// public key, and the certificate stays opaque.
type Evidence struct {
	DeviceID    string
	Nonce       []byte
	Timestamp   uint32 // device-side clock, Unix seconds
	PCRs        PCRBank
	Signature   []byte
	Certificate []byte
}

// SignedPayload returns the byte string the device signs: the
// NUL-padded identity, nonce, little-endian timestamp, and PCR bank.
func (e *Evidence) SignedPayload() []byte {
	out := make([]byte, 0, DeviceIDSize+NonceSize+4+NumPCRs*PCRSize)

	var id [DeviceIDSize]byte
	copy(id[:], e.DeviceID)
	out = append(out, id[:]...)
	out = append(out, e.Nonce...)
	out = binary.LittleEndian.AppendUint32(out, e.Timestamp)
	out = append(out, e.PCRs.Bytes()...)
	return out
}

// Outcome is the overall attestation result.
type Outcome string

const (
	OutcomePass       Outcome = "PASS"
	OutcomeFail       Outcome = "FAIL"
	OutcomeQuarantine Outcome = "QUARANTINE"
)

// Reason identifies which verification check failed. The zero value
// means no failure.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNonceMismatch    Reason = "NONCE_MISMATCH"
	ReasonChallengeExpired Reason = "CHALLENGE_EXPIRED"
	ReasonReplayDetected   Reason = "REPLAY_DETECTED"
	ReasonSignatureInvalid Reason = "SIGNATURE_INVALID"
	ReasonPCRMismatch      Reason = "PCR_MISMATCH"
)

// Verdict is the immutable outcome of one verification. PCRMatch maps
// register index to whether it matched the golden baseline; it is
// populated whenever verification reached the measurement comparison,
// and all-true on PASS.
type Verdict struct {
	Outcome   Outcome
	Reason    Reason
	PCRMatch  map[int]bool
	Latency   time.Duration
	Timestamp time.Time
}
