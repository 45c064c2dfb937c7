package device

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"sync"

	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
)

// Demo identity used when no hardware is attached.
const (
	DemoDeviceID        = "FL-2847-AF"
	DemoFirmwareVersion = "v2.1.0"
)

// DemoGoldenPCRs is the factory measurement baseline of the demo
// device.
func DemoGoldenPCRs() attest.PCRBank {
	return attest.MustPCRBank(
		"7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b",
		"a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1b2",
		"d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1b2c3d4e5",
		"9a8b7c6d5e4f3a2b1c0d9e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b",
	)
}

// tamperedPCR1 is the value SimulateAttack plants in register 1,
// standing in for a modified bootloader measurement.
const tamperedPCR1 = "e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1b2c3d4e5f6"

// Simulator is an in-memory Device. It answers every capability call
// from its own state, supports deliberate tampering for demos and
// tests, and restores the golden bank on Recover.
type Simulator struct {
	mu sync.Mutex

	id      string
	version [3]byte
	golden  attest.PCRBank
	current attest.PCRBank

	signingKey ed25519.PrivateKey
}

// SimOption configures a Simulator.
type SimOption func(*Simulator)

// WithIdentity overrides the demo identity.
func WithIdentity(id string, major, minor, patch byte) SimOption {
	return func(s *Simulator) {
		s.id = id
		s.version = [3]byte{major, minor, patch}
	}
}

// WithGoldenPCRs overrides the factory baseline.
func WithGoldenPCRs(bank attest.PCRBank) SimOption {
	return func(s *Simulator) {
		s.golden = bank
		s.current = bank
	}
}

// WithSigningKey makes the simulator sign its evidence. Without a key
// the signature field is left zeroed, matching unprovisioned hardware.
func WithSigningKey(key ed25519.PrivateKey) SimOption {
	return func(s *Simulator) { s.signingKey = key }
}

// NewSimulator builds a simulator with the demo identity and factory
// baseline.
func NewSimulator(opts ...SimOption) *Simulator {
	s := &Simulator{
		id:      DemoDeviceID,
		version: [3]byte{2, 1, 0},
		golden:  DemoGoldenPCRs(),
	}
	s.current = s.golden
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect is a no-op; the simulator is always reachable.
func (s *Simulator) Connect(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Simulator) Close() error { return nil }

// Info returns the simulated identity block.
func (s *Simulator) Info() (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Info{
		DeviceID:        s.id,
		FirmwareVersion: formatVersion(s.version[:]),
		Simulated:       true,
	}, nil
}

// PCRBank returns the current register state.
func (s *Simulator) PCRBank() (attest.PCRBank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

// Attest builds evidence from the current register state, echoing the
// challenge nonce and timestamp. With a signing key configured the
// evidence carries a valid signature over the signed payload.
func (s *Simulator) Attest(nonce []byte, timestamp uint32) (*attest.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := &attest.Evidence{
		DeviceID:    s.id,
		Nonce:       append([]byte(nil), nonce...),
		Timestamp:   timestamp,
		PCRs:        s.current,
		Signature:   make([]byte, attest.SignatureSize),
		Certificate: make([]byte, attest.CertificateSize),
	}
	if s.signingKey != nil {
		ev.Signature = ed25519.Sign(s.signingKey, ev.SignedPayload())
	}
	return ev, nil
}

// Recover restores the golden register state.
func (s *Simulator) Recover() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.golden
	return nil
}

// FirmwareVersion returns the simulated firmware version.
func (s *Simulator) FirmwareVersion() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return formatVersion(s.version[:]), nil
}

// SimulateAttack plants a tampered measurement in register 1, the
// bootloader slot. The next attestation fails PCR comparison until
// Recover restores the baseline.
func (s *Simulator) SimulateAttack() {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, _ := hex.DecodeString(tamperedPCR1)
	copy(s.current[1][:], v)
}

// Golden returns the factory baseline, used when seeding the store.
func (s *Simulator) Golden() attest.PCRBank {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.golden
}
