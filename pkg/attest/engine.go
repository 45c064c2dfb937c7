package attest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// DefaultFreshnessWindow is the default maximum age for evidence,
// shared by all devices. Tens of seconds covers slow serial links
// without leaving stale evidence usable for long.
const DefaultFreshnessWindow = 60 * time.Second

// ErrNoBaseline is returned by a BaselineStore when the device has no
// golden baseline provisioned.
var ErrNoBaseline = errors.New("attest: no golden baseline for device")

// NonceStore tracks outstanding (issued, unconsumed) nonces. Consume
// must be an atomic check-and-remove: under concurrent verification of
// the same nonce, exactly one caller may observe true.
type NonceStore interface {
	Put(nonce []byte, deviceID string, issuedAt time.Time) error
	Consume(nonce []byte) (bool, error)
}

// BaselineStore provides the per-device trusted reference state.
// GoldenPCRs returns ErrNoBaseline when none is provisioned.
// DevicePublicKey returns (nil, nil) when the device has no key; the
// signature check is then skipped.
type BaselineStore interface {
	GoldenPCRs(deviceID string) (PCRBank, error)
	DevicePublicKey(deviceID string) (ed25519.PublicKey, error)
}

// Engine issues challenges and verifies evidence. It is stateless
// between calls apart from the two stores, so one engine serves
// concurrent verifications for any number of devices.
type Engine struct {
	nonces    NonceStore
	baselines BaselineStore

	// FreshnessWindow bounds the accepted evidence age.
	FreshnessWindow time.Duration

	now  func() time.Time
	rand io.Reader
}

// NewEngine creates an engine with the default freshness window.
func NewEngine(nonces NonceStore, baselines BaselineStore) *Engine {
	return &Engine{
		nonces:          nonces,
		baselines:       baselines,
		FreshnessWindow: DefaultFreshnessWindow,
		now:             time.Now,
		rand:            rand.Reader,
	}
}

// IssueChallenge generates a fresh challenge for the device and marks
// its nonce outstanding.
func (e *Engine) IssueChallenge(deviceID string) (*Challenge, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(e.rand, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ch := &Challenge{
		ID:       uuid.New().String(),
		DeviceID: deviceID,
		Nonce:    nonce,
		IssuedAt: e.now(),
	}
	if err := e.nonces.Put(nonce, deviceID, ch.IssuedAt); err != nil {
		return nil, fmt.Errorf("record nonce: %w", err)
	}
	return ch, nil
}

// Verify checks evidence against the issued challenge and the device's
// golden baseline, in fixed order: nonce match, freshness, replay
// (atomically consuming the nonce), signature when a device key is
// provisioned, then per-register PCR comparison. The first failing
// check short-circuits with its reason code.
//
// Attestation failures are verdicts, not errors; the error return is
// reserved for store faults.
func (e *Engine) Verify(ev *Evidence, ch *Challenge) (*Verdict, error) {
	start := time.Now()

	// 1. The echoed nonce must be the one we issued.
	if !bytes.Equal(ev.Nonce, ch.Nonce) {
		return e.fail(start, ReasonNonceMismatch), nil
	}

	// 2. Freshness. The boundary is inclusive: evidence aged exactly
	// FreshnessWindow still passes.
	age := e.now().Unix() - int64(ev.Timestamp)
	if age > int64(e.FreshnessWindow/time.Second) {
		return e.fail(start, ReasonChallengeExpired), nil
	}

	// 3. Replay. Consuming the nonce here is the core replay defense:
	// a second verification with the same nonce always dies on this
	// check, whatever its PCR content.
	ok, err := e.nonces.Consume(ev.Nonce)
	if err != nil {
		return nil, fmt.Errorf("consume nonce: %w", err)
	}
	if !ok {
		return e.fail(start, ReasonReplayDetected), nil
	}

	// 4. Signature, for devices with a provisioned key.
	pub, err := e.baselines.DevicePublicKey(ev.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("load device key: %w", err)
	}
	if len(pub) > 0 {
		if len(ev.Signature) != ed25519.SignatureSize || !ed25519.Verify(pub, ev.SignedPayload(), ev.Signature) {
			return e.fail(start, ReasonSignatureInvalid), nil
		}
	}

	// 5. Measurement integrity against the golden baseline. A device
	// without a baseline compares against the zero bank and fails
	// unless its registers are genuinely all zero.
	golden, err := e.baselines.GoldenPCRs(ev.DeviceID)
	if err != nil && !errors.Is(err, ErrNoBaseline) {
		return nil, fmt.Errorf("load golden baseline: %w", err)
	}

	match := make(map[int]bool, NumPCRs)
	allMatch := true
	for i := 0; i < NumPCRs; i++ {
		m := ev.PCRs[i] == golden[i]
		match[i] = m
		if !m {
			allMatch = false
		}
	}

	v := &Verdict{
		Outcome:   OutcomePass,
		PCRMatch:  match,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if !allMatch {
		v.Outcome = OutcomeFail
		v.Reason = ReasonPCRMismatch
	}
	return v, nil
}

// ChallengeFor reconstructs a challenge from evidence for callers that
// did not retain the issued Challenge (the HTTP evidence path). The
// nonce-match check then trivially passes and the replay check carries
// the defense: only a nonce this engine actually issued, and has not
// yet consumed, survives Verify.
func (e *Engine) ChallengeFor(ev *Evidence) *Challenge {
	return &Challenge{
		DeviceID: ev.DeviceID,
		Nonce:    ev.Nonce,
		IssuedAt: time.Unix(int64(ev.Timestamp), 0),
	}
}

func (e *Engine) fail(start time.Time, reason Reason) *Verdict {
	return &Verdict{
		Outcome:   OutcomeFail,
		Reason:    reason,
		PCRMatch:  map[int]bool{},
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
}
