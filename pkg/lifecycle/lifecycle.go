// Package lifecycle owns device records and their status transitions.
//
// Verification verdicts come from pkg/attest; this package decides what
// they mean for the device: healthy, compromised, quarantined, or
// offline. Escalation policy (repeated failures becoming quarantine)
// lives here so the verification engine stays free of fleet policy.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
)

// Status is the lifecycle state of a device.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusCompromised Status = "compromised"
	StatusQuarantined Status = "quarantined"
	StatusOffline     Status = "offline"
)

// ErrNotFound is returned by a RecordStore for an unregistered device.
var ErrNotFound = errors.New("lifecycle: device not found")

// Record is the fleet's view of one device.
type Record struct {
	DeviceID        string
	Status          Status
	FirmwareVersion string
	Simulated       bool

	// PCRs is the last observed register bank.
	PCRs attest.PCRBank

	// LastAttestation is the time of the last verification, pass or
	// fail. Zero until the device first attests.
	LastAttestation time.Time

	// LastReason is the failure reason of the most recent verdict,
	// empty after a pass.
	LastReason attest.Reason
}

// RecordStore persists device records. Get returns ErrNotFound for an
// unknown device.
type RecordStore interface {
	GetDevice(deviceID string) (*Record, error)
	SaveDevice(rec *Record) error
}

// Policy controls escalation from compromised to quarantined.
type Policy struct {
	// FailureThreshold is the number of failed attestations within
	// FailureWindow that triggers quarantine.
	FailureThreshold int

	// FailureWindow bounds how far back failures count.
	FailureWindow time.Duration
}

// DefaultPolicy quarantines after 3 failures inside 5 minutes.
func DefaultPolicy() Policy {
	return Policy{FailureThreshold: 3, FailureWindow: 5 * time.Minute}
}

// Manager applies verdicts and recovery outcomes to device records.
// Transitions for one device are serialized with a per-device lock, so
// concurrent verdicts cannot interleave a read-modify-write.
type Manager struct {
	store  RecordStore
	policy Policy

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	failures map[string][]time.Time

	now func() time.Time
}

// NewManager builds a manager over the given record store.
func NewManager(store RecordStore, policy Policy) *Manager {
	if policy.FailureThreshold <= 0 {
		policy = DefaultPolicy()
	}
	return &Manager{
		store:    store,
		policy:   policy,
		locks:    make(map[string]*sync.Mutex),
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Register creates or refreshes a device record from discovery info,
// leaving the status of an already-known device untouched.
func (m *Manager) Register(info RecordSeed) (*Record, error) {
	unlock := m.lockDevice(info.DeviceID)
	defer unlock()

	rec, err := m.store.GetDevice(info.DeviceID)
	if errors.Is(err, ErrNotFound) {
		rec = &Record{
			DeviceID: info.DeviceID,
			Status:   StatusHealthy,
		}
	} else if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	rec.FirmwareVersion = info.FirmwareVersion
	rec.Simulated = info.Simulated
	if info.PCRs != nil {
		rec.PCRs = *info.PCRs
	}
	if rec.Status == StatusOffline {
		rec.Status = StatusHealthy
	}
	if err := m.store.SaveDevice(rec); err != nil {
		return nil, fmt.Errorf("save device: %w", err)
	}
	return rec, nil
}

// RecordSeed carries discovery data into Register.
type RecordSeed struct {
	DeviceID        string
	FirmwareVersion string
	Simulated       bool
	PCRs            *attest.PCRBank
}

// ApplyVerdict transitions the device according to a verification
// verdict and the register bank observed in the evidence. The returned
// record reflects the stored state; a quarantined device that passes
// stays quarantined until an explicit recovery.
func (m *Manager) ApplyVerdict(deviceID string, v *attest.Verdict, observed attest.PCRBank) (*Record, error) {
	unlock := m.lockDevice(deviceID)
	defer unlock()

	rec, err := m.store.GetDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	rec.LastAttestation = v.Timestamp
	rec.PCRs = observed

	switch v.Outcome {
	case attest.OutcomePass:
		rec.LastReason = attest.ReasonNone
		m.clearFailures(deviceID)
		if rec.Status != StatusQuarantined {
			rec.Status = StatusHealthy
		}
	default:
		rec.LastReason = v.Reason
		rec.Status = StatusCompromised
		if m.recordFailure(deviceID) >= m.policy.FailureThreshold {
			rec.Status = StatusQuarantined
		}
	}

	if err := m.store.SaveDevice(rec); err != nil {
		return nil, fmt.Errorf("save device: %w", err)
	}
	return rec, nil
}

// CompleteRecovery transitions the device back to healthy after a
// device-side factory restoration: bank reset to golden, firmware
// version tagged as factory state, failure history cleared.
func (m *Manager) CompleteRecovery(deviceID string, golden attest.PCRBank) (*Record, error) {
	unlock := m.lockDevice(deviceID)
	defer unlock()

	rec, err := m.store.GetDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	rec.Status = StatusHealthy
	rec.PCRs = golden
	rec.LastReason = attest.ReasonNone
	if !strings.HasSuffix(rec.FirmwareVersion, "-factory") {
		rec.FirmwareVersion += "-factory"
	}
	m.clearFailures(deviceID)

	if err := m.store.SaveDevice(rec); err != nil {
		return nil, fmt.Errorf("save device: %w", err)
	}
	return rec, nil
}

// MarkOffline records a lost link. The next successful attestation
// brings the device back.
func (m *Manager) MarkOffline(deviceID string) (*Record, error) {
	unlock := m.lockDevice(deviceID)
	defer unlock()

	rec, err := m.store.GetDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	rec.Status = StatusOffline
	if err := m.store.SaveDevice(rec); err != nil {
		return nil, fmt.Errorf("save device: %w", err)
	}
	return rec, nil
}

// lockDevice acquires the per-device transition lock.
func (m *Manager) lockDevice(deviceID string) func() {
	m.mu.Lock()
	l, ok := m.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[deviceID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// recordFailure appends a failure timestamp and returns how many fall
// inside the policy window.
func (m *Manager) recordFailure(deviceID string) int {
	now := m.now()
	cutoff := now.Add(-m.policy.FailureWindow)

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.failures[deviceID][:0]
	for _, ts := range m.failures[deviceID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	m.failures[deviceID] = kept
	return len(kept)
}

func (m *Manager) clearFailures(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, deviceID)
}
