package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
)

type memStore struct {
	records map[string]*Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*Record)}
}

func (s *memStore) GetDevice(deviceID string) (*Record, error) {
	rec, ok := s.records[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) SaveDevice(rec *Record) error {
	cp := *rec
	s.records[rec.DeviceID] = &cp
	return nil
}

func seedDevice(t *testing.T, m *Manager, id string) *Record {
	t.Helper()
	rec, err := m.Register(RecordSeed{DeviceID: id, FirmwareVersion: "v2.1.0"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return rec
}

func passVerdict() *attest.Verdict {
	return &attest.Verdict{
		Outcome:   attest.OutcomePass,
		PCRMatch:  map[int]bool{0: true, 1: true, 2: true, 3: true},
		Timestamp: time.Now(),
	}
}

func failVerdict(reason attest.Reason) *attest.Verdict {
	return &attest.Verdict{
		Outcome:   attest.OutcomeFail,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func TestApplyVerdictUnknownDevice(t *testing.T) {
	m := NewManager(newMemStore(), DefaultPolicy())
	_, err := m.ApplyVerdict("FL-GHOST", passVerdict(), attest.PCRBank{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyVerdictPass(t *testing.T) {
	m := NewManager(newMemStore(), DefaultPolicy())
	seedDevice(t, m, "FL-2847-AF")

	var bank attest.PCRBank
	bank[0][0] = 0x7A

	rec, err := m.ApplyVerdict("FL-2847-AF", passVerdict(), bank)
	if err != nil {
		t.Fatalf("ApplyVerdict failed: %v", err)
	}
	if rec.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", rec.Status)
	}
	if rec.LastAttestation.IsZero() {
		t.Error("LastAttestation not set")
	}
	if rec.PCRs != bank {
		t.Error("observed bank not recorded")
	}
	if rec.LastReason != attest.ReasonNone {
		t.Errorf("LastReason = %s, want empty", rec.LastReason)
	}
}

func TestApplyVerdictFail(t *testing.T) {
	m := NewManager(newMemStore(), DefaultPolicy())
	seedDevice(t, m, "FL-2847-AF")

	rec, err := m.ApplyVerdict("FL-2847-AF", failVerdict(attest.ReasonPCRMismatch), attest.PCRBank{})
	if err != nil {
		t.Fatalf("ApplyVerdict failed: %v", err)
	}
	if rec.Status != StatusCompromised {
		t.Errorf("status = %s, want compromised", rec.Status)
	}
	if rec.LastReason != attest.ReasonPCRMismatch {
		t.Errorf("LastReason = %s", rec.LastReason)
	}
}

func TestQuarantineEscalation(t *testing.T) {
	m := NewManager(newMemStore(), Policy{FailureThreshold: 3, FailureWindow: 5 * time.Minute})
	seedDevice(t, m, "FL-2847-AF")

	for i := 0; i < 2; i++ {
		rec, err := m.ApplyVerdict("FL-2847-AF", failVerdict(attest.ReasonPCRMismatch), attest.PCRBank{})
		if err != nil {
			t.Fatalf("ApplyVerdict %d failed: %v", i, err)
		}
		if rec.Status != StatusCompromised {
			t.Fatalf("fail %d: status = %s, want compromised", i+1, rec.Status)
		}
	}

	rec, err := m.ApplyVerdict("FL-2847-AF", failVerdict(attest.ReasonPCRMismatch), attest.PCRBank{})
	if err != nil {
		t.Fatalf("ApplyVerdict failed: %v", err)
	}
	if rec.Status != StatusQuarantined {
		t.Errorf("third failure: status = %s, want quarantined", rec.Status)
	}
}

func TestQuarantineWindowExpiry(t *testing.T) {
	m := NewManager(newMemStore(), Policy{FailureThreshold: 3, FailureWindow: 5 * time.Minute})
	seedDevice(t, m, "FL-2847-AF")

	clock := time.Now()
	m.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if _, err := m.ApplyVerdict("FL-2847-AF", failVerdict(attest.ReasonPCRMismatch), attest.PCRBank{}); err != nil {
			t.Fatalf("ApplyVerdict failed: %v", err)
		}
	}

	// The first two failures age out of the window.
	clock = clock.Add(6 * time.Minute)

	rec, err := m.ApplyVerdict("FL-2847-AF", failVerdict(attest.ReasonPCRMismatch), attest.PCRBank{})
	if err != nil {
		t.Fatalf("ApplyVerdict failed: %v", err)
	}
	if rec.Status != StatusCompromised {
		t.Errorf("status = %s, want compromised (stale failures must not count)", rec.Status)
	}
}

func TestPassClearsFailureHistory(t *testing.T) {
	m := NewManager(newMemStore(), Policy{FailureThreshold: 3, FailureWindow: 5 * time.Minute})
	seedDevice(t, m, "FL-2847-AF")

	for i := 0; i < 2; i++ {
		if _, err := m.ApplyVerdict("FL-2847-AF", failVerdict(attest.ReasonPCRMismatch), attest.PCRBank{}); err != nil {
			t.Fatalf("ApplyVerdict failed: %v", err)
		}
	}
	if _, err := m.ApplyVerdict("FL-2847-AF", passVerdict(), attest.PCRBank{}); err != nil {
		t.Fatalf("ApplyVerdict failed: %v", err)
	}

	// Two more failures after the pass must not quarantine.
	var rec *Record
	var err error
	for i := 0; i < 2; i++ {
		rec, err = m.ApplyVerdict("FL-2847-AF", failVerdict(attest.ReasonPCRMismatch), attest.PCRBank{})
		if err != nil {
			t.Fatalf("ApplyVerdict failed: %v", err)
		}
	}
	if rec.Status != StatusCompromised {
		t.Errorf("status = %s, want compromised", rec.Status)
	}
}

func TestQuarantinedStaysQuarantinedOnPass(t *testing.T) {
	m := NewManager(newMemStore(), Policy{FailureThreshold: 1, FailureWindow: time.Minute})
	seedDevice(t, m, "FL-2847-AF")

	rec, err := m.ApplyVerdict("FL-2847-AF", failVerdict(attest.ReasonPCRMismatch), attest.PCRBank{})
	if err != nil {
		t.Fatalf("ApplyVerdict failed: %v", err)
	}
	if rec.Status != StatusQuarantined {
		t.Fatalf("status = %s, want quarantined", rec.Status)
	}

	rec, err = m.ApplyVerdict("FL-2847-AF", passVerdict(), attest.PCRBank{})
	if err != nil {
		t.Fatalf("ApplyVerdict failed: %v", err)
	}
	if rec.Status != StatusQuarantined {
		t.Errorf("pass released quarantine: status = %s", rec.Status)
	}
}

func TestCompleteRecovery(t *testing.T) {
	m := NewManager(newMemStore(), Policy{FailureThreshold: 1, FailureWindow: time.Minute})
	seedDevice(t, m, "FL-2847-AF")

	if _, err := m.ApplyVerdict("FL-2847-AF", failVerdict(attest.ReasonPCRMismatch), attest.PCRBank{}); err != nil {
		t.Fatalf("ApplyVerdict failed: %v", err)
	}

	var golden attest.PCRBank
	golden[0][0] = 0x7A

	rec, err := m.CompleteRecovery("FL-2847-AF", golden)
	if err != nil {
		t.Fatalf("CompleteRecovery failed: %v", err)
	}
	if rec.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", rec.Status)
	}
	if rec.PCRs != golden {
		t.Error("bank not reset to golden")
	}
	if rec.FirmwareVersion != "v2.1.0-factory" {
		t.Errorf("firmware = %q, want v2.1.0-factory", rec.FirmwareVersion)
	}

	// Recovering again must not stack the suffix.
	rec, err = m.CompleteRecovery("FL-2847-AF", golden)
	if err != nil {
		t.Fatalf("second CompleteRecovery failed: %v", err)
	}
	if rec.FirmwareVersion != "v2.1.0-factory" {
		t.Errorf("firmware = %q after second recovery", rec.FirmwareVersion)
	}

	// Recovery also reset the failure counter.
	rec, err = m.ApplyVerdict("FL-2847-AF", failVerdict(attest.ReasonPCRMismatch), attest.PCRBank{})
	if err != nil {
		t.Fatalf("ApplyVerdict failed: %v", err)
	}
	if rec.Status != StatusQuarantined {
		t.Errorf("threshold 1: status = %s, want quarantined", rec.Status)
	}
}

func TestMarkOfflineAndReturn(t *testing.T) {
	m := NewManager(newMemStore(), DefaultPolicy())
	seedDevice(t, m, "FL-2847-AF")

	rec, err := m.MarkOffline("FL-2847-AF")
	if err != nil {
		t.Fatalf("MarkOffline failed: %v", err)
	}
	if rec.Status != StatusOffline {
		t.Errorf("status = %s, want offline", rec.Status)
	}

	rec, err = m.ApplyVerdict("FL-2847-AF", passVerdict(), attest.PCRBank{})
	if err != nil {
		t.Fatalf("ApplyVerdict failed: %v", err)
	}
	if rec.Status != StatusHealthy {
		t.Errorf("status = %s after pass, want healthy", rec.Status)
	}
}

func TestRegisterKeepsExistingStatus(t *testing.T) {
	m := NewManager(newMemStore(), Policy{FailureThreshold: 1, FailureWindow: time.Minute})
	seedDevice(t, m, "FL-2847-AF")

	if _, err := m.ApplyVerdict("FL-2847-AF", failVerdict(attest.ReasonPCRMismatch), attest.PCRBank{}); err != nil {
		t.Fatalf("ApplyVerdict failed: %v", err)
	}

	rec, err := m.Register(RecordSeed{DeviceID: "FL-2847-AF", FirmwareVersion: "v2.1.0"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if rec.Status != StatusQuarantined {
		t.Errorf("re-register changed status to %s", rec.Status)
	}
}
