package store

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
	"github.com/TeamMavericKX/firmlockv01/pkg/lifecycle"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "firmlock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBank() attest.PCRBank {
	return attest.MustPCRBank(
		"7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b",
		"a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1b2",
		"d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1b2c3d4e5",
		"9a8b7c6d5e4f3a2b1c0d9e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b",
	)
}

func TestDeviceRoundTrip(t *testing.T) {
	s := openTestStore(t)

	rec := &lifecycle.Record{
		DeviceID:        "FL-2847-AF",
		Status:          lifecycle.StatusHealthy,
		FirmwareVersion: "v2.1.0",
		Simulated:       true,
		PCRs:            testBank(),
		LastAttestation: time.Unix(1756100000, 0),
		LastReason:      attest.ReasonNone,
	}
	require.NoError(t, s.SaveDevice(rec))

	got, err := s.GetDevice("FL-2847-AF")
	require.NoError(t, err)
	assert.Equal(t, rec.DeviceID, got.DeviceID)
	assert.Equal(t, lifecycle.StatusHealthy, got.Status)
	assert.Equal(t, "v2.1.0", got.FirmwareVersion)
	assert.True(t, got.Simulated)
	assert.Equal(t, rec.PCRs, got.PCRs)
	assert.Equal(t, rec.LastAttestation.Unix(), got.LastAttestation.Unix())
}

func TestDeviceUpsert(t *testing.T) {
	s := openTestStore(t)

	rec := &lifecycle.Record{DeviceID: "FL-2847-AF", Status: lifecycle.StatusHealthy}
	require.NoError(t, s.SaveDevice(rec))

	rec.Status = lifecycle.StatusCompromised
	rec.LastReason = attest.ReasonPCRMismatch
	require.NoError(t, s.SaveDevice(rec))

	got, err := s.GetDevice("FL-2847-AF")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompromised, got.Status)
	assert.Equal(t, attest.ReasonPCRMismatch, got.LastReason)
}

func TestGetDeviceNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetDevice("FL-GHOST")
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}

func TestListDevices(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"FL-B", "FL-A", "FL-C"} {
		require.NoError(t, s.SaveDevice(&lifecycle.Record{DeviceID: id, Status: lifecycle.StatusHealthy}))
	}

	devices, err := s.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "FL-A", devices[0].DeviceID)
	assert.Equal(t, "FL-C", devices[2].DeviceID)
}

func TestGoldenPCRs(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveDevice(&lifecycle.Record{DeviceID: "FL-2847-AF", Status: lifecycle.StatusHealthy}))

	_, err := s.GoldenPCRs("FL-2847-AF")
	assert.ErrorIs(t, err, attest.ErrNoBaseline)

	bank := testBank()
	require.NoError(t, s.SetGoldenPCRs("FL-2847-AF", bank))

	got, err := s.GoldenPCRs("FL-2847-AF")
	require.NoError(t, err)
	assert.Equal(t, bank, got)

	// Re-provisioning replaces the baseline.
	var other attest.PCRBank
	other[0][0] = 0xFF
	require.NoError(t, s.SetGoldenPCRs("FL-2847-AF", other))
	got, err = s.GoldenPCRs("FL-2847-AF")
	require.NoError(t, err)
	assert.Equal(t, other, got)
}

func TestDevicePublicKey(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveDevice(&lifecycle.Record{DeviceID: "FL-2847-AF", Status: lifecycle.StatusHealthy}))

	// Unprovisioned and unknown devices both yield a nil key.
	pub, err := s.DevicePublicKey("FL-2847-AF")
	require.NoError(t, err)
	assert.Nil(t, pub)

	pub, err = s.DevicePublicKey("FL-GHOST")
	require.NoError(t, err)
	assert.Nil(t, pub)

	wantPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, s.SetDevicePublicKey("FL-2847-AF", wantPub))

	pub, err = s.DevicePublicKey("FL-2847-AF")
	require.NoError(t, err)
	assert.Equal(t, wantPub, pub)
}

func TestNonceConsumeOnce(t *testing.T) {
	s := openTestStore(t)

	nonce := []byte{0x01, 0x02, 0x03}
	require.NoError(t, s.Put(nonce, "FL-2847-AF", time.Now()))

	ok, err := s.Consume(nonce)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Consume(nonce)
	require.NoError(t, err)
	assert.False(t, ok, "second consume must fail")
}

func TestNonceConsumeConcurrent(t *testing.T) {
	s := openTestStore(t)

	nonce := []byte{0xAA, 0xBB}
	require.NoError(t, s.Put(nonce, "FL-2847-AF", time.Now()))

	var wg sync.WaitGroup
	results := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Consume(nonce)
			if err != nil {
				t.Errorf("Consume failed: %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	consumed := 0
	for ok := range results {
		if ok {
			consumed++
		}
	}
	assert.Equal(t, 1, consumed, "exactly one consumer must win")
}

func TestPurgeNonces(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	require.NoError(t, s.Put([]byte{0x01}, "FL-2847-AF", now.Add(-10*time.Minute)))
	require.NoError(t, s.Put([]byte{0x02}, "FL-2847-AF", now))

	purged, err := s.PurgeNonces(now.Add(-5 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	count, err := s.OutstandingNonces()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLogsAppendAndQuery(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		result := "PASS"
		if i == 2 {
			result = "FAIL"
		}
		require.NoError(t, s.AppendLog(&LogEntry{
			DeviceID:  "FL-2847-AF",
			Timestamp: time.Now(),
			EventType: "attestation",
			Result:    result,
			Reason:    "",
			LatencyMS: int64(i),
			PCRMatch:  map[int]bool{0: true, 1: i != 2, 2: true, 3: true},
		}))
	}

	entries, err := s.Logs("FL-2847-AF", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "FAIL", entries[0].Result)
	assert.False(t, entries[0].PCRMatch[1])
	assert.True(t, entries[0].PCRMatch[0])

	entries, err = s.Logs("FL-OTHER", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCollectMetrics(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveDevice(&lifecycle.Record{DeviceID: "FL-A", Status: lifecycle.StatusHealthy}))
	require.NoError(t, s.SaveDevice(&lifecycle.Record{DeviceID: "FL-B", Status: lifecycle.StatusCompromised}))
	require.NoError(t, s.AppendLog(&LogEntry{DeviceID: "FL-A", EventType: "attestation", Result: "PASS"}))
	require.NoError(t, s.AppendLog(&LogEntry{DeviceID: "FL-B", EventType: "attestation", Result: "FAIL"}))
	require.NoError(t, s.AppendLog(&LogEntry{DeviceID: "FL-B", EventType: "recovery", Result: "OK"}))
	require.NoError(t, s.Put([]byte{0x01}, "FL-A", time.Now()))

	m, err := s.CollectMetrics()
	require.NoError(t, err)
	assert.Equal(t, 2, m.Devices)
	assert.Equal(t, 1, m.DevicesByStatus["healthy"])
	assert.Equal(t, 1, m.DevicesByStatus["compromised"])
	assert.Equal(t, 2, m.Attestations)
	assert.Equal(t, 1, m.AttestationsPass)
	assert.Equal(t, 1, m.AttestationsFail)
	assert.Equal(t, 1, m.OutstandingNonces)
}
