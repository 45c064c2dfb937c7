package attest

import (
	"encoding/hex"
	"sync"
	"time"
)

// MemoryNonceStore is a mutex-guarded in-memory NonceStore. Suitable
// for a single verifier instance; the sqlite-backed store provides the
// persistent variant.
type MemoryNonceStore struct {
	mu      sync.Mutex
	entries map[string]nonceEntry
}

type nonceEntry struct {
	deviceID string
	issuedAt time.Time
}

// NewMemoryNonceStore creates an empty nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{entries: make(map[string]nonceEntry)}
}

// Put marks a nonce outstanding.
func (s *MemoryNonceStore) Put(nonce []byte, deviceID string, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[hex.EncodeToString(nonce)] = nonceEntry{deviceID: deviceID, issuedAt: issuedAt}
	return nil
}

// Consume atomically removes the nonce, reporting whether it was
// outstanding. The check and the removal happen under one lock so two
// racing verifications cannot both observe the nonce as present.
func (s *MemoryNonceStore) Consume(nonce []byte) (bool, error) {
	key := hex.EncodeToString(nonce)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// PurgeOlderThan drops outstanding nonces issued before the cutoff and
// returns how many were removed. Run periodically so abandoned
// challenges do not accumulate.
func (s *MemoryNonceStore) PurgeOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, entry := range s.entries {
		if entry.issuedAt.Before(cutoff) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

// Outstanding returns the number of unconsumed nonces.
func (s *MemoryNonceStore) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
