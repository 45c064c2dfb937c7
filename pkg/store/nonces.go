package store

import (
	"encoding/hex"
	"fmt"
	"time"
)

// PutNonce marks a nonce outstanding.
func (s *Store) PutNonce(nonce []byte, deviceID string, issuedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO nonces (nonce, device_id, issued_at) VALUES (?, ?, ?)`,
		hex.EncodeToString(nonce), deviceID, issuedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to put nonce: %w", err)
	}
	return nil
}

// Put implements attest.NonceStore.
func (s *Store) Put(nonce []byte, deviceID string, issuedAt time.Time) error {
	return s.PutNonce(nonce, deviceID, issuedAt)
}

// Consume atomically removes the nonce, reporting whether it was
// outstanding. A single DELETE carries the check-and-remove; SQLite
// serializes writers, so two racing verifications of the same nonce
// cannot both see a row affected.
func (s *Store) Consume(nonce []byte) (bool, error) {
	result, err := s.db.Exec(
		`DELETE FROM nonces WHERE nonce = ?`, hex.EncodeToString(nonce),
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// PurgeNonces drops outstanding nonces issued before the cutoff and
// returns how many were removed.
func (s *Store) PurgeNonces(cutoff time.Time) (int, error) {
	result, err := s.db.Exec(
		`DELETE FROM nonces WHERE issued_at < ?`, cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge nonces: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// OutstandingNonces returns the number of unconsumed nonces.
func (s *Store) OutstandingNonces() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM nonces`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count nonces: %w", err)
	}
	return count, nil
}
