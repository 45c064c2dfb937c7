package store

import (
	"crypto/ed25519"
	"database/sql"
	"fmt"

	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
)

// SetGoldenPCRs records the trusted baseline for a device.
func (s *Store) SetGoldenPCRs(deviceID string, bank attest.PCRBank) error {
	_, err := s.db.Exec(
		`INSERT INTO golden_pcrs (device_id, pcr_bank) VALUES (?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
			pcr_bank = excluded.pcr_bank,
			updated_at = strftime('%s', 'now')`,
		deviceID, bankToJSON(bank),
	)
	if err != nil {
		return fmt.Errorf("failed to set golden pcrs: %w", err)
	}
	return nil
}

// GoldenPCRs returns the trusted baseline for a device, or
// attest.ErrNoBaseline when none is provisioned.
func (s *Store) GoldenPCRs(deviceID string) (attest.PCRBank, error) {
	var bankJSON string
	err := s.db.QueryRow(
		`SELECT pcr_bank FROM golden_pcrs WHERE device_id = ?`, deviceID,
	).Scan(&bankJSON)
	if err == sql.ErrNoRows {
		return attest.PCRBank{}, attest.ErrNoBaseline
	}
	if err != nil {
		return attest.PCRBank{}, fmt.Errorf("failed to load golden pcrs: %w", err)
	}
	return bankFromJSON(bankJSON)
}

// SetDevicePublicKey provisions the device's evidence-signing key.
func (s *Store) SetDevicePublicKey(deviceID string, pub ed25519.PublicKey) error {
	result, err := s.db.Exec(
		`UPDATE devices SET public_key = ?, updated_at = strftime('%s', 'now') WHERE id = ?`,
		[]byte(pub), deviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to set device public key: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("device not found: %s", deviceID)
	}
	return nil
}

// DevicePublicKey returns the device's signing key, or nil when none is
// provisioned. Unknown devices also return nil so the signature check
// is skipped rather than erroring ahead of the baseline comparison.
func (s *Store) DevicePublicKey(deviceID string) (ed25519.PublicKey, error) {
	var pub []byte
	err := s.db.QueryRow(
		`SELECT public_key FROM devices WHERE id = ?`, deviceID,
	).Scan(&pub)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device public key: %w", err)
	}
	if len(pub) == 0 {
		return nil, nil
	}
	return ed25519.PublicKey(pub), nil
}
