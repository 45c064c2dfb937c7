package store

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
	"github.com/TeamMavericKX/firmlockv01/pkg/lifecycle"
)

// GetDevice retrieves one device record. Returns lifecycle.ErrNotFound
// for an unregistered device.
func (s *Store) GetDevice(deviceID string) (*lifecycle.Record, error) {
	row := s.db.QueryRow(
		`SELECT id, status, firmware_version, simulated, pcr_bank, last_attestation, last_reason FROM devices WHERE id = ?`,
		deviceID,
	)

	var rec lifecycle.Record
	var simulated int
	var bankJSON string
	var lastAttestation sql.NullInt64
	var lastReason string

	err := row.Scan(&rec.DeviceID, &rec.Status, &rec.FirmwareVersion, &simulated, &bankJSON, &lastAttestation, &lastReason)
	if err == sql.ErrNoRows {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan device: %w", err)
	}

	rec.Simulated = simulated != 0
	rec.LastReason = attest.Reason(lastReason)
	if lastAttestation.Valid {
		rec.LastAttestation = time.Unix(lastAttestation.Int64, 0)
	}
	if bankJSON != "" {
		bank, err := bankFromJSON(bankJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode pcr bank: %w", err)
		}
		rec.PCRs = bank
	}
	return &rec, nil
}

// SaveDevice inserts or updates a device record.
func (s *Store) SaveDevice(rec *lifecycle.Record) error {
	simulated := 0
	if rec.Simulated {
		simulated = 1
	}
	var lastAttestation interface{}
	if !rec.LastAttestation.IsZero() {
		lastAttestation = rec.LastAttestation.Unix()
	}

	_, err := s.db.Exec(
		`INSERT INTO devices (id, status, firmware_version, simulated, pcr_bank, last_attestation, last_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			firmware_version = excluded.firmware_version,
			simulated = excluded.simulated,
			pcr_bank = excluded.pcr_bank,
			last_attestation = excluded.last_attestation,
			last_reason = excluded.last_reason,
			updated_at = strftime('%s', 'now')`,
		rec.DeviceID, string(rec.Status), rec.FirmwareVersion, simulated,
		bankToJSON(rec.PCRs), lastAttestation, string(rec.LastReason),
	)
	if err != nil {
		return fmt.Errorf("failed to save device: %w", err)
	}
	return nil
}

// ListDevices returns all registered devices ordered by id.
func (s *Store) ListDevices() ([]*lifecycle.Record, error) {
	rows, err := s.db.Query(
		`SELECT id, status, firmware_version, simulated, pcr_bank, last_attestation, last_reason FROM devices ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var records []*lifecycle.Record
	for rows.Next() {
		var rec lifecycle.Record
		var simulated int
		var bankJSON string
		var lastAttestation sql.NullInt64
		var lastReason string

		if err := rows.Scan(&rec.DeviceID, &rec.Status, &rec.FirmwareVersion, &simulated, &bankJSON, &lastAttestation, &lastReason); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		rec.Simulated = simulated != 0
		rec.LastReason = attest.Reason(lastReason)
		if lastAttestation.Valid {
			rec.LastAttestation = time.Unix(lastAttestation.Int64, 0)
		}
		if bankJSON != "" {
			bank, err := bankFromJSON(bankJSON)
			if err != nil {
				return nil, fmt.Errorf("failed to decode pcr bank: %w", err)
			}
			rec.PCRs = bank
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// RemoveDevice deletes a device and its baseline.
func (s *Store) RemoveDevice(deviceID string) error {
	result, err := s.db.Exec(`DELETE FROM devices WHERE id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to remove device: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

func bankToJSON(bank attest.PCRBank) string {
	data, _ := json.Marshal(bank.HexMap())
	return string(data)
}

func bankFromJSON(raw string) (attest.PCRBank, error) {
	var hexMap map[int]string
	if err := json.Unmarshal([]byte(raw), &hexMap); err != nil {
		return attest.PCRBank{}, err
	}
	values := make([]string, attest.NumPCRs)
	for i := range values {
		values[i] = hexMap[i]
	}

	data := make([]byte, 0, attest.NumPCRs*attest.PCRSize)
	for i, h := range values {
		v, err := hex.DecodeString(h)
		if err != nil || len(v) != attest.PCRSize {
			return attest.PCRBank{}, fmt.Errorf("register %d: bad value %q", i, h)
		}
		data = append(data, v...)
	}
	return attest.ParsePCRBank(data)
}
