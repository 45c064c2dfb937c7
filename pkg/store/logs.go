package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// LogEntry is one row of the append-only attestation log.
type LogEntry struct {
	ID        int64
	DeviceID  string
	Timestamp time.Time
	EventType string // challenge, attestation, recovery, attack
	Result    string
	Reason    string
	LatencyMS int64
	PCRMatch  map[int]bool
}

// AppendLog records an attestation event. The log is append-only;
// nothing updates or deletes rows.
func (s *Store) AppendLog(e *LogEntry) error {
	var matchJSON string
	if e.PCRMatch != nil {
		data, err := json.Marshal(e.PCRMatch)
		if err != nil {
			return fmt.Errorf("failed to marshal pcr match: %w", err)
		}
		matchJSON = string(data)
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO attestation_logs (device_id, timestamp, event_type, result, reason, latency_ms, pcr_match)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.DeviceID, ts.Unix(), e.EventType, e.Result, e.Reason, e.LatencyMS, matchJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// Logs returns the most recent log entries for a device, newest first.
// A limit of 0 or less defaults to 50.
func (s *Store) Logs(deviceID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, device_id, timestamp, event_type, result, reason, latency_ms, pcr_match
		 FROM attestation_logs WHERE device_id = ?
		 ORDER BY id DESC LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var e LogEntry
		var ts int64
		var matchJSON string
		if err := rows.Scan(&e.ID, &e.DeviceID, &ts, &e.EventType, &e.Result, &e.Reason, &e.LatencyMS, &matchJSON); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		if matchJSON != "" {
			if err := json.Unmarshal([]byte(matchJSON), &e.PCRMatch); err != nil {
				return nil, fmt.Errorf("failed to decode pcr match: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Metrics summarizes fleet and attestation state for the metrics
// endpoint.
type Metrics struct {
	Devices           int            `json:"devices"`
	DevicesByStatus   map[string]int `json:"devices_by_status"`
	Attestations      int            `json:"attestations"`
	AttestationsPass  int            `json:"attestations_pass"`
	AttestationsFail  int            `json:"attestations_fail"`
	OutstandingNonces int            `json:"outstanding_nonces"`
}

// CollectMetrics aggregates counters from the registry and log.
func (s *Store) CollectMetrics() (*Metrics, error) {
	m := &Metrics{DevicesByStatus: make(map[string]int)}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM devices GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan device count: %w", err)
		}
		m.DevicesByStatus[status] = count
		m.Devices += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN result = 'PASS' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN result IN ('FAIL', 'QUARANTINE') THEN 1 ELSE 0 END), 0)
		 FROM attestation_logs WHERE event_type = 'attestation'`,
	).Scan(&m.Attestations, &m.AttestationsPass, &m.AttestationsFail)
	if err != nil {
		return nil, fmt.Errorf("failed to count attestations: %w", err)
	}

	m.OutstandingNonces, err = s.OutstandingNonces()
	if err != nil {
		return nil, err
	}
	return m, nil
}
