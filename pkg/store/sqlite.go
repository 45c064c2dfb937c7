package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store provides device registry, baseline, nonce, and log operations.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database path following XDG spec.
func DefaultPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "firmlock", "firmlock.db")
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// The busy_timeout pragma must go in the DSN so it applies to every
	// pooled connection, not just the one that runs the Exec below.
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// WAL lets the API serve reads while a verification writes.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate creates the schema if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'healthy',
		firmware_version TEXT DEFAULT '',
		simulated INTEGER NOT NULL DEFAULT 0,
		pcr_bank TEXT DEFAULT '',
		last_attestation INTEGER,
		last_reason TEXT DEFAULT '',
		public_key BLOB,
		created_at INTEGER DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER DEFAULT (strftime('%s', 'now'))
	);
	CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status);

	CREATE TABLE IF NOT EXISTS golden_pcrs (
		device_id TEXT PRIMARY KEY REFERENCES devices(id) ON DELETE CASCADE,
		pcr_bank TEXT NOT NULL,
		updated_at INTEGER DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS nonces (
		nonce TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		issued_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nonces_issued ON nonces(issued_at);
	CREATE INDEX IF NOT EXISTS idx_nonces_device ON nonces(device_id);

	CREATE TABLE IF NOT EXISTS attestation_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		result TEXT DEFAULT '',
		reason TEXT DEFAULT '',
		latency_ms INTEGER DEFAULT 0,
		pcr_match TEXT DEFAULT '',
		created_at INTEGER DEFAULT (strftime('%s', 'now'))
	);
	CREATE INDEX IF NOT EXISTS idx_attestation_logs_device ON attestation_logs(device_id);
	CREATE INDEX IF NOT EXISTS idx_attestation_logs_timestamp ON attestation_logs(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
// This should only be used in tests to manipulate state for testing edge cases.
func (s *Store) DB() *sql.DB {
	return s.db
}
