// Package store persists the verifier's state in SQLite: the device
// registry, golden PCR baselines, outstanding challenge nonces, and the
// append-only attestation log.
//
// The store satisfies attest.NonceStore, attest.BaselineStore, and
// lifecycle.RecordStore, so one database backs the whole verification
// path. Timestamps are Unix seconds; register banks and match maps are
// stored as JSON.
package store
