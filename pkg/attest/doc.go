// Package attest implements challenge/response attestation verification.
//
// The verifier issues a Challenge carrying a single-use random nonce,
// the device answers with Evidence (echoed nonce, timestamp, PCR bank,
// signature, certificate), and Verify turns the pair into a Verdict.
//
// Verification is fail-secure and runs a fixed check order: nonce
// match, freshness, replay (which atomically consumes the nonce),
// signature when a device key is provisioned, then a byte-for-byte
// PCR comparison against the device's golden baseline. The first
// failing check wins and each has a distinct reason code.
//
// A failed attestation is an expected, loggable outcome: it is always
// reported as a Verdict, never as an error. Errors are reserved for
// verifier-side faults such as an unreachable store.
//
// The engine is stateless apart from its NonceStore and BaselineStore;
// it reports PASS or FAIL only. Quarantine is a fleet policy decision
// and lives in the lifecycle package.
package attest
