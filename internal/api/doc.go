// Package api exposes the verifier over HTTP and a websocket event
// stream. Handlers stay thin: request parsing and status mapping here,
// all verification semantics in internal/verifier.
package api
