// Package transport drives command/response exchanges with a FIRM-LOCK
// device over a byte-stream link.
//
// The link is half-duplex with no multiplexing: one command goes out,
// exactly one response frame comes back. The transport enforces
// single-flight semantics per connection; concurrent callers on the
// same Transport are serialized. Connections to distinct devices are
// independent.
//
// # Links
//
// Production devices attach over USB CDC-ACM serial at 115200 baud,
// 8 data bits, no parity, one stop bit. Tests and the device simulator
// inject any io.ReadWriteCloser (net.Pipe works well) via Config.Stream.
//
// Connect waits a short settle delay and discards any boot-time noise
// in both directions before the first exchange.
//
// # Errors
//
// Transport failures (not connected, timeout, framing) and protocol
// failures (busy, invalid command, device error) surface as distinct
// sentinel errors. Nothing is retried here; retry policy belongs to the
// caller.
package transport
