// Package packet implements the framed binary codec used on the
// FIRM-LOCK device link.
//
// # Wire format
//
// Every frame, in both directions, is laid out little-endian:
//
//	[start 0xFA : 1][code : 1][length : 2][payload : length][crc32 : 4][end 0xFB : 1]
//
// The code byte carries a command code on the way out and a response
// status code on the way back. The CRC32 covers the code byte and the
// payload only, never the markers or the length field.
//
// # Checksum contract
//
// Both ends compute CRC32 with the IEEE polynomial in its reflected
// form, i.e. the same convention as zlib. This is a protocol contract,
// not an implementation choice: a verifier and a device using different
// polynomial or reflection conventions would occasionally agree on a
// checksum for corrupted data. Do not re-derive it per endpoint.
package packet
