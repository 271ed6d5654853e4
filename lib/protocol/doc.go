// Package protocol implements the securechat wire format.
//
// Every message travels as a frame:
//
//	+----------------------+---------------------------+
//	| length (4 bytes, BE) | body (length bytes, UTF-8) |
//	+----------------------+---------------------------+
//
// The body is a fixed-schema record with the fields type, version,
// timestamp, sender, recipient, roomId and content, always written in that
// order. String values are fully escaped, so any valid Unicode text,
// including quotes, backslashes and newlines, survives a round trip.
//
// Frame bodies larger than MaxBodySize are rejected before any body bytes
// are read or allocated.
package protocol
