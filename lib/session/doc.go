// Package session tracks connected clients.
//
// A Session is created for every accepted connection and owns that
// connection's write side. Writes from any goroutine are serialized on a
// per-session mutex so frames never interleave on the wire. The Registry
// indexes sessions by connection identity and, once they have logged in,
// by username.
package session
