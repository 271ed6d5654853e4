// Package server accepts chat connections and runs one handler per
// connection.
//
// # Overview
//
// Server owns the process-wide session and room registries and the Router
// that mutates them. For every accepted connection it:
//   - completes the TLS handshake
//   - registers a new session
//   - reads frames until the peer closes or the stream breaks
//   - hands each decoded message to the Router
//
// Framing errors end the connection. Protocol errors do not: the Router
// answers them with an ERROR_RESPONSE and the loop keeps reading.
//
// # Lifecycle
//
//	srv, err := server.NewServer(cfg, server.WithMetrics(m))
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
// Stop only stops accepting. Connections already being served keep running
// until their peers disconnect or CloseSessions is called.
//
// # Cleanup
//
// Every connection is torn down exactly once, whichever way its loop ends:
// the transport is closed, the session leaves every room and its username
// becomes free for a new login.
package server
