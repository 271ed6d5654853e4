// Package transport provides the encrypted stream that chat frames travel
// over.
//
// # Overview
//
// Servers and clients speak the chat protocol over TLS. This package owns
// everything about that layer so the rest of the code only sees a
// net.Conn:
//   - certificate loading and in-memory self-signed generation
//   - client configurations, including a trust-all mode for development
//   - listening, dialing and bounded handshakes
//   - a connection limiter used at accept time
//
// # Usage Example
//
//	cfg, err := transport.LoadServerTLS("server.crt", "server.key")
//	if err != nil {
//	    return err
//	}
//	ln, err := transport.Listen("tcp", ":8443", cfg)
//
// A client trusting the system roots:
//
//	conn, err := transport.Dial(ctx, "chat.example.org:8443", transport.ClientTLS(false, ""))
//
// # Thread Safety
//
// ConnectionLimiter is safe for concurrent use. The *tls.Config values
// returned here must not be modified after they are first used.
package transport
