package server

import (
	"crypto/tls"
	"time"
)

// DefaultPort is the TCP port the server listens on unless configured otherwise.
const DefaultPort = 8443

// ServerConfig holds configuration for the chat server
type ServerConfig struct {
	// Address to listen on (e.g., "localhost:8443" or ":0" for an ephemeral port)
	ListenAddr string

	// Network type: "tcp", "tcp4" or "tcp6"
	Network string

	// Maximum number of concurrent connections. Negative means unlimited.
	MaxSessions int

	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration

	// WriteTimeout bounds each frame written to a client.
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the TLS handshake.
	HandshakeTimeout time.Duration

	// RateLimit is the sustained number of messages per second accepted
	// from one connection; RateBurst is the bucket size. A RateLimit of
	// zero disables limiting.
	RateLimit float64
	RateBurst int

	// PruneEmptyRooms deletes a room when its last participant leaves.
	PruneEmptyRooms bool

	// TLS is the server's TLS configuration. Nil serves plain TCP.
	TLS *tls.Config
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:       "localhost:8443",
		Network:          "tcp",
		MaxSessions:      1000,
		IdleTimeout:      0,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		RateLimit:        50,
		RateBurst:        100,
	}
}
