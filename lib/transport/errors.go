package transport

import "errors"

var (
	// ErrMissingCertificate means a certificate or key file could not be found.
	ErrMissingCertificate = errors.New("certificate or key file not found")
	// ErrHandshakeFailed wraps every TLS handshake failure.
	ErrHandshakeFailed = errors.New("tls handshake failed")
	// error for when the connection limit has been reached
	ErrConnectionLimit = errors.New("connection limit reached")
)
