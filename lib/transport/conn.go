package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/niss337/securechat/lib/util/logger"
	"github.com/samber/oops"
)

// Listen opens a listener on addr. With a nil config the listener is plain
// TCP, which is only meant for tests and for running behind a TLS
// terminating proxy.
func Listen(network, addr string, config *tls.Config) (net.Listener, error) {
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, oops.
			In("transport").
			Code("listen").
			With("network", network).
			With("addr", addr).
			Wrapf(err, "listen on %s", addr)
	}
	if config == nil {
		log.WithFields(logger.Fields{
			"at":   "transport.Listen",
			"addr": ln.Addr().String(),
		}).Warn("listening_without_tls")
		return ln, nil
	}
	return tls.NewListener(ln, config), nil
}

// Dial connects to addr and completes the TLS handshake before returning.
// A nil config dials plain TCP.
func Dial(ctx context.Context, addr string, config *tls.Config) (net.Conn, error) {
	if config == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, oops.In("transport").Code("dial").With("addr", addr).Wrapf(err, "dial %s", addr)
		}
		return conn, nil
	}

	if config.ServerName == "" {
		config = config.Clone()
		if host, _, err := net.SplitHostPort(addr); err == nil {
			config.ServerName = host
		}
	}
	d := &tls.Dialer{Config: config}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, oops.
			In("transport").
			Code("dial").
			With("addr", addr).
			Wrapf(err, "dial %s", addr)
	}

	log.WithFields(logger.Fields{
		"at":   "transport.Dial",
		"addr": addr,
	}).Debug("connection_established")
	return conn, nil
}

// Handshake completes the TLS handshake on conn within timeout. Connections
// that are not TLS are returned unchanged. A zero timeout means no limit
// beyond ctx.
func Handshake(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return oops.
			In("transport").
			Code("handshake").
			With("remoteAddr", conn.RemoteAddr().String()).
			Wrapf(ErrHandshakeFailed, "%v", err)
	}

	state := tlsConn.ConnectionState()
	log.WithFields(logger.Fields{
		"at":          "transport.Handshake",
		"remoteAddr":  conn.RemoteAddr().String(),
		"version":     tls.VersionName(state.Version),
		"cipherSuite": tls.CipherSuiteName(state.CipherSuite),
	}).Debug("handshake_complete")
	return nil
}
