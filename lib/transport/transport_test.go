package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T) tls.Certificate {
	t.Helper()
	cert, err := GenerateSelfSigned()
	require.NoError(t, err)
	return cert
}

// echoServer accepts one connection on ln, completes the handshake and
// echoes a single line back.
func echoServer(t *testing.T, ln net.Listener) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		if err := Handshake(context.Background(), conn, 5*time.Second); err != nil {
			done <- err
			return
		}
		buf := make([]byte, 5)
		if _, err := io.ReadFull(conn, buf); err != nil {
			done <- err
			return
		}
		_, err = conn.Write(buf)
		done <- err
	}()
	return done
}

func TestGenerateSelfSignedCoversLoopback(t *testing.T) {
	cert := selfSigned(t)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)

	assert.Contains(t, leaf.DNSNames, "localhost")
	require.Len(t, leaf.IPAddresses, 2)
	assert.True(t, leaf.IPAddresses[0].IsLoopback())
	assert.IsType(t, &ecdsa.PrivateKey{}, cert.PrivateKey)
	assert.True(t, leaf.NotAfter.After(time.Now().Add(300*24*time.Hour)))
}

func TestRoundTripTrustedCertificate(t *testing.T) {
	cert := selfSigned(t)
	ln, err := Listen("tcp", "127.0.0.1:0", ServerTLS(cert))
	require.NoError(t, err)
	defer ln.Close()
	done := echoServer(t, ln)

	clientCfg, err := TrustCertificate(cert, "localhost")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, ln.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	require.NoError(t, <-done)

	state := conn.(*tls.Conn).ConnectionState()
	assert.GreaterOrEqual(t, state.Version, uint16(MinVersion))
}

func TestInsecureClientAcceptsSelfSigned(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0", ServerTLS(selfSigned(t)))
	require.NoError(t, err)
	defer ln.Close()
	done := echoServer(t, ln)

	conn, err := Dial(context.Background(), ln.Addr().String(), ClientTLS(true, ""))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("ping!"))
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestVerifyingClientRejectsUnknownCertificate(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0", ServerTLS(selfSigned(t)))
	require.NoError(t, err)
	defer ln.Close()
	done := echoServer(t, ln)

	_, err = Dial(context.Background(), ln.Addr().String(), ClientTLS(false, "localhost"))
	require.Error(t, err)

	serverErr := <-done
	assert.ErrorIs(t, serverErr, ErrHandshakeFailed)
}

func TestHandshakePlainConnIsNoop(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	assert.NoError(t, Handshake(context.Background(), a, time.Second))
}

func TestHandshakeTimeout(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0", ServerTLS(selfSigned(t)))
	require.NoError(t, err)
	defer ln.Close()

	// A raw TCP client that never speaks TLS.
	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	err = Handshake(context.Background(), conn, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestLoadServerTLS(t *testing.T) {
	cert := selfSigned(t)
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")

	keyDER, err := x509.MarshalECPrivateKey(cert.PrivateKey.(*ecdsa.PrivateKey))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	cfg, err := LoadServerTLS(certFile, keyFile)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(MinVersion), cfg.MinVersion)

	_, err = LoadServerTLS(filepath.Join(dir, "missing.crt"), keyFile)
	assert.ErrorIs(t, err, ErrMissingCertificate)

	require.NoError(t, os.WriteFile(keyFile, []byte("not a key"), 0o600))
	_, err = LoadServerTLS(certFile, keyFile)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingCertificate)
}

func TestListenWithoutTLS(t *testing.T) {
	ln, err := Listen("", "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()
	conn, err := Dial(context.Background(), ln.Addr().String(), nil)
	require.NoError(t, err)
	conn.Close()
}

func TestConnectionLimiter(t *testing.T) {
	l := NewConnectionLimiter(2)
	require.NoError(t, l.Acquire())
	require.NoError(t, l.Acquire())
	assert.ErrorIs(t, l.Acquire(), ErrConnectionLimit)
	assert.Equal(t, 2, l.Active())

	l.Release()
	assert.NoError(t, l.Acquire())

	l.Release()
	l.Release()
	l.Release()
	assert.Equal(t, 0, l.Active())
}

func TestConnectionLimiterDefaults(t *testing.T) {
	assert.Equal(t, DefaultMaxConnections, NewConnectionLimiter(0).Max())

	unlimited := NewConnectionLimiter(-1)
	for i := 0; i < DefaultMaxConnections+10; i++ {
		require.NoError(t, unlimited.Acquire())
	}
}

func TestConnectionLimiterConcurrent(t *testing.T) {
	l := NewConnectionLimiter(10)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire() == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, admitted)
}
