package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/niss337/securechat/lib/util"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/samber/oops"
)

// MinVersion is the oldest TLS version either side will negotiate.
const MinVersion = tls.VersionTLS12

// SelfSignedValidity is how long a generated certificate stays valid.
const SelfSignedValidity = 365 * 24 * time.Hour

// LoadServerTLS reads a PEM certificate chain and private key.
func LoadServerTLS(certFile, keyFile string) (*tls.Config, error) {
	if missing := util.CheckFilesExist(certFile, keyFile); missing != "" {
		return nil, oops.
			In("transport").
			Code("missing_certificate").
			With("path", missing).
			Wrapf(ErrMissingCertificate, "%s", missing)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, oops.
			In("transport").
			Code("load_certificate").
			With("cert", certFile).
			With("key", keyFile).
			Wrapf(err, "load key pair")
	}

	log.WithFields(logger.Fields{
		"at":   "transport.LoadServerTLS",
		"cert": certFile,
	}).Debug("server_certificate_loaded")
	return ServerTLS(cert), nil
}

// ServerTLS returns a server configuration presenting cert.
func ServerTLS(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   MinVersion,
	}
}

// GenerateSelfSigned creates an in-memory ECDSA P-256 certificate valid for
// hosts, which may be host names or IP addresses. With no hosts it covers
// localhost and the loopback addresses.
func GenerateSelfSigned(hosts ...string) (tls.Certificate, error) {
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, oops.In("transport").Wrapf(err, "generate key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, oops.In("transport").Wrapf(err, "generate serial")
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"securechat"}, CommonName: hosts[0]},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(SelfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, oops.In("transport").Wrapf(err, "create certificate")
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, oops.In("transport").Wrapf(err, "marshal key")
	}

	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	if err != nil {
		return tls.Certificate{}, oops.In("transport").Wrapf(err, "assemble key pair")
	}

	log.WithFields(logger.Fields{
		"at":       "transport.GenerateSelfSigned",
		"hosts":    hosts,
		"notAfter": template.NotAfter,
	}).Info("using_self_signed_certificate")
	return cert, nil
}

// ClientTLS returns a client configuration. With insecureSkipVerify the
// client accepts any server certificate, which is only suitable against
// development servers using GenerateSelfSigned.
func ClientTLS(insecureSkipVerify bool, serverName string) *tls.Config {
	if insecureSkipVerify {
		log.WithField("at", "transport.ClientTLS").Debug("certificate_verification_disabled")
	}
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecureSkipVerify,
		MinVersion:         MinVersion,
	}
}

// TrustCertificate returns a client configuration whose only root is the
// leaf of cert.
func TrustCertificate(cert tls.Certificate, serverName string) (*tls.Config, error) {
	if len(cert.Certificate) == 0 {
		return nil, oops.In("transport").Wrapf(ErrMissingCertificate, "empty certificate chain")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, oops.In("transport").Wrapf(err, "parse certificate")
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: MinVersion,
	}, nil
}
