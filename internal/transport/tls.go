package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"strings"
	"time"

	"gocat/config"
	"gocat/util"
)

// ClientTLSConfig builds the client side configuration: RootCAs from
// c.TLSCA (system pool when empty) and the expected server name.
func ClientTLSConfig(c config.Connection) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName(),
		InsecureSkipVerify: c.TLSInsecure, //nolint:gosec // explicit --tls-insecure opt-in
	}
	if c.TLSCA != "" {
		pemData, err := os.ReadFile(c.TLSCA)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in %s", c.TLSCA)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// ServerTLSConfig loads c.TLSCert/c.TLSKey, or generates an ephemeral
// self-signed certificate when both are empty and logs its fingerprint
// so clients can pin it out of band.
func ServerTLSConfig(c config.Connection, logger *util.Logger) (*tls.Config, error) {
	var cert tls.Certificate
	if c.TLSCert != "" || c.TLSKey != "" {
		var err error
		cert, err = tls.LoadX509KeyPair(c.TLSCert, c.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("loading TLS key pair: %w", err)
		}
	} else {
		hosts := []string{"localhost", "127.0.0.1", "::1"}
		if c.Host != "" {
			hosts = append(hosts, c.Host)
		}
		gen, err := GenerateSelfSigned(hosts...)
		if err != nil {
			return nil, err
		}
		cert = gen.TLS
		logger.Info("TLS: using ephemeral self-signed certificate, SHA-256 %s", gen.Fingerprint())
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// ── Certificate helpers ──────────────────────────────────────────────

// Certificate is a generated key pair in both PEM and tls form.
type Certificate struct {
	CertPEM []byte
	KeyPEM  []byte
	TLS     tls.Certificate
	Leaf    *x509.Certificate
}

// GenerateSelfSigned creates an ECDSA P-256 certificate valid for one
// year for the given hosts (IP addresses become IP SANs, anything else
// a DNS SAN).  The certificate is its own CA, so a client can trust it
// directly with --tls-ca.
func GenerateSelfSigned(hosts ...string) (*Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial: %w", err)
	}

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "gocat", Organization: []string{"gocat"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else if h != "" {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshalling key: %w", err)
	}

	return &Certificate{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		TLS:     tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf},
		Leaf:    leaf,
	}, nil
}

// Fingerprint returns the colon-separated SHA-256 of the certificate.
func (c *Certificate) Fingerprint() string {
	sum := sha256.Sum256(c.Leaf.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.ToUpper(strings.Join(parts, ":"))
}

// WritePEM stores the certificate and key; the key file is 0600.
func WritePEM(c *Certificate, certPath, keyPath string) error {
	if err := os.WriteFile(certPath, c.CertPEM, 0o644); err != nil {
		return fmt.Errorf("writing certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, c.KeyPEM, 0o600); err != nil {
		return fmt.Errorf("writing key: %w", err)
	}
	return nil
}
