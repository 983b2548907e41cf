package mqttconn

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

var (
	// ErrNoCACertificates is returned when a CA bundle contains no
	// parseable certificates.
	ErrNoCACertificates = errors.New("no CA certificates found")
)

// TLSOptions configures transport security for a connection. The options
// are an opaque blob from the protocol engine's perspective; the bootstrap
// turns them into a *tls.Config when dialing.
type TLSOptions struct {
	// RootCAPEM is an optional PEM bundle of trusted CA certificates.
	// Empty uses the system pool.
	RootCAPEM []byte

	// Certificates are client identities for mutual TLS. See
	// LoadIdentityPEM and LoadIdentityPKCS12.
	Certificates []tls.Certificate

	// ServerName overrides the SNI server name. Empty derives it from
	// the connection host.
	ServerName string

	// NextProtos sets the ALPN protocol list.
	NextProtos []string

	// MinVersion is the minimum TLS version. Zero defaults to TLS 1.2.
	MinVersion uint16

	// InsecureSkipVerify disables certificate chain verification. For
	// testing only.
	InsecureSkipVerify bool
}

// Config builds the *tls.Config for the given connection host.
func (o *TLSOptions) Config(host string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         o.MinVersion,
		NextProtos:         o.NextProtos,
		Certificates:       o.Certificates,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}

	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}

	cfg.ServerName = o.ServerName
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	if len(o.RootCAPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(o.RootCAPEM) {
			return nil, ErrNoCACertificates
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// LoadIdentityPEM loads a client identity from PEM-encoded certificate and
// key files.
func LoadIdentityPEM(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load identity: %w", err)
	}
	return cert, nil
}

// LoadIdentityPKCS12 loads a client identity from PKCS#12 data, the bundle
// format commonly issued for device certificates.
func LoadIdentityPKCS12(data []byte, password string) (tls.Certificate, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode pkcs12: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// LoadIdentityPKCS12File loads a client identity from a PKCS#12 file.
func LoadIdentityPKCS12File(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read pkcs12 file: %w", err)
	}
	return LoadIdentityPKCS12(data, password)
}
