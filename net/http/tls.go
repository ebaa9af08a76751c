package http

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// TLS defines available settings when enabling secure TLS communications.
type TLS struct {
	// Cert holds the PEM-encoded server certificate.
	Cert []byte

	// PrivateKey holds the PEM-encoded private key matching Cert.
	PrivateKey []byte

	// CustomCAs holds additional PEM-encoded CA certificates to trust,
	// on top of (or instead of) the system pool.
	CustomCAs [][]byte

	// IncludeSystemCAs adds the host's trusted CA pool alongside CustomCAs.
	IncludeSystemCAs bool

	// SupportedCiphers overrides the default cipher suite list. Ignored
	// for TLS 1.3, which negotiates its own suites.
	SupportedCiphers []uint16

	// PreferredCurves overrides the default elliptic curve preference order.
	PreferredCurves []tls.CurveID

	// MinVersion sets the minimum accepted TLS protocol version.
	MinVersion uint16
}

// recommendedCiphers lists cipher suites offering forward secrecy, in
// preference order.
var recommendedCiphers = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// recommendedCurves lists the elliptic curves to prefer during the
// handshake, in preference order.
var recommendedCurves = []tls.CurveID{
	tls.X25519,
	tls.CurveP256,
}

// Expand returns a TLS configuration instance based on the provided settings.
func (t TLS) Expand() (*tls.Config, error) {
	cert, err := tls.X509KeyPair(t.Cert, t.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	var cp *x509.CertPool
	if t.IncludeSystemCAs {
		cp, err = x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load system CAs: %w", err)
		}
	} else {
		cp = x509.NewCertPool()
	}

	for _, c := range t.CustomCAs {
		if !cp.AppendCertsFromPEM(c) {
			return nil, fmt.Errorf("failed to append provided CA certificates")
		}
	}

	ciphers := t.SupportedCiphers
	if len(ciphers) == 0 {
		ciphers = recommendedCiphers
	}
	curves := t.PreferredCurves
	if len(curves) == 0 {
		curves = recommendedCurves
	}
	minVersion := t.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	return &tls.Config{
		Certificates:     []tls.Certificate{cert},
		CipherSuites:     ciphers,
		CurvePreferences: curves,
		RootCAs:          cp,
		MinVersion:       minVersion,
	}, nil
}
