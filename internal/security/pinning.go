package security

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrPinMismatch is returned from the TLS handshake when no certificate in the
// verified chain matches a pin
var ErrPinMismatch = errors.New("certificate pin verification failed")

// PinningConfig holds certificate pinning configuration
type PinningConfig struct {
	// Pins are lowercase hex SHA-256 hashes of a certificate's SubjectPublicKeyInfo.
	// Any certificate of the verified chain may match, so a CA pin survives leaf rotation.
	Pins             []string
	Timeout          time.Duration
	HandshakeTimeout time.Duration
	// RootCAs replaces the system roots; nil uses the system pool
	RootCAs *x509.CertPool
}

// CertificatePinner verifies server certificates against SPKI pins
type CertificatePinner struct {
	pins map[string]struct{}
}

// NewCertificatePinner creates a pinner. Pins are normalized to lowercase.
func NewCertificatePinner(pins []string) (*CertificatePinner, error) {
	cp := &CertificatePinner{pins: make(map[string]struct{}, len(pins))}
	for _, pin := range pins {
		pin = strings.ToLower(strings.TrimSpace(pin))
		raw, err := hex.DecodeString(pin)
		if err != nil || len(raw) != sha256.Size {
			return nil, fmt.Errorf("invalid certificate pin %q: want 64 hex characters", pin)
		}
		cp.pins[pin] = struct{}{}
	}
	if len(cp.pins) == 0 {
		return nil, errors.New("at least one certificate pin is required")
	}
	return cp, nil
}

// NewPinnedHTTPClient creates an HTTP client that only completes TLS handshakes
// with servers presenting a pinned key
func NewPinnedHTTPClient(config PinningConfig) (*http.Client, error) {
	cp, err := NewCertificatePinner(config.Pins)
	if err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 5 * time.Second
	}

	tlsConfig := &tls.Config{
		MinVersion:            tls.VersionTLS12,
		RootCAs:               config.RootCAs,
		VerifyPeerCertificate: cp.VerifyPeerCertificate,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: config.HandshakeTimeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{Transport: transport, Timeout: config.Timeout}, nil
}

// VerifyPeerCertificate runs after normal chain verification and checks the pins
func (cp *CertificatePinner) VerifyPeerCertificate(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
	if len(verifiedChains) == 0 {
		return errors.New("no verified certificate chains")
	}
	for _, chain := range verifiedChains {
		for _, cert := range chain {
			if _, ok := cp.pins[SPKIHash(cert)]; ok {
				return nil
			}
		}
	}
	return fmt.Errorf("%w for %s", ErrPinMismatch, verifiedChains[0][0].Subject.CommonName)
}

// SPKIHash returns the pin of cert
func SPKIHash(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(hash[:])
}
