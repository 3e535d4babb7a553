package signer

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"
)

// TrustStore holds the CA certificates a signer chain must lead to
type TrustStore struct {
	roots *x509.CertPool
	count int
}

// NewTrustStore creates an empty trust store
func NewTrustStore() *TrustStore {
	return &TrustStore{roots: x509.NewCertPool()}
}

// LoadTrustFile creates a trust store from a PEM bundle on disk
func LoadTrustFile(path string) (*TrustStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust file: %w", err)
	}
	store := NewTrustStore()
	if err := store.AddCertificatesFromPEM(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return store, nil
}

// AddCertificate trusts cert
func (s *TrustStore) AddCertificate(cert *x509.Certificate) {
	if cert != nil {
		s.roots.AddCert(cert)
		s.count++
	}
}

// AddCertificatesFromPEM parses and trusts every certificate in pemData
func (s *TrustStore) AddCertificatesFromPEM(pemData []byte) error {
	var added int
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return fmt.Errorf("failed to parse certificate: %w", err)
			}
			s.AddCertificate(cert)
			added++
		}
		pemData = rest
	}
	if added == 0 {
		return errors.New("no certificates found in PEM data")
	}
	return nil
}

// Len reports how many certificates are trusted
func (s *TrustStore) Len() int {
	return s.count
}

// VerifyChain verifies cert against the trusted certificates at time now
func (s *TrustStore) VerifyChain(cert *x509.Certificate, intermediates []*x509.Certificate, now time.Time) ([]*x509.Certificate, error) {
	if cert == nil {
		return nil, errors.New("certificate is nil")
	}

	var pool *x509.CertPool
	if len(intermediates) > 0 {
		pool = x509.NewCertPool()
		for _, inter := range intermediates {
			pool.AddCert(inter)
		}
	}

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         s.roots,
		Intermediates: pool,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("chain verification failed: %w", err)
	}
	if len(chains) == 0 {
		return nil, errors.New("no valid certificate chains found")
	}
	return chains[0], nil
}
