package signer

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/pkcs12"
)

// ErrNotFound is returned by sources when no certificate matches
var ErrNotFound = errors.New("certificate not found")

// Bundle is a certificate with its private key and optional issuer chain
type Bundle struct {
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	PrivateKey  crypto.Signer
}

// Thumbprint returns the upper-case hex SHA-1 of the certificate DER
func (b *Bundle) Thumbprint() string {
	return Thumbprint(b.Certificate)
}

// Issuer returns the first chain certificate that issued the leaf
func (b *Bundle) Issuer() *x509.Certificate {
	for _, c := range b.Chain {
		if b.Certificate.CheckSignatureFrom(c) == nil {
			return c
		}
	}
	return nil
}

// TLSCertificate converts the bundle for mutual-TLS transports
func (b *Bundle) TLSCertificate() tls.Certificate {
	chain := [][]byte{b.Certificate.Raw}
	for _, c := range b.Chain {
		chain = append(chain, c.Raw)
	}
	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  b.PrivateKey,
		Leaf:        b.Certificate,
	}
}

// Thumbprint returns the upper-case hex SHA-1 of a certificate's DER
func Thumbprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// NormalizeThumbprint upper-cases and strips separators ("ab:cd" -> "ABCD")
func NormalizeThumbprint(s string) string {
	r := strings.NewReplacer(":", "", " ", "", "-", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(s)))
}

// CertificateSource resolves certificates by thumbprint
type CertificateSource interface {
	Lookup(ctx context.Context, thumbprint string) (*Bundle, error)
}

// MemorySource holds bundles in memory
type MemorySource struct {
	mu      sync.RWMutex
	bundles map[string]*Bundle
}

// NewMemorySource creates a source preloaded with bundles
func NewMemorySource(bundles ...*Bundle) *MemorySource {
	s := &MemorySource{bundles: make(map[string]*Bundle)}
	for _, b := range bundles {
		s.Add(b)
	}
	return s
}

// Add registers a bundle under its thumbprint
func (s *MemorySource) Add(b *Bundle) {
	if b == nil || b.Certificate == nil {
		return
	}
	s.mu.Lock()
	s.bundles[b.Thumbprint()] = b
	s.mu.Unlock()
}

// Lookup returns the bundle for thumbprint
func (s *MemorySource) Lookup(_ context.Context, thumbprint string) (*Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[NormalizeThumbprint(thumbprint)]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// Thumbprints lists the registered thumbprints
func (s *MemorySource) Thumbprints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bundles))
	for k := range s.bundles {
		out = append(out, k)
	}
	return out
}

// LoadFile reads a PFX/P12 or PEM bundle from disk
func LoadFile(path, password string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate file: %w", err)
	}
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".pfx") || strings.HasSuffix(lower, ".p12") {
		return LoadPFX(data, password)
	}
	return LoadPEM(data)
}

// LoadPFX decodes a PKCS#12 archive (A1 certificate)
func LoadPFX(data []byte, password string) (*Bundle, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode pkcs12: %w", err)
	}
	var buf []byte
	for _, b := range blocks {
		buf = append(buf, pem.EncodeToMemory(b)...)
	}
	return LoadPEM(buf)
}

// LoadPEM decodes certificates and one private key from concatenated PEM blocks.
// The leaf is the certificate whose public key matches the private key.
func LoadPEM(data []byte) (*Bundle, error) {
	var (
		certs []*x509.Certificate
		key   crypto.Signer
	)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch {
		case block.Type == "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate: %w", err)
			}
			certs = append(certs, cert)
		case strings.HasSuffix(block.Type, "PRIVATE KEY"):
			k, err := ParsePrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			key = k
		}
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificate in bundle")
	}

	bundle := &Bundle{PrivateKey: key}
	leaf := 0
	if key != nil {
		for i, c := range certs {
			if publicKeysEqual(c.PublicKey, key.Public()) {
				leaf = i
				break
			}
		}
	}
	bundle.Certificate = certs[leaf]
	for i, c := range certs {
		if i != leaf {
			bundle.Chain = append(bundle.Chain, c)
		}
	}
	return bundle, nil
}

// ParsePrivateKey accepts PKCS#1, PKCS#8 and SEC1 encodings
func ParsePrivateKey(der []byte) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := k.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", k)
		}
		return signer, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	return nil, errors.New("unrecognized private key encoding")
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	switch ka := a.(type) {
	case *rsa.PublicKey:
		return ka.Equal(b)
	case *ecdsa.PublicKey:
		return ka.Equal(b)
	default:
		return false
	}
}
