package signer_test

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-issuer/internal/signer"
)

var serial int64 = 1

type certOptions struct {
	commonName string
	notBefore  time.Time
	notAfter   time.Time
	isCA       bool
	parent     *x509.Certificate
	parentKey  *rsa.PrivateKey
	ocspServer []string
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func newCert(t *testing.T, key *rsa.PrivateKey, opts certOptions) *x509.Certificate {
	t.Helper()
	if opts.commonName == "" {
		opts.commonName = "PRESTADORA EXEMPLO LTDA:11222333000181"
	}
	if opts.notBefore.IsZero() {
		opts.notBefore = time.Now().Add(-time.Hour)
	}
	if opts.notAfter.IsZero() {
		opts.notAfter = time.Now().Add(24 * time.Hour)
	}
	serial++
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: opts.commonName, Organization: []string{"ICP-Brasil"}},
		NotBefore:             opts.notBefore,
		NotAfter:              opts.notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  opts.isCA,
		OCSPServer:            opts.ocspServer,
	}

	parent, parentKey := tmpl, key
	if opts.parent != nil {
		parent, parentKey = opts.parent, opts.parentKey
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func newBundle(t *testing.T, opts certOptions) *signer.Bundle {
	t.Helper()
	key := newKey(t)
	return &signer.Bundle{
		Certificate: newCert(t, key, opts),
		PrivateKey:  key,
	}
}

// newIssuedBundle returns a leaf bundle whose chain holds its CA
func newIssuedBundle(t *testing.T) *signer.Bundle {
	t.Helper()
	caKey := newKey(t)
	ca := newCert(t, caKey, certOptions{commonName: "AC Teste", isCA: true})
	leafKey := newKey(t)
	leaf := newCert(t, leafKey, certOptions{parent: ca, parentKey: caKey})
	return &signer.Bundle{
		Certificate: leaf,
		Chain:       []*x509.Certificate{ca},
		PrivateKey:  leafKey,
	}
}

func rsaKey(t *testing.T, k crypto.Signer) *rsa.PrivateKey {
	t.Helper()
	key, ok := k.(*rsa.PrivateKey)
	require.True(t, ok)
	return key
}

func encodePEM(t *testing.T, certs []*x509.Certificate, key *rsa.PrivateKey) []byte {
	t.Helper()
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	if key != nil {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})...)
	}
	return out
}

const unsignedDPS = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<DPS xmlns="http://www.sped.fazenda.gov.br/nfse" versao="1.00">` +
	`<infDPS Id="DPS355030821122233300018100001000000000000042">` +
	`<tpAmb>2</tpAmb><serie>1</serie><nDPS>42</nDPS>` +
	`<prest><CNPJ>11222333000181</CNPJ></prest>` +
	`<serv><cServ><xDescServ>Suporte &amp; manutenção</xDescServ></cServ></serv>` +
	`</infDPS></DPS>`
