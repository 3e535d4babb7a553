package signer_test

import (
	"context"
	"crypto/x509"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-issuer/internal/model"
	"github.com/rezonia/nfse-issuer/internal/signer"
)

type fakeRevocation struct {
	revoked bool
	err     error
	calls   int
}

func (f *fakeRevocation) Revoked(_ context.Context, _, _ *x509.Certificate) (bool, error) {
	f.calls++
	return f.revoked, f.err
}

func requireSigningCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var se *model.SigningError
	require.True(t, errors.As(err, &se), "expected SigningError, got %T: %v", err, err)
	assert.Equal(t, code, se.Code)
}

func TestSign_Structure(t *testing.T) {
	bundle := newBundle(t, certOptions{})
	s := signer.New(signer.NewMemorySource(bundle))

	signed, err := s.Sign(context.Background(), []byte(unsignedDPS), signer.CertificateRef{Thumbprint: bundle.Thumbprint()})
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(signed))
	root := doc.Root()
	require.Equal(t, "DPS", root.Tag)

	children := root.ChildElements()
	require.Len(t, children, 2)
	assert.Equal(t, "infDPS", children[0].Tag)
	assert.Equal(t, "Signature", children[1].Tag)

	sig := children[1]
	assert.Equal(t, "http://www.w3.org/2000/09/xmldsig#", sig.SelectAttrValue("xmlns", ""))

	ref := sig.FindElement("SignedInfo/Reference")
	require.NotNil(t, ref)
	assert.Equal(t, "#DPS355030821122233300018100001000000000000042", ref.SelectAttrValue("URI", ""))

	method := sig.FindElement("SignedInfo/SignatureMethod")
	require.NotNil(t, method)
	assert.Equal(t, "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256", method.SelectAttrValue("Algorithm", ""))

	c14n := sig.FindElement("SignedInfo/CanonicalizationMethod")
	require.NotNil(t, c14n)
	assert.Equal(t, "http://www.w3.org/TR/2001/REC-xml-c14n-20010315", c14n.SelectAttrValue("Algorithm", ""))

	var transforms []string
	for _, tr := range sig.FindElements("SignedInfo/Reference/Transforms/Transform") {
		transforms = append(transforms, tr.SelectAttrValue("Algorithm", ""))
	}
	assert.Contains(t, transforms, "http://www.w3.org/2000/09/xmldsig#enveloped-signature")

	assert.NotEmpty(t, strings.TrimSpace(sig.FindElement("SignatureValue").Text()))
	assert.NotEmpty(t, strings.TrimSpace(sig.FindElement("KeyInfo/X509Data/X509Certificate").Text()))

	assert.Equal(t, "Suporte & manutenção", doc.FindElement("//xDescServ").Text())
}

func TestSign_VerifyRoundTrip(t *testing.T) {
	bundle := newBundle(t, certOptions{})
	s := signer.New(signer.NewMemorySource(bundle))

	signed, err := s.Sign(context.Background(), []byte(unsignedDPS), signer.CertificateRef{Thumbprint: bundle.Thumbprint()})
	require.NoError(t, err)

	result, err := signer.Verify(signed, time.Now())
	require.NoError(t, err)
	assert.True(t, result.SignatureFound)
	assert.Empty(t, result.Errors)
	assert.True(t, result.Valid())
	assert.Equal(t, "infDPS", result.SignedElement)
	assert.Equal(t, bundle.Thumbprint(), result.Thumbprint)

	tampered := strings.Replace(string(signed), "<nDPS>42</nDPS>", "<nDPS>43</nDPS>", 1)
	result, err = signer.Verify([]byte(tampered), time.Now())
	require.NoError(t, err)
	assert.True(t, result.SignatureFound)
	assert.False(t, result.SignatureValid)
	assert.False(t, result.Valid())
}

func TestVerify_Unsigned(t *testing.T) {
	result, err := signer.Verify([]byte(unsignedDPS), time.Now())
	require.NoError(t, err)
	assert.False(t, result.SignatureFound)
	assert.False(t, result.Valid())

	_, err = signer.Verify([]byte("not xml <"), time.Now())
	assert.Error(t, err)
}

func TestSign_CertificateNotFound(t *testing.T) {
	s := signer.New(signer.NewMemorySource())

	_, err := s.Sign(context.Background(), []byte(unsignedDPS), signer.CertificateRef{Thumbprint: "ABCDEF"})
	requireSigningCode(t, err, signer.ErrCodeCertNotFound)
}

func TestSign_CertificateValidity(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
	}{
		{"expired", time.Now().Add(48 * time.Hour)},
		{"not yet valid", time.Now().Add(-48 * time.Hour)},
	}

	bundle := newBundle(t, certOptions{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := signer.New(signer.NewMemorySource(bundle), signer.WithClock(func() time.Time { return tt.now }))

			_, err := s.Sign(context.Background(), []byte(unsignedDPS), signer.CertificateRef{Thumbprint: bundle.Thumbprint()})
			requireSigningCode(t, err, signer.ErrCodeCertExpired)
		})
	}
}

func TestSign_KeyUnavailable(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		bundle := newBundle(t, certOptions{})
		bundle.PrivateKey = nil
		s := signer.New(signer.NewMemorySource(bundle))

		_, err := s.Sign(context.Background(), []byte(unsignedDPS), signer.CertificateRef{Thumbprint: bundle.Thumbprint()})
		requireSigningCode(t, err, signer.ErrCodeKeyUnavailable)
	})

	t.Run("mismatched key", func(t *testing.T) {
		bundle := newBundle(t, certOptions{})
		bundle.PrivateKey = newKey(t)
		s := signer.New(signer.NewMemorySource(bundle))

		_, err := s.Sign(context.Background(), []byte(unsignedDPS), signer.CertificateRef{Thumbprint: bundle.Thumbprint()})
		requireSigningCode(t, err, signer.ErrCodeKeyUnavailable)
	})
}

func TestSign_Rejected(t *testing.T) {
	bundle := newBundle(t, certOptions{})
	s := signer.New(signer.NewMemorySource(bundle))
	ref := signer.CertificateRef{Thumbprint: bundle.Thumbprint()}

	signed, err := s.Sign(context.Background(), []byte(unsignedDPS), ref)
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{"not xml", "not xml"},
		{"no Id element", `<DPS><infDPS><tpAmb>2</tpAmb></infDPS></DPS>`},
		{"already signed", string(signed)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Sign(context.Background(), []byte(tt.input), ref)
			requireSigningCode(t, err, signer.ErrCodeSignRejected)
		})
	}
}

func TestSign_Revocation(t *testing.T) {
	t.Run("revoked", func(t *testing.T) {
		bundle := newIssuedBundle(t)
		checker := &fakeRevocation{revoked: true}
		s := signer.New(signer.NewMemorySource(bundle), signer.WithRevocationChecker(checker, false))

		_, err := s.Sign(context.Background(), []byte(unsignedDPS), signer.CertificateRef{Thumbprint: bundle.Thumbprint()})
		requireSigningCode(t, err, signer.ErrCodeCertRevoked)
		assert.Equal(t, 1, checker.calls)
	})

	t.Run("responder down hard fail", func(t *testing.T) {
		bundle := newIssuedBundle(t)
		checker := &fakeRevocation{err: errors.New("connection refused")}
		s := signer.New(signer.NewMemorySource(bundle), signer.WithRevocationChecker(checker, false))

		_, err := s.Sign(context.Background(), []byte(unsignedDPS), signer.CertificateRef{Thumbprint: bundle.Thumbprint()})
		requireSigningCode(t, err, signer.ErrCodeCertRevoked)
	})

	t.Run("responder down soft fail", func(t *testing.T) {
		bundle := newIssuedBundle(t)
		checker := &fakeRevocation{err: errors.New("connection refused")}
		s := signer.New(signer.NewMemorySource(bundle), signer.WithRevocationChecker(checker, true))

		_, err := s.Sign(context.Background(), []byte(unsignedDPS), signer.CertificateRef{Thumbprint: bundle.Thumbprint()})
		require.NoError(t, err)
	})

	t.Run("self-signed skips check", func(t *testing.T) {
		bundle := newBundle(t, certOptions{})
		checker := &fakeRevocation{revoked: true}
		s := signer.New(signer.NewMemorySource(bundle), signer.WithRevocationChecker(checker, false))

		_, err := s.Sign(context.Background(), []byte(unsignedDPS), signer.CertificateRef{Thumbprint: bundle.Thumbprint()})
		require.NoError(t, err)
		assert.Equal(t, 0, checker.calls)
	})
}

func TestSign_CancellationEvent(t *testing.T) {
	bundle := newBundle(t, certOptions{})
	s := signer.New(signer.NewMemorySource(bundle))

	event := `<pedRegEvento xmlns="http://www.sped.fazenda.gov.br/nfse" versao="1.00">` +
		`<infPedReg Id="PRE123"><tpAmb>2</tpAmb></infPedReg></pedRegEvento>`
	signed, err := s.Sign(context.Background(), []byte(event), signer.CertificateRef{Thumbprint: bundle.Thumbprint()})
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(signed))
	ref := doc.FindElement("//Signature/SignedInfo/Reference")
	require.NotNil(t, ref)
	assert.Equal(t, "#PRE123", ref.SelectAttrValue("URI", ""))
}
