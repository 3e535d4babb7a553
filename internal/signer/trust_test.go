package signer_test

import (
	"context"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-issuer/internal/signer"
)

func TestTrustStore_VerifyChain(t *testing.T) {
	issued := newIssuedBundle(t)
	other := newIssuedBundle(t)

	store := signer.NewTrustStore()
	store.AddCertificate(issued.Chain[0])
	assert.Equal(t, 1, store.Len())

	chain, err := store.VerifyChain(issued.Certificate, nil, time.Now())
	require.NoError(t, err)
	assert.Len(t, chain, 2)

	_, err = store.VerifyChain(other.Certificate, nil, time.Now())
	assert.Error(t, err)

	_, err = store.VerifyChain(nil, nil, time.Now())
	assert.Error(t, err)
}

func TestLoadTrustFile(t *testing.T) {
	issued := newIssuedBundle(t)
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, encodePEM(t, []*x509.Certificate{issued.Chain[0]}, nil), 0o600))

	store, err := signer.LoadTrustFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("no certificates"), 0o600))
	_, err = signer.LoadTrustFile(empty)
	assert.Error(t, err)

	_, err = signer.LoadTrustFile(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}

func TestVerify_WithTrustStore(t *testing.T) {
	issued := newIssuedBundle(t)
	s := signer.New(signer.NewMemorySource(issued))
	signed, err := s.Sign(context.Background(), []byte(unsignedDPS), signer.CertificateRef{Thumbprint: issued.Thumbprint()})
	require.NoError(t, err)

	trusted := signer.NewTrustStore()
	trusted.AddCertificate(issued.Chain[0])
	result, err := signer.Verify(signed, time.Now(), signer.WithTrustStore(trusted))
	require.NoError(t, err)
	assert.True(t, result.ChainChecked)
	assert.True(t, result.ChainValid)
	assert.True(t, result.Valid())

	untrusted := signer.NewTrustStore()
	untrusted.AddCertificate(newIssuedBundle(t).Chain[0])
	result, err = signer.Verify(signed, time.Now(), signer.WithTrustStore(untrusted))
	require.NoError(t, err)
	assert.True(t, result.SignatureValid)
	assert.False(t, result.ChainValid)
	assert.False(t, result.Valid())
}
