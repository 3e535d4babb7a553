package nfselib_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-issuer/pkg/nfselib"
)

const dpsYAML = `
series: "1"
number: "42"
emission_municipality: "3550308"
provider:
  cnpj: "11222333000181"
  legal_name: Prestadora Exemplo Ltda
taker:
  cnpj: "11444777000161"
  name: Tomadora Exemplo SA
service:
  municipality_code: "3550308"
  national_code: "010701"
  description: Suporte técnico
values:
  service_value: 1500.00
`

type passthroughSigner struct{}

func (passthroughSigner) Sign(_ context.Context, unsigned []byte, _ nfselib.CertificateRef) ([]byte, error) {
	return unsigned, nil
}

func input(t *testing.T) nfselib.Input {
	t.Helper()
	inputs, err := nfselib.DecodeInputs([]byte(dpsYAML))
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	return inputs[0]
}

func TestNewIssuer_Errors(t *testing.T) {
	_, err := nfselib.NewIssuer(nfselib.Options{})
	assert.Error(t, err)

	_, err = nfselib.NewIssuer(nfselib.Options{Signer: passthroughSigner{}})
	assert.ErrorContains(t, err, "base URL is required")

	_, err = nfselib.NewIssuer(nfselib.Options{CertificateFile: "/nonexistent/cert.pfx"})
	assert.Error(t, err)
}

func TestIssuer_EmitAgainstAuthority(t *testing.T) {
	const key = "35503082211222333000181000000000000042503100000001"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<NFSe><infNFSe><nNFSe>12</nNFSe><cStat>100</cStat><chNFSe>` + key + `</chNFSe></infNFSe></NFSe>`))
	}))
	defer srv.Close()

	issuer, err := nfselib.NewIssuer(nfselib.Options{
		Signer:    passthroughSigner{},
		Authority: nfselib.AuthorityConfig{BaseURL: srv.URL},
	})
	require.NoError(t, err)

	result, err := issuer.Emit(context.Background(), input(t))
	require.NoError(t, err)
	assert.Equal(t, nfselib.StateAuthorized, result.State)
	assert.Equal(t, key, result.AccessKey)
	assert.Equal(t, "12", result.NFSeNumber)

	status, err := issuer.Status(context.Background(), result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, nfselib.StateAuthorized, status.State)

	cancelled, err := issuer.Cancel(context.Background(), result.DocumentID, nfselib.CancelRequest{
		ReasonCode: nfselib.ReasonServiceNotDone,
		Reason:     "Serviço não foi prestado ao tomador",
	})
	require.NoError(t, err)
	assert.Equal(t, nfselib.StateCancelled, cancelled.State)
}

func TestIssuer_Rejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"erros":[{"Codigo":"E0312","Descricao":"Código de tributação nacional inexistente"}]}`))
	}))
	defer srv.Close()

	issuer, err := nfselib.NewIssuer(nfselib.Options{
		Signer:    passthroughSigner{},
		Authority: nfselib.AuthorityConfig{BaseURL: srv.URL},
	})
	require.NoError(t, err)

	result, err := issuer.Emit(context.Background(), input(t))
	var rejection *nfselib.AuthorityRejection
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, "E0312", rejection.Code)
	assert.Equal(t, nfselib.StateRejected, result.State)
	assert.Equal(t, []string{"Código de tributação nacional inexistente"}, nfselib.MessagesOf(err))
}

func TestIssuer_Classify(t *testing.T) {
	issuer, err := nfselib.NewIssuer(nfselib.Options{
		Signer:    passthroughSigner{},
		Authority: nfselib.AuthorityConfig{BaseURL: "http://localhost"},
	})
	require.NoError(t, err)

	assert.True(t, issuer.Classify("E0014").IsError)
	assert.True(t, issuer.Classify("L010").IsAlert)
	assert.True(t, issuer.Classify("100").IsSuccess)
}
