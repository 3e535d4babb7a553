package processor_test

import (
	"context"
	"sync"
	"time"

	dec "github.com/shopspring/decimal"

	"github.com/rezonia/nfse-issuer/internal/authority"
	"github.com/rezonia/nfse-issuer/internal/dps"
	"github.com/rezonia/nfse-issuer/internal/signer"
)

const (
	providerCNPJ = "11222333000181"
	accessKey    = "35503082211222333000181000000000000042503100000001"
	saoPaulo     = "3550308"
)

var certRef = signer.CertificateRef{Thumbprint: "ab:cd:ef"}

func validInput() dps.Input {
	return dps.Input{
		Series:               "1",
		Number:               "42",
		EmissionMunicipality: saoPaulo,
		Provider: dps.Provider{
			CNPJ:      providerCNPJ,
			LegalName: "Prestadora Exemplo Ltda",
		},
		Taker: dps.Taker{
			CNPJ: "11444777000161",
			Name: "Tomadora Exemplo SA",
		},
		Service: dps.Service{
			MunicipalityCode: saoPaulo,
			NationalCode:     "010701",
			Description:      "Suporte técnico em informática",
		},
		Values: dps.Values{
			ServiceValue: dec.RequireFromString("1500.00"),
		},
	}
}

type fakeSigner struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeSigner) Sign(_ context.Context, unsigned []byte, _ signer.CertificateRef) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("<!-- signed -->"), unsigned...), nil
}

type fakeTransmitter struct {
	mu        sync.Mutex
	delay     time.Duration
	transmit  func(n int) (*authority.Response, error)
	lookup    func() (*authority.Response, error)
	event     func() (*authority.Response, error)
	submitted [][]byte
	lookups   int
	events    int

	// when release is set Transmit signals entered and blocks until release
	// closes or its context ends
	entered chan struct{}
	release chan struct{}
}

func (f *fakeTransmitter) Transmit(ctx context.Context, sub authority.Submission) (*authority.Response, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.release != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, sub.SignedXML)
	if f.transmit == nil {
		return response("100", ""), nil
	}
	return f.transmit(len(f.submitted))
}

func (f *fakeTransmitter) Lookup(context.Context, string) (*authority.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookup == nil {
		return &authority.Response{StatusCode: 404, Code: "E404"}, nil
	}
	return f.lookup()
}

func (f *fakeTransmitter) SendEvent(context.Context, authority.EventSubmission) (*authority.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events++
	if f.event == nil {
		return &authority.Response{StatusCode: 200, Code: "135", Protocol: "PROT-1", Body: []byte("<evento/>")}, nil
	}
	return f.event()
}

func (f *fakeTransmitter) transmitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

// response builds an authority answer; success codes carry the access key
func response(code, body string) *authority.Response {
	r := &authority.Response{StatusCode: 200, Code: code, Body: []byte(body), Attempts: 1}
	if authority.Classify(code).IsError {
		r.StatusCode = 400
		return r
	}
	r.AccessKey = accessKey
	r.NFSeNumber = "1001"
	if body == "" {
		r.Body = []byte("<NFSe/>")
	}
	return r
}
