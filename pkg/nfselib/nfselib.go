// Package nfselib provides a public API for emitting Brazilian national
// service invoices (NFS-e).
//
// Example usage:
//
//	issuer, err := nfselib.NewIssuer(nfselib.Options{
//	    Environment:         nfselib.EnvironmentHomologation,
//	    Authority:           nfselib.AuthorityConfig{BaseURL: "https://sefin.producaorestrita.nfse.gov.br/SefinNacional"},
//	    CertificateFile:     "provider.pfx",
//	    CertificatePassword: os.Getenv("CERT_PASSWORD"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := issuer.Emit(ctx, input)
//	fmt.Println(result.State, nfselib.MessagesOf(err))
package nfselib

import (
	"github.com/rezonia/nfse-issuer/internal/authority"
	"github.com/rezonia/nfse-issuer/internal/dps"
	"github.com/rezonia/nfse-issuer/internal/model"
	"github.com/rezonia/nfse-issuer/internal/processor"
	"github.com/rezonia/nfse-issuer/internal/signer"
)

// Re-export input types
type (
	Input     = dps.Input
	Provider  = dps.Provider
	Regime    = dps.Regime
	Taker     = dps.Taker
	Address   = dps.Address
	Service   = dps.Service
	Values    = dps.Values
	TaxTotals = dps.TaxTotals
)

// Re-export lifecycle types
type (
	State         = model.State
	Environment   = model.Environment
	Identity      = model.Identity
	Result        = processor.Result
	CancelRequest = processor.CancelRequest
	BatchItem     = processor.BatchItem
)

// Re-export lifecycle states
const (
	StateDraft       = model.StateDraft
	StateBuilt       = model.StateBuilt
	StateSigned      = model.StateSigned
	StateTransmitted = model.StateTransmitted
	StateAuthorized  = model.StateAuthorized
	StateRejected    = model.StateRejected
	StateCancelled   = model.StateCancelled
)

// Re-export environments
const (
	EnvironmentProduction   = model.EnvironmentProduction
	EnvironmentHomologation = model.EnvironmentHomologation
)

// Re-export cancellation reasons
const (
	ReasonEmissionError  = dps.ReasonEmissionError
	ReasonServiceNotDone = dps.ReasonServiceNotDone
	ReasonOther          = dps.ReasonOther
)

// Re-export collaborator types
type (
	AuthorityConfig = authority.Config
	RetryPolicy     = authority.RetryPolicy
	Convention      = authority.Convention
	Classification  = authority.Classification
	Signer          = signer.Signer
	CertificateRef  = signer.CertificateRef
	Transmitter     = authority.Transmitter
)

// Re-export error types
type (
	ValidationError          = model.ValidationError
	StructuralAssemblyError  = model.StructuralAssemblyError
	SigningError             = model.SigningError
	TransmissionNetworkError = model.TransmissionNetworkError
	AuthorityRejection       = model.AuthorityRejection
	InvalidTransitionError   = model.InvalidTransitionError
)

// Re-export helpers
var (
	MessagesOf         = model.MessagesOf
	DecodeInputs       = dps.DecodeInputs
	NationalConvention = authority.NationalConvention
	DefaultRetryPolicy = authority.DefaultRetryPolicy
)
