package nfselib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rezonia/nfse-issuer/internal/authority"
	"github.com/rezonia/nfse-issuer/internal/dps"
	"github.com/rezonia/nfse-issuer/internal/lifecycle"
	"github.com/rezonia/nfse-issuer/internal/processor"
	"github.com/rezonia/nfse-issuer/internal/signer"
)

// Options configures an Issuer. Signer and Transmitter override the
// certificate file and authority configuration when set.
type Options struct {
	Environment         Environment
	AppVersion          string
	Authority           AuthorityConfig
	Convention          Convention
	CertificateFile     string
	CertificatePassword string
	MutualTLS           bool
	Signer              Signer
	Certificate         CertificateRef
	Transmitter         Transmitter
	Logger              *slog.Logger
}

// Issuer emits and tracks documents with an in-memory lifecycle store
type Issuer struct {
	pipeline    *processor.Pipeline
	certificate CertificateRef
}

// NewIssuer wires an issuer from opts
func NewIssuer(opts Options) (*Issuer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	env := opts.Environment
	if env == 0 {
		env = EnvironmentHomologation
	}

	tracker := lifecycle.NewTracker(lifecycle.NewMemoryStore(), lifecycle.WithLogger(logger))
	clientOpts := []authority.Option{authority.WithLedger(tracker), authority.WithLogger(logger)}

	iss := &Issuer{certificate: opts.Certificate}
	sign := opts.Signer
	if sign == nil {
		if opts.CertificateFile == "" {
			return nil, errors.New("a signer or a certificate file is required")
		}
		bundle, err := signer.LoadFile(opts.CertificateFile, opts.CertificatePassword)
		if err != nil {
			return nil, fmt.Errorf("load certificate: %w", err)
		}
		sign = signer.New(signer.NewMemorySource(bundle), signer.WithLogger(logger))
		iss.certificate = CertificateRef{Thumbprint: bundle.Thumbprint()}
		if opts.MutualTLS {
			clientOpts = append(clientOpts, authority.WithTLSCertificate(bundle.TLSCertificate()))
		}
	}

	transmitter := opts.Transmitter
	if transmitter == nil {
		client, err := authority.NewClient(opts.Authority, clientOpts...)
		if err != nil {
			return nil, err
		}
		transmitter = client
	}

	iss.pipeline = processor.NewPipeline(
		processor.WithBuilder(dps.NewBuilder(dps.WithEnvironment(env), dps.WithAppVersion(opts.AppVersion))),
		processor.WithClassifier(authority.NewClassifier(opts.Convention)),
		processor.WithSigner(sign),
		processor.WithTransmitter(transmitter),
		processor.WithTracker(tracker),
		processor.WithLogger(logger),
	)
	return iss, nil
}

// Emit drives one input to a terminal authority answer
func (i *Issuer) Emit(ctx context.Context, in Input) (*Result, error) {
	return i.pipeline.Emit(ctx, in, i.certificate)
}

// EmitAll emits inputs with at most limit in flight
func (i *Issuer) EmitAll(ctx context.Context, inputs []Input, limit int) []BatchItem {
	return i.pipeline.EmitAll(ctx, inputs, i.certificate, limit)
}

// Status returns the current view of a document
func (i *Issuer) Status(ctx context.Context, id string) (*Result, error) {
	return i.pipeline.Status(ctx, id)
}

// Cancel cancels an authorized document
func (i *Issuer) Cancel(ctx context.Context, id string, req CancelRequest) (*Result, error) {
	return i.pipeline.Cancel(ctx, id, req, i.certificate)
}

// Classify classifies an authority return code
func (i *Issuer) Classify(code string) Classification {
	return i.pipeline.Classifier().Classify(code)
}
