// Package processor orchestrates NFSe emission: build, assemble, sign,
// transmit, classify and track.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/rezonia/nfse-issuer/internal/authority"
	"github.com/rezonia/nfse-issuer/internal/dps"
	"github.com/rezonia/nfse-issuer/internal/lifecycle"
	"github.com/rezonia/nfse-issuer/internal/metrics"
	"github.com/rezonia/nfse-issuer/internal/model"
	"github.com/rezonia/nfse-issuer/internal/signer"
)

const tracerName = "github.com/rezonia/nfse-issuer/internal/processor"

// Pipeline stages
const (
	StageBuild    = "build"
	StageAssemble = "assemble"
	StageSign     = "sign"
	StageTransmit = "transmit"
	StageLookup   = "lookup"
	StageCancel   = "cancel"
)

// DefaultEmitTimeout bounds one shared emission run
const DefaultEmitTimeout = 5 * time.Minute

// ErrNotConfigured is returned when a required collaborator is missing
var ErrNotConfigured = errors.New("pipeline collaborator not configured")

// Result is what callers see of a document after an operation
type Result struct {
	DocumentID        string      `json:"document_id"`
	DPSID             string      `json:"dps_id"`
	State             model.State `json:"state"`
	AccessKey         string      `json:"access_key,omitempty"`
	NFSeNumber        string      `json:"nfse_number,omitempty"`
	Code              string      `json:"code,omitempty"`
	Messages          []string    `json:"messages"`
	Alerts            []string    `json:"alerts"`
	Attempts          int         `json:"attempts,omitempty"`
	AlreadyAuthorized bool        `json:"already_authorized,omitempty"`
	XML               []byte      `json:"-"`
}

// Pipeline wires the emission components together
type Pipeline struct {
	builder     *dps.Builder
	assembler   *dps.Assembler
	signer      signer.Signer
	transmitter authority.Transmitter
	classifier  *authority.Classifier
	tracker     *lifecycle.Tracker
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	flight      singleflight.Group
	emitTimeout time.Duration
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithBuilder sets the document context builder
func WithBuilder(b *dps.Builder) Option {
	return func(p *Pipeline) {
		p.builder = b
	}
}

// WithSigner sets the signing capability
func WithSigner(s signer.Signer) Option {
	return func(p *Pipeline) {
		p.signer = s
	}
}

// WithTransmitter sets the authority transport
func WithTransmitter(t authority.Transmitter) Option {
	return func(p *Pipeline) {
		p.transmitter = t
	}
}

// WithClassifier sets the return-code classifier
func WithClassifier(c *authority.Classifier) Option {
	return func(p *Pipeline) {
		p.classifier = c
	}
}

// WithTracker sets the lifecycle tracker
func WithTracker(t *lifecycle.Tracker) Option {
	return func(p *Pipeline) {
		p.tracker = t
	}
}

// WithMetrics enables instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithEmitTimeout bounds a shared emission run. The run is detached from the
// caller's cancellation so coalesced callers are not failed by another's.
func WithEmitTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.emitTimeout = d
		}
	}
}

// WithTracer replaces the global OpenTelemetry tracer
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// NewPipeline creates a new processing pipeline. Signer and transmitter have
// no defaults; the tracker defaults to an in-memory store.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		builder:     dps.NewBuilder(),
		assembler:   dps.NewAssembler(),
		classifier:  authority.NewClassifier(authority.NationalConvention()),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracker == nil {
		p.tracker = lifecycle.NewTracker(lifecycle.NewMemoryStore(), lifecycle.WithLogger(p.logger))
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// Tracker exposes the lifecycle tracker
func (p *Pipeline) Tracker() *lifecycle.Tracker {
	return p.tracker
}

// Classifier exposes the return-code classifier
func (p *Pipeline) Classifier() *authority.Classifier {
	return p.classifier
}

// Emit drives input from context construction to a terminal authority answer.
// Validation fails before anything is persisted or sent. Concurrent calls for
// the same identity share one run, which outlives a caller that gives up. On
// rejection both the result and a *model.AuthorityRejection are returned.
func (p *Pipeline) Emit(ctx context.Context, in dps.Input, ref signer.CertificateRef) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "nfse.emit")
	defer span.End()

	start := time.Now()
	dctx, err := p.builder.Build(in)
	p.metrics.ObserveStage(StageBuild, start)
	if err != nil {
		p.metrics.IncrementEmission("invalid")
		return nil, p.fail(span, err)
	}
	if p.signer == nil || p.transmitter == nil {
		return nil, p.fail(span, ErrNotConfigured)
	}

	identity := dctx.Identity()
	span.SetAttributes(
		attribute.String("nfse.dps_id", dctx.DPSID),
		attribute.String("nfse.identity", identity.Key()),
	)

	type outcome struct {
		result *Result
		err    error
	}
	ch := p.flight.DoChan(identity.Key(), func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.emitTimeout)
		defer cancel()
		result, err := p.emit(runCtx, dctx, ref)
		return outcome{result, err}, nil
	})

	var out outcome
	select {
	case res := <-ch:
		out = res.Val.(outcome)
		if res.Shared {
			p.logger.Debug("emission coalesced", slog.String("dps_id", dctx.DPSID))
		}
	case <-ctx.Done():
		p.logger.Warn("caller gave up, emission continues",
			slog.String("dps_id", dctx.DPSID),
			slog.String("error", ctx.Err().Error()))
		p.metrics.IncrementEmission("abandoned")
		return nil, p.fail(span, ctx.Err())
	}

	p.metrics.IncrementEmission(emissionOutcome(out.result, out.err))
	if out.err != nil {
		return out.result, p.fail(span, out.err)
	}
	span.SetAttributes(attribute.String("nfse.state", string(out.result.State)))
	return out.result, nil
}

func (p *Pipeline) emit(ctx context.Context, dctx *dps.DocumentContext, ref signer.CertificateRef) (*Result, error) {
	doc, err := p.tracker.Open(ctx, dctx.Identity(), dctx.Environment, dctx.DPSID)
	if err != nil && !errors.Is(err, model.ErrDuplicateIdentity) {
		return nil, err
	}
	if err != nil {
		p.logger.Info("resuming existing document",
			slog.String("document_id", doc.ID),
			slog.String("dps_id", doc.DPSID),
			slog.String("state", string(doc.State)))
	}

	for {
		if doc.State.Terminal() {
			out := resultOf(doc)
			out.AlreadyAuthorized = doc.State == model.StateAuthorized
			return out, nil
		}
		switch doc.State {
		case model.StateDraft, model.StateRejected:
			doc, err = p.assemble(ctx, doc, dctx)
		case model.StateBuilt:
			doc, err = p.sign(ctx, doc, ref)
		case model.StateSigned:
			return p.transmit(ctx, doc)
		case model.StateTransmitted:
			return p.reconcile(ctx, doc, nil, nil)
		default:
			return resultOf(doc), fmt.Errorf("document %s in unknown state %q", doc.ID, doc.State)
		}
		if err != nil {
			return resultOf(doc), err
		}
	}
}

func (p *Pipeline) assemble(ctx context.Context, doc *model.Document, dctx *dps.DocumentContext) (*model.Document, error) {
	ctx, span := p.tracer.Start(ctx, "nfse.assemble")
	defer span.End()
	start := time.Now()
	defer p.metrics.ObserveStage(StageAssemble, start)

	unsigned, err := p.assembler.Assemble(dctx)
	if err != nil {
		p.logger.Error("assembly failed",
			slog.String("document_id", doc.ID),
			slog.String("dps_id", doc.DPSID),
			slog.String("error", err.Error()))
		return doc, p.fail(span, err)
	}
	next, err := p.tracker.Advance(ctx, doc.ID, doc.State, model.StateBuilt, lifecycle.Payload{UnsignedXML: unsigned})
	if err != nil {
		return doc, p.fail(span, err)
	}
	return next, nil
}

func (p *Pipeline) sign(ctx context.Context, doc *model.Document, ref signer.CertificateRef) (*model.Document, error) {
	ctx, span := p.tracer.Start(ctx, "nfse.sign")
	defer span.End()
	start := time.Now()
	defer p.metrics.ObserveStage(StageSign, start)

	signed, err := p.signer.Sign(ctx, doc.UnsignedXML, ref)
	if err != nil {
		p.logger.Warn("signing failed",
			slog.String("document_id", doc.ID),
			slog.String("dps_id", doc.DPSID),
			slog.String("state", string(doc.State)),
			slog.String("error", err.Error()))
		return doc, p.fail(span, err)
	}
	next, err := p.tracker.Advance(ctx, doc.ID, model.StateBuilt, model.StateSigned, lifecycle.Payload{
		SignedXML:   signed,
		Certificate: signer.NormalizeThumbprint(ref.Thumbprint),
	})
	if err != nil {
		return doc, p.fail(span, err)
	}
	return next, nil
}

func (p *Pipeline) transmit(ctx context.Context, doc *model.Document) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "nfse.transmit")
	defer span.End()
	start := time.Now()
	defer p.metrics.ObserveStage(StageTransmit, start)

	resp, err := p.transmitter.Transmit(ctx, authority.Submission{
		Identity:  doc.Identity,
		DPSID:     doc.DPSID,
		SignedXML: doc.SignedXML,
	})
	if err != nil {
		// the document stays Signed; re-driving resends the same XML
		p.logger.Error("transmission failed",
			slog.String("document_id", doc.ID),
			slog.String("dps_id", doc.DPSID),
			slog.String("state", string(doc.State)),
			slog.String("error", err.Error()))
		return resultOf(doc), p.fail(span, err)
	}
	p.metrics.ObserveAttempts(resp.Attempts)
	span.SetAttributes(attribute.Int("nfse.attempts", resp.Attempts))

	res := p.classifier.EvaluateResponse(resp)
	if resp.AlreadyAuthorized {
		res = authority.Result{Classification: authority.Classification{IsSuccess: true}, Messages: []string{}}
	}
	p.metrics.IncrementReturnCode(res.Outcome())

	attempt := &model.Attempt{
		At:         time.Now().UTC(),
		Attempts:   resp.Attempts,
		HTTPStatus: resp.StatusCode,
		Code:       res.Code,
		Outcome:    res.Outcome(),
		Messages:   res.Messages,
		Body:       resp.Body,
	}
	doc, err = p.tracker.Advance(ctx, doc.ID, model.StateSigned, model.StateTransmitted, lifecycle.Payload{Attempt: attempt})
	if err != nil {
		return nil, p.fail(span, err)
	}
	p.logger.Info("authority responded",
		slog.String("document_id", doc.ID),
		slog.String("dps_id", doc.DPSID),
		slog.Int("attempt", resp.Attempts),
		slog.String("code", res.Code),
		slog.String("outcome", res.Outcome()))

	if res.IsError && p.classifier.IsDuplicate(res.Code) {
		return p.reconcile(ctx, doc, resp, &res)
	}
	return p.conclude(ctx, doc, resp, res)
}

// reconcile asks the authority what it holds for a DPS whose outcome is
// unknown locally: a duplicate rejection or a crash after transmission.
func (p *Pipeline) reconcile(ctx context.Context, doc *model.Document, sent *authority.Response, original *authority.Result) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "nfse.lookup")
	defer span.End()
	start := time.Now()
	defer p.metrics.ObserveStage(StageLookup, start)

	resp, err := p.transmitter.Lookup(ctx, doc.DPSID)
	if err == nil && resp.AccessKey != "" {
		res := p.classifier.EvaluateResponse(resp)
		if !res.IsError {
			p.logger.Info("duplicate reconciled to authorized",
				slog.String("document_id", doc.ID),
				slog.String("dps_id", doc.DPSID),
				slog.String("access_key", resp.AccessKey))
			return p.conclude(ctx, doc, resp, res)
		}
	}
	if original == nil {
		if err != nil {
			return resultOf(doc), p.fail(span, err)
		}
		res := p.classifier.EvaluateResponse(resp)
		return p.conclude(ctx, doc, resp, res)
	}
	return p.conclude(ctx, doc, sent, *original)
}

// conclude moves a Transmitted document to its classified terminal state
func (p *Pipeline) conclude(ctx context.Context, doc *model.Document, resp *authority.Response, res authority.Result) (*Result, error) {
	if res.IsError {
		next, err := p.tracker.Advance(ctx, doc.ID, model.StateTransmitted, model.StateRejected, lifecycle.Payload{
			Messages: res.Messages,
			Alerts:   []string{},
		})
		if err != nil {
			return nil, err
		}
		out := resultOf(next)
		out.Code = res.Code
		return out, res.Err(resp.StatusCode)
	}

	alerts := []string{}
	if res.IsAlert {
		alerts = res.Messages
	}
	next, err := p.tracker.Advance(ctx, doc.ID, model.StateTransmitted, model.StateAuthorized, lifecycle.Payload{
		AccessKey:  resp.AccessKey,
		NFSeNumber: resp.NFSeNumber,
		Receipt:    resp.Body,
		Messages:   []string{},
		Alerts:     alerts,
	})
	if err != nil {
		return nil, err
	}
	out := resultOf(next)
	out.Code = res.Code
	out.AlreadyAuthorized = resp.AlreadyAuthorized
	return out, nil
}

// Status returns the current state and stored XML of a document
func (p *Pipeline) Status(ctx context.Context, id string) (*Result, error) {
	doc, err := p.tracker.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return resultOf(doc), nil
}

// CancelRequest carries the caller's cancellation data
type CancelRequest struct {
	ReasonCode int    `json:"reason_code"`
	Reason     string `json:"reason"`
}

// Cancel registers the cancellation event with the authority and records it.
// An already-cancelled document is returned as is.
func (p *Pipeline) Cancel(ctx context.Context, id string, req CancelRequest, ref signer.CertificateRef) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "nfse.cancel", trace.WithAttributes(attribute.String("nfse.document_id", id)))
	defer span.End()
	start := time.Now()
	defer p.metrics.ObserveStage(StageCancel, start)

	doc, err := p.tracker.Get(ctx, id)
	if err != nil {
		return nil, p.fail(span, err)
	}
	switch doc.State {
	case model.StateCancelled:
		return resultOf(doc), nil
	case model.StateAuthorized:
	default:
		return resultOf(doc), p.fail(span, model.NewInvalidTransitionError(id, model.StateAuthorized, model.StateCancelled, doc.State))
	}
	if p.signer == nil || p.transmitter == nil {
		return nil, p.fail(span, ErrNotConfigured)
	}

	cctx, err := p.builder.BuildCancellation(dps.CancellationRequest{
		AccessKey:      doc.AccessKey,
		AuthorDocument: doc.Identity.Provider,
		ReasonCode:     req.ReasonCode,
		Reason:         req.Reason,
	})
	if err != nil {
		return resultOf(doc), p.fail(span, err)
	}
	unsigned, err := p.assembler.AssembleCancellation(cctx)
	if err != nil {
		return resultOf(doc), p.fail(span, err)
	}
	signed, err := p.signer.Sign(ctx, unsigned, ref)
	if err != nil {
		return resultOf(doc), p.fail(span, err)
	}

	resp, err := p.transmitter.SendEvent(ctx, authority.EventSubmission{AccessKey: doc.AccessKey, SignedXML: signed})
	if err != nil {
		return resultOf(doc), p.fail(span, err)
	}
	res := p.classifier.EvaluateResponse(resp)
	p.metrics.IncrementReturnCode(res.Outcome())
	if res.IsError {
		out := resultOf(doc)
		out.Code = res.Code
		out.Messages = res.Messages
		return out, p.fail(span, res.Err(resp.StatusCode))
	}

	cancelled, err := p.tracker.Cancel(ctx, id, model.Cancellation{
		Reason:   cctx.Reason,
		Code:     strconv.Itoa(cctx.ReasonCode),
		Protocol: resp.Protocol,
		Receipt:  resp.Body,
	})
	if err != nil {
		return resultOf(doc), p.fail(span, err)
	}
	p.logger.Info("document cancelled",
		slog.String("document_id", id),
		slog.String("dps_id", cancelled.DPSID),
		slog.String("state", string(cancelled.State)))
	out := resultOf(cancelled)
	out.Code = res.Code
	return out, nil
}

func (p *Pipeline) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func resultOf(doc *model.Document) *Result {
	if doc == nil {
		return nil
	}
	out := &Result{
		DocumentID: doc.ID,
		DPSID:      doc.DPSID,
		State:      doc.State,
		AccessKey:  doc.AccessKey,
		NFSeNumber: doc.NFSeNumber,
		Messages:   nonNil(doc.Messages),
		Alerts:     nonNil(doc.Alerts),
		XML:        doc.SignedXML,
	}
	if out.XML == nil {
		out.XML = doc.UnsignedXML
	}
	if last := doc.LastAttempt(); last != nil {
		out.Attempts = last.Attempts
		out.Code = last.Code
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emissionOutcome(r *Result, err error) string {
	switch {
	case r != nil && (r.State == model.StateAuthorized || r.State == model.StateRejected || r.State == model.StateCancelled):
		return string(r.State)
	case err != nil:
		return "failed"
	case r != nil:
		return string(r.State)
	default:
		return "unknown"
	}
}
