package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rezonia/nfse-issuer/internal/model"
)

// ErrAccessKeyImmutable is returned when a payload tries to replace an assigned access key
var ErrAccessKeyImmutable = errors.New("access key already assigned")

// Observer is notified after every persisted transition. from is empty for
// newly opened documents.
type Observer interface {
	Transitioned(ctx context.Context, doc *model.Document, from model.State)
}

// Payload carries the artifacts produced by the stage that ends in the target state
type Payload struct {
	UnsignedXML []byte
	SignedXML   []byte
	Receipt     []byte
	Certificate string
	AccessKey   string
	NFSeNumber  string
	Attempt     *model.Attempt
	Messages    []string
	Alerts      []string
}

// Tracker advances documents through the lifecycle
type Tracker struct {
	store     Store
	clock     func() time.Time
	newID     func() string
	logger    *slog.Logger
	observers []Observer
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock injects the clock used for timestamps
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// WithIDGenerator replaces the UUID generator
func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) {
		t.newID = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithObserver registers an observer
func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		if o != nil {
			t.observers = append(t.observers, o)
		}
	}
}

// NewTracker creates a tracker over store
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		clock:  time.Now,
		newID:  uuid.NewString,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open creates a Draft record for identity. When the identity already exists
// the existing record is returned together with model.ErrDuplicateIdentity.
func (t *Tracker) Open(ctx context.Context, identity model.Identity, env model.Environment, dpsID string) (*model.Document, error) {
	now := t.clock().UTC()
	doc := &model.Document{
		ID:             t.newID(),
		Identity:       identity,
		DPSID:          dpsID,
		State:          model.StateDraft,
		Environment:    env,
		CreatedAt:      now,
		UpdatedAt:      now,
		StateChangedAt: now,
	}

	if err := t.store.Create(ctx, doc); err != nil {
		if errors.Is(err, model.ErrDuplicateIdentity) {
			existing, getErr := t.store.FindByIdentity(ctx, identity)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load existing document: %w", getErr)
			}
			return existing, fmt.Errorf("%w: %s", model.ErrDuplicateIdentity, identity.Key())
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	t.logger.Info("document opened",
		slog.String("document_id", doc.ID),
		slog.String("dps_id", dpsID),
		slog.String("state", string(doc.State)))
	t.notify(ctx, doc, "")
	return doc, nil
}

// Get returns the document with id
func (t *Tracker) Get(ctx context.Context, id string) (*model.Document, error) {
	return t.store.Get(ctx, id)
}

// FindByIdentity returns the document for identity
func (t *Tracker) FindByIdentity(ctx context.Context, identity model.Identity) (*model.Document, error) {
	return t.store.FindByIdentity(ctx, identity)
}

// Advance moves document id from -> to and stores the payload with it.
// It fails with *model.InvalidTransitionError when the move is not permitted
// or the document is no longer in from.
func (t *Tracker) Advance(ctx context.Context, id string, from, to model.State, p Payload) (*model.Document, error) {
	if !Allowed(from, to) {
		return nil, model.NewInvalidTransitionError(id, from, to, "")
	}

	doc, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.State != from {
		return nil, model.NewInvalidTransitionError(id, from, to, doc.State)
	}
	if err := apply(doc, to, p); err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}

	now := t.clock().UTC()
	doc.State = to
	doc.UpdatedAt = now
	doc.StateChangedAt = now

	if err := t.store.Swap(ctx, from, doc); err != nil {
		if errors.Is(err, model.ErrStateMismatch) {
			current := model.State("")
			if latest, getErr := t.store.Get(ctx, id); getErr == nil {
				current = latest.State
			}
			return nil, model.NewInvalidTransitionError(id, from, to, current)
		}
		return nil, fmt.Errorf("failed to persist transition: %w", err)
	}

	t.logger.Info("document advanced",
		slog.String("document_id", id),
		slog.String("dps_id", doc.DPSID),
		slog.String("from", string(from)),
		slog.String("state", string(to)))
	t.notify(ctx, doc, from)
	return doc, nil
}

// Cancel records the cancellation of an authorized document. Cancelling an
// already-cancelled document returns it unchanged.
func (t *Tracker) Cancel(ctx context.Context, id string, c model.Cancellation) (*model.Document, error) {
	doc, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch doc.State {
	case model.StateCancelled:
		return doc, nil
	case model.StateAuthorized:
	default:
		return nil, model.NewInvalidTransitionError(id, model.StateAuthorized, model.StateCancelled, doc.State)
	}

	now := t.clock().UTC()
	if c.At.IsZero() {
		c.At = now
	}
	doc.Cancellation = &c
	doc.State = model.StateCancelled
	doc.UpdatedAt = now
	doc.StateChangedAt = now

	if err := t.store.Swap(ctx, model.StateAuthorized, doc); err != nil {
		if !errors.Is(err, model.ErrStateMismatch) {
			return nil, fmt.Errorf("failed to persist cancellation: %w", err)
		}
		latest, getErr := t.store.Get(ctx, id)
		if getErr == nil && latest.State == model.StateCancelled {
			return latest, nil
		}
		current := model.State("")
		if latest != nil {
			current = latest.State
		}
		return nil, model.NewInvalidTransitionError(id, model.StateAuthorized, model.StateCancelled, current)
	}

	t.logger.Info("document cancelled",
		slog.String("document_id", id),
		slog.String("access_key", doc.AccessKey),
		slog.String("state", string(doc.State)))
	t.notify(ctx, doc, model.StateAuthorized)
	return doc, nil
}

// AuthorizedAccessKey implements the authorization ledger consulted before transmission
func (t *Tracker) AuthorizedAccessKey(ctx context.Context, identity model.Identity) (string, bool, error) {
	doc, err := t.store.FindByIdentity(ctx, identity)
	if errors.Is(err, model.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if doc.State != model.StateAuthorized || doc.AccessKey == "" {
		return "", false, nil
	}
	return doc.AccessKey, true, nil
}

func apply(doc *model.Document, to model.State, p Payload) error {
	if p.AccessKey != "" {
		if doc.AccessKey != "" && doc.AccessKey != p.AccessKey {
			return ErrAccessKeyImmutable
		}
		doc.AccessKey = p.AccessKey
	}

	// a new build cycle discards everything derived from the previous XML
	if to == model.StateBuilt {
		doc.SignedXML = nil
		doc.Receipt = nil
		doc.Messages = nil
		doc.Alerts = nil
	}

	if p.UnsignedXML != nil {
		doc.UnsignedXML = p.UnsignedXML
	}
	if p.SignedXML != nil {
		doc.SignedXML = p.SignedXML
	}
	if p.Receipt != nil {
		doc.Receipt = p.Receipt
	}
	if p.Certificate != "" {
		doc.Certificate = p.Certificate
	}
	if p.NFSeNumber != "" {
		doc.NFSeNumber = p.NFSeNumber
	}
	if p.Attempt != nil {
		doc.Attempts = append(doc.Attempts, *p.Attempt)
	}
	if p.Messages != nil {
		doc.Messages = p.Messages
	}
	if p.Alerts != nil {
		doc.Alerts = p.Alerts
	}
	return nil
}

func (t *Tracker) notify(ctx context.Context, doc *model.Document, from model.State) {
	for _, o := range t.observers {
		o.Transitioned(ctx, doc.Clone(), from)
	}
}
