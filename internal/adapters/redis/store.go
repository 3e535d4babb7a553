package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rezonia/nfse-issuer/internal/model"
)

const (
	defaultKeyPrefix = "nfse"
	maxSwapRetries   = 3
)

// Store implements lifecycle.Store on Redis
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore creates a store; an empty prefix means "nfse"
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) docKey(id string) string {
	return s.prefix + ":doc:" + id
}

func (s *Store) identityKey(identity model.Identity) string {
	return s.prefix + ":identity:" + identity.Key()
}

func (s *Store) Create(ctx context.Context, doc *model.Document) error {
	payload, err := encode(doc)
	if err != nil {
		return err
	}
	claimed, err := s.client.SetNX(ctx, s.identityKey(doc.Identity), doc.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("claim identity: %w", err)
	}
	if !claimed {
		return model.ErrDuplicateIdentity
	}
	if err := s.client.Set(ctx, s.docKey(doc.ID), payload, 0).Err(); err != nil {
		_ = s.client.Del(ctx, s.identityKey(doc.Identity)).Err()
		return fmt.Errorf("store document: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Document, error) {
	raw, err := s.client.Get(ctx, s.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return decode(raw)
}

func (s *Store) FindByIdentity(ctx context.Context, identity model.Identity) (*model.Document, error) {
	id, err := s.client.Get(ctx, s.identityKey(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *Store) Swap(ctx context.Context, from model.State, doc *model.Document) error {
	payload, err := encode(doc)
	if err != nil {
		return err
	}
	key := s.docKey(doc.ID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decode(raw)
		if err != nil {
			return err
		}
		if current.State != from {
			return model.ErrStateMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxSwapRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	// the key kept changing under us; whoever won moved the state
	return model.ErrStateMismatch
}

// record is the stored form; model.Document hides its XML from JSON
type record struct {
	ID             string              `json:"id"`
	Identity       model.Identity      `json:"identity"`
	DPSID          string              `json:"dps_id"`
	AccessKey      string              `json:"access_key,omitempty"`
	NFSeNumber     string              `json:"nfse_number,omitempty"`
	State          model.State         `json:"state"`
	Environment    model.Environment   `json:"environment"`
	Certificate    string              `json:"certificate,omitempty"`
	UnsignedXML    []byte              `json:"unsigned_xml,omitempty"`
	SignedXML      []byte              `json:"signed_xml,omitempty"`
	Receipt        []byte              `json:"receipt,omitempty"`
	Messages       []string            `json:"messages,omitempty"`
	Alerts         []string            `json:"alerts,omitempty"`
	Attempts       []attemptRecord     `json:"attempts,omitempty"`
	Cancellation   *cancellationRecord `json:"cancellation,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	StateChangedAt time.Time           `json:"state_changed_at"`
}

type attemptRecord struct {
	model.Attempt
	Body []byte `json:"body,omitempty"`
}

type cancellationRecord struct {
	model.Cancellation
	Receipt []byte `json:"receipt,omitempty"`
}

func encode(doc *model.Document) ([]byte, error) {
	rec := record{
		ID:             doc.ID,
		Identity:       doc.Identity,
		DPSID:          doc.DPSID,
		AccessKey:      doc.AccessKey,
		NFSeNumber:     doc.NFSeNumber,
		State:          doc.State,
		Environment:    doc.Environment,
		Certificate:    doc.Certificate,
		UnsignedXML:    doc.UnsignedXML,
		SignedXML:      doc.SignedXML,
		Receipt:        doc.Receipt,
		Messages:       doc.Messages,
		Alerts:         doc.Alerts,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		StateChangedAt: doc.StateChangedAt,
	}
	for _, a := range doc.Attempts {
		rec.Attempts = append(rec.Attempts, attemptRecord{Attempt: a, Body: a.Body})
	}
	if doc.Cancellation != nil {
		rec.Cancellation = &cancellationRecord{Cancellation: *doc.Cancellation, Receipt: doc.Cancellation.Receipt}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}

func decode(raw []byte) (*model.Document, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc := &model.Document{
		ID:             rec.ID,
		Identity:       rec.Identity,
		DPSID:          rec.DPSID,
		AccessKey:      rec.AccessKey,
		NFSeNumber:     rec.NFSeNumber,
		State:          rec.State,
		Environment:    rec.Environment,
		Certificate:    rec.Certificate,
		UnsignedXML:    rec.UnsignedXML,
		SignedXML:      rec.SignedXML,
		Receipt:        rec.Receipt,
		Messages:       rec.Messages,
		Alerts:         rec.Alerts,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		StateChangedAt: rec.StateChangedAt,
	}
	for _, a := range rec.Attempts {
		attempt := a.Attempt
		attempt.Body = a.Body
		doc.Attempts = append(doc.Attempts, attempt)
	}
	if rec.Cancellation != nil {
		c := rec.Cancellation.Cancellation
		c.Receipt = rec.Cancellation.Receipt
		doc.Cancellation = &c
	}
	return doc, nil
}
