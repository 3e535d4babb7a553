package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rezonia/nfse-issuer/internal/model"
)

const uniqueViolation = "23505"

const documentColumns = `id, provider, series, number, dps_id, COALESCE(access_key, ''), nfse_number,
	state, environment, certificate, unsigned_xml, signed_xml, receipt,
	messages, alerts, attempts, cancellation, cancel_receipt,
	created_at, updated_at, state_changed_at`

// Store implements lifecycle.Store
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, doc *model.Document) error {
	row, err := toRow(doc)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO documents (id, provider, series, number, dps_id, access_key, nfse_number,
			state, environment, certificate, unsigned_xml, signed_xml, receipt,
			messages, alerts, attempts, cancellation, cancel_receipt,
			created_at, updated_at, state_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, doc.ID, doc.Identity.Provider, doc.Identity.Series, doc.Identity.Number, doc.DPSID, row.accessKey, doc.NFSeNumber,
		string(doc.State), int(doc.Environment), doc.Certificate, doc.UnsignedXML, doc.SignedXML, doc.Receipt,
		row.messages, row.alerts, row.attempts, row.cancellation, row.cancelReceipt,
		doc.CreatedAt, doc.UpdatedAt, doc.StateChangedAt)
	if isUniqueViolation(err) {
		return model.ErrDuplicateIdentity
	}
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (s *Store) FindByIdentity(ctx context.Context, identity model.Identity) (*model.Document, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE provider = $1 AND series = $2 AND number = $3`,
		identity.Provider, identity.Series, identity.Number)
	return scanDocument(row)
}

// Swap locks the row, checks its state and rewrites it in one transaction.
// Attempts appended since the last write are also logged with their raw body.
func (s *Store) Swap(ctx context.Context, from model.State, doc *model.Document) (err error) {
	row, err := toRow(doc)
	if err != nil {
		return err
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	var current string
	var stored int
	err = tx.QueryRow(ctx, `SELECT state, jsonb_array_length(attempts) FROM documents WHERE id = $1 FOR UPDATE`, doc.ID).
		Scan(&current, &stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}
	if model.State(current) != from {
		return model.ErrStateMismatch
	}

	_, err = tx.Exec(ctx, `
		UPDATE documents SET
			dps_id = $2, access_key = $3, nfse_number = $4, state = $5, certificate = $6,
			unsigned_xml = $7, signed_xml = $8, receipt = $9,
			messages = $10, alerts = $11, attempts = $12, cancellation = $13, cancel_receipt = $14,
			updated_at = $15, state_changed_at = $16
		WHERE id = $1
	`, doc.ID, doc.DPSID, row.accessKey, doc.NFSeNumber, string(doc.State), doc.Certificate,
		doc.UnsignedXML, doc.SignedXML, doc.Receipt,
		row.messages, row.alerts, row.attempts, row.cancellation, row.cancelReceipt,
		doc.UpdatedAt, doc.StateChangedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("access key already used by another document: %w", err)
	}
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	for i := stored; i < len(doc.Attempts); i++ {
		a := doc.Attempts[i]
		_, err = tx.Exec(ctx, `
			INSERT INTO transmission_attempts (document_id, attempted_at, attempts, http_status, code, outcome, body)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, doc.ID, a.At, a.Attempts, a.HTTPStatus, a.Code, a.Outcome, a.Body)
		if err != nil {
			return fmt.Errorf("log attempt: %w", err)
		}
	}
	return nil
}

type documentRow struct {
	accessKey     *string
	messages      string
	alerts        string
	attempts      string
	cancellation  *string
	cancelReceipt []byte
}

func toRow(doc *model.Document) (documentRow, error) {
	var row documentRow
	var err error
	if doc.AccessKey != "" {
		key := doc.AccessKey
		row.accessKey = &key
	}
	if row.messages, err = jsonArray(doc.Messages); err != nil {
		return row, err
	}
	if row.alerts, err = jsonArray(doc.Alerts); err != nil {
		return row, err
	}
	if row.attempts, err = jsonArray(doc.Attempts); err != nil {
		return row, err
	}
	if doc.Cancellation != nil {
		b, err := json.Marshal(doc.Cancellation)
		if err != nil {
			return row, fmt.Errorf("encode cancellation: %w", err)
		}
		c := string(b)
		row.cancellation = &c
		row.cancelReceipt = doc.Cancellation.Receipt
	}
	return row, nil
}

func jsonArray[T any](v []T) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var (
		doc                         model.Document
		state                       string
		env                         int16
		messages, alerts, attempts  []byte
		cancellation, cancelReceipt []byte
	)
	err := row.Scan(&doc.ID, &doc.Identity.Provider, &doc.Identity.Series, &doc.Identity.Number,
		&doc.DPSID, &doc.AccessKey, &doc.NFSeNumber, &state, &env, &doc.Certificate,
		&doc.UnsignedXML, &doc.SignedXML, &doc.Receipt,
		&messages, &alerts, &attempts, &cancellation, &cancelReceipt,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.StateChangedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc.State = model.State(state)
	doc.Environment = model.Environment(env)

	if err := decodeArray(messages, &doc.Messages); err != nil {
		return nil, err
	}
	if err := decodeArray(alerts, &doc.Alerts); err != nil {
		return nil, err
	}
	if err := decodeArray(attempts, &doc.Attempts); err != nil {
		return nil, err
	}
	if len(cancellation) > 0 {
		var c model.Cancellation
		if err := json.Unmarshal(cancellation, &c); err != nil {
			return nil, fmt.Errorf("decode cancellation: %w", err)
		}
		c.Receipt = cancelReceipt
		doc.Cancellation = &c
	}
	return &doc, nil
}

// decodeArray leaves dst nil for empty arrays
func decodeArray[T any](raw []byte, dst *[]T) error {
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	if len(out) > 0 {
		*dst = out
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
