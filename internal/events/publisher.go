// Package events publishes document state changes for audit consumers.
package events

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/rezonia/nfse-issuer/internal/model"
)

// StateChanged is emitted after every persisted lifecycle transition
type StateChanged struct {
	DocumentID  string            `json:"document_id"`
	Identity    model.Identity    `json:"identity"`
	DPSID       string            `json:"dps_id"`
	AccessKey   string            `json:"access_key,omitempty"`
	Environment model.Environment `json:"environment"`
	From        model.State       `json:"from,omitempty"`
	To          model.State       `json:"to"`
	Messages    []string          `json:"messages,omitempty"`
	Alerts      []string          `json:"alerts,omitempty"`
	At          time.Time         `json:"at"`
}

// NewStateChanged builds the event for doc having left from
func NewStateChanged(doc *model.Document, from model.State) StateChanged {
	return StateChanged{
		DocumentID:  doc.ID,
		Identity:    doc.Identity,
		DPSID:       doc.DPSID,
		AccessKey:   doc.AccessKey,
		Environment: doc.Environment,
		From:        from,
		To:          doc.State,
		Messages:    doc.Messages,
		Alerts:      doc.Alerts,
		At:          doc.StateChangedAt,
	}
}

// Publisher delivers state-change events
type Publisher interface {
	Publish(ctx context.Context, event StateChanged) error
	Close() error
}

// Noop discards every event
type Noop struct{}

func (Noop) Publish(context.Context, StateChanged) error { return nil }
func (Noop) Close() error                                { return nil }

// Notifier adapts a Publisher to a lifecycle observer. Publish failures are
// logged; the transition has already been persisted.
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewNotifier(publisher Publisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Notifier{publisher: publisher, logger: logger}
}

func (n *Notifier) Transitioned(ctx context.Context, doc *model.Document, from model.State) {
	event := NewStateChanged(doc, from)
	if err := n.publisher.Publish(ctx, event); err != nil {
		n.logger.Warn("failed to publish state change",
			slog.String("document_id", doc.ID),
			slog.String("state", string(doc.State)),
			slog.String("error", err.Error()))
	}
}
