package lifecycle

import (
	"context"

	"github.com/rezonia/nfse-issuer/internal/model"
)

// Store persists documents. Implementations must make Swap atomic: the write
// succeeds only while the stored state still equals from.
type Store interface {
	// Create inserts a new record; model.ErrDuplicateIdentity when the identity exists
	Create(ctx context.Context, doc *model.Document) error
	// Get returns a copy of the record; model.ErrNotFound when absent
	Get(ctx context.Context, id string) (*model.Document, error)
	// FindByIdentity returns the record for identity; model.ErrNotFound when absent
	FindByIdentity(ctx context.Context, identity model.Identity) (*model.Document, error)
	// Swap replaces the record when its stored state equals from;
	// model.ErrStateMismatch otherwise
	Swap(ctx context.Context, from model.State, doc *model.Document) error
}
