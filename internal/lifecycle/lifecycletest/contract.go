// Package lifecycletest holds the behavioural contract every lifecycle.Store
// implementation must satisfy.
package lifecycletest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-issuer/internal/lifecycle"
	"github.com/rezonia/nfse-issuer/internal/model"
)

// NewDocument returns a Draft document with a fresh id and identity
func NewDocument(number string) *model.Document {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Document{
		ID:             uuid.NewString(),
		Identity:       model.Identity{Provider: "11222333000181", Series: "1", Number: number},
		DPSID:          "DPS3550308211222333000181000010000000000000" + number,
		State:          model.StateDraft,
		Environment:    model.EnvironmentHomologation,
		CreatedAt:      now,
		UpdatedAt:      now,
		StateChangedAt: now,
	}
}

// RunStoreContract exercises store semantics against a fresh store per subtest
func RunStoreContract(t *testing.T, newStore func(t *testing.T) lifecycle.Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		doc := NewDocument("1")
		doc.Messages = []string{"a"}
		require.NoError(t, store.Create(ctx, doc))

		got, err := store.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, got.ID)
		assert.Equal(t, doc.Identity, got.Identity)
		assert.Equal(t, model.StateDraft, got.State)
		assert.Equal(t, []string{"a"}, got.Messages)

		byIdentity, err := store.FindByIdentity(ctx, doc.Identity)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, byIdentity.ID)
	})

	t.Run("not found", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, model.ErrNotFound)

		_, err = store.FindByIdentity(ctx, model.Identity{Provider: "x", Series: "1", Number: "1"})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("duplicate identity", func(t *testing.T) {
		store := newStore(t)
		first := NewDocument("2")
		require.NoError(t, store.Create(ctx, first))

		second := NewDocument("2")
		assert.ErrorIs(t, store.Create(ctx, second), model.ErrDuplicateIdentity)
	})

	t.Run("swap by state", func(t *testing.T) {
		store := newStore(t)
		doc := NewDocument("3")
		require.NoError(t, store.Create(ctx, doc))

		doc.State = model.StateBuilt
		doc.UnsignedXML = []byte("<DPS/>")
		require.NoError(t, store.Swap(ctx, model.StateDraft, doc))

		got, err := store.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StateBuilt, got.State)
		assert.Equal(t, []byte("<DPS/>"), got.UnsignedXML)

		stale := got.Clone()
		stale.State = model.StateSigned
		assert.ErrorIs(t, store.Swap(ctx, model.StateDraft, stale), model.ErrStateMismatch)
	})

	t.Run("swap unknown", func(t *testing.T) {
		store := newStore(t)
		assert.ErrorIs(t, store.Swap(ctx, model.StateDraft, NewDocument("4")), model.ErrNotFound)
	})

	t.Run("artifacts round trip", func(t *testing.T) {
		store := newStore(t)
		doc := NewDocument("5")
		require.NoError(t, store.Create(ctx, doc))

		doc.State = model.StateBuilt
		doc.SignedXML = []byte("<signed/>")
		doc.Receipt = []byte("<receipt/>")
		doc.AccessKey = "35503082211222333000181000000000000042503100000001"
		doc.NFSeNumber = "77"
		doc.Alerts = []string{"L010 aviso"}
		doc.Attempts = []model.Attempt{{At: doc.CreatedAt, Attempts: 2, HTTPStatus: 200, Code: "100", Outcome: "success"}}
		doc.Cancellation = &model.Cancellation{At: doc.CreatedAt, Reason: "erro na emissão", Code: "1"}
		require.NoError(t, store.Swap(ctx, model.StateDraft, doc))

		got, err := store.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.SignedXML, got.SignedXML)
		assert.Equal(t, doc.Receipt, got.Receipt)
		assert.Equal(t, doc.AccessKey, got.AccessKey)
		assert.Equal(t, doc.NFSeNumber, got.NFSeNumber)
		assert.Equal(t, doc.Alerts, got.Alerts)
		require.Len(t, got.Attempts, 1)
		assert.Equal(t, 2, got.Attempts[0].Attempts)
		assert.Equal(t, "100", got.Attempts[0].Code)
		require.NotNil(t, got.Cancellation)
		assert.Equal(t, "erro na emissão", got.Cancellation.Reason)
	})

	t.Run("concurrent swap has one winner", func(t *testing.T) {
		store := newStore(t)
		doc := NewDocument("6")
		require.NoError(t, store.Create(ctx, doc))

		const workers = 8
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next := doc.Clone()
				next.State = model.StateBuilt
				results <- store.Swap(ctx, model.StateDraft, next)
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, model.ErrStateMismatch):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
	})
}
