package lifecycle_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-issuer/internal/lifecycle"
	"github.com/rezonia/nfse-issuer/internal/model"
)

const accessKey = "35503082211222333000181000000000000042503100000001"

var identity = model.Identity{Provider: "11222333000181", Series: "1", Number: "42"}

type recordingObserver struct {
	moves []string
}

func (r *recordingObserver) Transitioned(_ context.Context, doc *model.Document, from model.State) {
	r.moves = append(r.moves, string(from)+">"+string(doc.State))
}

func newTracker(opts ...lifecycle.Option) *lifecycle.Tracker {
	clock := func() time.Time { return time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC) }
	ids := 0
	base := []lifecycle.Option{
		lifecycle.WithClock(clock),
		lifecycle.WithIDGenerator(func() string {
			ids++
			return "doc-" + strconv.Itoa(ids)
		}),
	}
	return lifecycle.NewTracker(lifecycle.NewMemoryStore(), append(base, opts...)...)
}

// authorized drives a fresh document to Authorized
func authorized(t *testing.T, tr *lifecycle.Tracker) *model.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := tr.Open(ctx, identity, model.EnvironmentHomologation, "DPS1")
	require.NoError(t, err)

	steps := []struct {
		from, to model.State
		payload  lifecycle.Payload
	}{
		{model.StateDraft, model.StateBuilt, lifecycle.Payload{UnsignedXML: []byte("<DPS/>")}},
		{model.StateBuilt, model.StateSigned, lifecycle.Payload{SignedXML: []byte("<DPS><Signature/></DPS>"), Certificate: "ABC"}},
		{model.StateSigned, model.StateTransmitted, lifecycle.Payload{Attempt: &model.Attempt{Attempts: 1, Code: "100", Outcome: "success"}}},
		{model.StateTransmitted, model.StateAuthorized, lifecycle.Payload{AccessKey: accessKey, Receipt: []byte("<NFSe/>"), Alerts: []string{}}},
	}
	for _, s := range steps {
		doc, err = tr.Advance(ctx, doc.ID, s.from, s.to, s.payload)
		require.NoError(t, err)
	}
	return doc
}

func TestAllowed(t *testing.T) {
	permitted := map[[2]model.State]bool{
		{model.StateDraft, model.StateBuilt}:            true,
		{model.StateBuilt, model.StateSigned}:           true,
		{model.StateSigned, model.StateTransmitted}:     true,
		{model.StateTransmitted, model.StateAuthorized}: true,
		{model.StateTransmitted, model.StateRejected}:   true,
		{model.StateAuthorized, model.StateCancelled}:   true,
		{model.StateRejected, model.StateBuilt}:         true,
	}

	for _, from := range model.AllStates {
		for _, to := range model.AllStates {
			assert.Equal(t, permitted[[2]model.State{from, to}], lifecycle.Allowed(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTracker_Open(t *testing.T) {
	obs := &recordingObserver{}
	tr := newTracker(lifecycle.WithObserver(obs))
	ctx := context.Background()

	doc, err := tr.Open(ctx, identity, model.EnvironmentHomologation, "DPS1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, model.StateDraft, doc.State)
	assert.Equal(t, []string{">draft"}, obs.moves)

	again, err := tr.Open(ctx, identity, model.EnvironmentHomologation, "DPS1")
	assert.ErrorIs(t, err, model.ErrDuplicateIdentity)
	require.NotNil(t, again)
	assert.Equal(t, doc.ID, again.ID)
}

func TestTracker_AdvanceFromWrongState(t *testing.T) {
	tr := newTracker()
	ctx := context.Background()
	doc, err := tr.Open(ctx, identity, model.EnvironmentHomologation, "DPS1")
	require.NoError(t, err)

	_, err = tr.Advance(ctx, doc.ID, model.StateBuilt, model.StateSigned, lifecycle.Payload{})
	var te *model.InvalidTransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.StateDraft, te.Current)

	got, err := tr.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDraft, got.State)
}

func TestTracker_AdvanceNotPermitted(t *testing.T) {
	tr := newTracker()
	ctx := context.Background()
	doc, err := tr.Open(ctx, identity, model.EnvironmentHomologation, "DPS1")
	require.NoError(t, err)

	_, err = tr.Advance(ctx, doc.ID, model.StateDraft, model.StateAuthorized, lifecycle.Payload{})
	var te *model.InvalidTransitionError
	require.True(t, errors.As(err, &te))
	assert.Empty(t, te.Current)
}

func TestTracker_AdvanceUnknown(t *testing.T) {
	_, err := newTracker().Advance(context.Background(), "missing", model.StateDraft, model.StateBuilt, lifecycle.Payload{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTracker_FullPathStoresArtifacts(t *testing.T) {
	obs := &recordingObserver{}
	tr := newTracker(lifecycle.WithObserver(obs))
	doc := authorized(t, tr)

	assert.Equal(t, model.StateAuthorized, doc.State)
	assert.Equal(t, accessKey, doc.AccessKey)
	assert.Equal(t, []byte("<DPS><Signature/></DPS>"), doc.SignedXML)
	assert.Equal(t, []byte("<NFSe/>"), doc.Receipt)
	assert.Equal(t, "ABC", doc.Certificate)
	require.Len(t, doc.Attempts, 1)
	assert.Equal(t, []string{">draft", "draft>built", "built>signed", "signed>transmitted", "transmitted>authorized"}, obs.moves)

	key, ok, err := tr.AuthorizedAccessKey(context.Background(), identity)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, accessKey, key)
}

func TestTracker_Cancel(t *testing.T) {
	tr := newTracker()
	ctx := context.Background()
	doc := authorized(t, tr)

	first, err := tr.Cancel(ctx, doc.ID, model.Cancellation{Reason: "erro na emissão do documento", Code: "1", Protocol: "P1"})
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, first.State)
	require.NotNil(t, first.Cancellation)
	assert.Equal(t, time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC), first.Cancellation.At)

	second, err := tr.Cancel(ctx, doc.ID, model.Cancellation{Reason: "outro motivo qualquer"})
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, second.State)
	assert.Equal(t, first.Cancellation, second.Cancellation)

	_, ok, err := tr.AuthorizedAccessKey(ctx, identity)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTracker_CancelRequiresAuthorized(t *testing.T) {
	tr := newTracker()
	ctx := context.Background()
	doc, err := tr.Open(ctx, identity, model.EnvironmentHomologation, "DPS1")
	require.NoError(t, err)

	_, err = tr.Cancel(ctx, doc.ID, model.Cancellation{Reason: "x"})
	var te *model.InvalidTransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.StateDraft, te.Current)
}

func TestTracker_ResubmissionCycle(t *testing.T) {
	tr := newTracker()
	ctx := context.Background()
	doc, err := tr.Open(ctx, identity, model.EnvironmentHomologation, "DPS1")
	require.NoError(t, err)

	for _, s := range [][2]model.State{
		{model.StateDraft, model.StateBuilt},
		{model.StateBuilt, model.StateSigned},
		{model.StateSigned, model.StateTransmitted},
	} {
		doc, err = tr.Advance(ctx, doc.ID, s[0], s[1], lifecycle.Payload{SignedXML: []byte("<old/>")})
		require.NoError(t, err)
	}
	doc, err = tr.Advance(ctx, doc.ID, model.StateTransmitted, model.StateRejected, lifecycle.Payload{Messages: []string{"CNPJ inválido"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"CNPJ inválido"}, doc.Messages)

	doc, err = tr.Advance(ctx, doc.ID, model.StateRejected, model.StateBuilt, lifecycle.Payload{UnsignedXML: []byte("<new/>")})
	require.NoError(t, err)
	assert.Equal(t, model.StateBuilt, doc.State)
	assert.Nil(t, doc.SignedXML)
	assert.Nil(t, doc.Messages)
	assert.Equal(t, []byte("<new/>"), doc.UnsignedXML)
}

func TestTracker_AccessKeyImmutable(t *testing.T) {
	tr := newTracker()
	ctx := context.Background()
	doc := authorized(t, tr)

	_, err := tr.Advance(ctx, doc.ID, model.StateAuthorized, model.StateCancelled, lifecycle.Payload{AccessKey: "1" + accessKey[1:]})
	assert.ErrorIs(t, err, lifecycle.ErrAccessKeyImmutable)
}

func TestTracker_LedgerUnknownIdentity(t *testing.T) {
	_, ok, err := newTracker().AuthorizedAccessKey(context.Background(), identity)
	require.NoError(t, err)
	assert.False(t, ok)
}
