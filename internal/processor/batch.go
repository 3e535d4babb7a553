package processor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rezonia/nfse-issuer/internal/dps"
	"github.com/rezonia/nfse-issuer/internal/signer"
)

// BatchItem is the outcome of one input in a batch
type BatchItem struct {
	Index  int
	Result *Result
	Err    error
}

// EmitAll emits inputs concurrently, at most limit at a time. Failures are
// reported per item and never stop the batch.
func (p *Pipeline) EmitAll(ctx context.Context, inputs []dps.Input, ref signer.CertificateRef, limit int) []BatchItem {
	items := make([]BatchItem, len(inputs))
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, in := range inputs {
		g.Go(func() error {
			result, err := p.Emit(gctx, in, ref)
			items[i] = BatchItem{Index: i, Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return items
}
