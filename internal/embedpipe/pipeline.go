// Package embedpipe attaches embeddings to items: encode first, upsert only
// on success, so an encoding failure never mutates stored state.
package embedpipe

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"semsearch/internal/encoder"
	"semsearch/internal/errkind"
	"semsearch/internal/models"
	"semsearch/internal/vecstore"
)

type Pipeline struct {
	enc      encoder.Encoder
	store    vecstore.Store
	parallel int
}

func New(enc encoder.Encoder, store vecstore.Store) *Pipeline {
	return &Pipeline{enc: enc, store: store, parallel: 4}
}

// Update embeds text and atomically replaces the stored vector for id. The
// store is only touched after encoding succeeds; a storage failure leaves any
// previously stored embedding intact.
func (p *Pipeline) Update(ctx context.Context, id, text string) error {
	if strings.TrimSpace(id) == "" {
		return errkind.New(errkind.Validation, "item id must not be empty")
	}
	vecs, err := p.enc.Encode(ctx, []string{text})
	if err != nil {
		return errkind.Tag(errkind.StageEncoding, err)
	}
	if err := p.store.Upsert(ctx, id, vecs[0]); err != nil {
		return errkind.Tag(errkind.StageStorage, err)
	}
	return nil
}

// UpdateMany processes items independently with bounded parallelism. One
// item's failure never aborts or rolls back the others; results are returned
// in input order.
func (p *Pipeline) UpdateMany(ctx context.Context, items []models.UpdateItem) []models.UpdateResult {
	results := make([]models.UpdateResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			res := models.UpdateResult{ID: it.ID, Status: models.UpdateOK}
			if err := p.Update(gctx, it.ID, it.Text); err != nil {
				res.Status = models.UpdateFailed
				res.Error = err.Error()
			}
			results[i] = res
			return nil // per-item outcomes only, never abort the group
		})
	}
	_ = g.Wait()
	return results
}
