// Package retriever answers similarity queries: encode the query text, then
// ask the vector store for the nearest stored items. It is read-only and
// stateless per request.
package retriever

import (
	"context"
	"strings"

	"semsearch/internal/encoder"
	"semsearch/internal/errkind"
	"semsearch/internal/models"
	"semsearch/internal/vecstore"
)

type Searcher struct {
	enc         encoder.Encoder
	store       vecstore.Store
	maxTopK     int
	defaultTopK int
}

func New(enc encoder.Encoder, store vecstore.Store, maxTopK int) *Searcher {
	if maxTopK <= 0 {
		maxTopK = 100
	}
	return &Searcher{enc: enc, store: store, maxTopK: maxTopK, defaultTopK: 10}
}

// Search validates, encodes the query as a single-element batch and ranks the
// nearest neighbors. topK == 0 selects the default; out-of-range values are
// rejected, never clamped. Failures carry a stage tag so callers can tell a
// query that could not be understood from an index that could not be
// searched.
func (s *Searcher) Search(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errkind.New(errkind.Validation, "query must not be empty")
	}
	if topK == 0 {
		topK = s.defaultTopK
	}
	if topK < 1 || topK > s.maxTopK {
		return nil, errkind.New(errkind.Validation, "top_k must be in [1, %d], got %d", s.maxTopK, topK)
	}
	vecs, err := s.enc.Encode(ctx, []string{query})
	if err != nil {
		return nil, errkind.Tag(errkind.StageEncoding, err)
	}
	neighbors, err := s.store.QueryNearest(ctx, vecs[0], topK)
	if err != nil {
		return nil, errkind.Tag(errkind.StageStorage, err)
	}
	results := make([]models.SearchResult, len(neighbors))
	for i, n := range neighbors {
		results[i] = models.SearchResult{ID: n.ID, Distance: n.Distance}
	}
	return results, nil
}
