package encoder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached fronts an Encoder with a TTL'd LRU keyed by input text. Identical
// texts hit the cache instead of the model; misses are forwarded in a single
// batch and results for any text are filled back in input order.
type Cached struct {
	enc Encoder
	lru *expirable.LRU[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCached(enc Encoder, maxEntries int, ttl time.Duration) *Cached {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &Cached{
		enc: enc,
		lru: expirable.NewLRU[string, []float32](maxEntries, nil, ttl),
	}
}

func (c *Cached) Dimension() int { return c.enc.Dimension() }

func (c *Cached) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		// let the wrapped encoder reject it
		return c.enc.Encode(ctx, texts)
	}
	out := make([][]float32, len(texts))
	var missIdx []int
	for i, t := range texts {
		if v, ok := c.lru.Get(t); ok {
			out[i] = cloneVec(v)
			c.hits.Add(1)
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return out, nil
	}
	miss := make([]string, len(missIdx))
	for j, i := range missIdx {
		miss[j] = texts[i]
	}
	vecs, err := c.enc.Encode(ctx, miss)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		// the cache keeps its own copy; callers are free to mutate what
		// they got back
		c.lru.Add(texts[i], cloneVec(vecs[j]))
		c.misses.Add(1)
	}
	return out, nil
}

func cloneVec(v []float32) []float32 {
	cp := make([]float32, len(v))
	copy(cp, v)
	return cp
}

// Stats returns cumulative cache hit/miss counters.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

var _ Encoder = (*Cached)(nil)
