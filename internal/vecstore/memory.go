package vecstore

import (
	"context"
	"sync"
)

// Memory is a map-backed Store for tests and local development. It applies
// the same dimension and ranking rules as the persistent backends.
type Memory struct {
	mu     sync.RWMutex
	dim    int
	metric Metric
	vecs   map[string][]float32
}

func NewMemory(dim int, metric Metric) *Memory {
	return &Memory{dim: dim, metric: metric, vecs: make(map[string][]float32)}
}

func (m *Memory) Upsert(ctx context.Context, id string, vec []float32) error {
	if err := checkDim(vec, m.dim); err != nil {
		return err
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	m.mu.Lock()
	m.vecs[id] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) QueryNearest(ctx context.Context, vec []float32, k int) ([]Neighbor, error) {
	if err := checkQuery(vec, m.dim, k); err != nil {
		return nil, err
	}
	m.mu.RLock()
	cands := make([]Neighbor, 0, len(m.vecs))
	for id, v := range m.vecs {
		cands = append(cands, Neighbor{ID: id, Distance: m.metric.Distance(vec, v)})
	}
	m.mu.RUnlock()
	return rank(cands, k), nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() {}

// Len reports the number of stored vectors (test helper).
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vecs)
}

var _ Store = (*Memory)(nil)
