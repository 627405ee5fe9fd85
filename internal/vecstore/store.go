// Package vecstore owns persistent vector storage: atomic upsert-by-id and
// ordered nearest-neighbor retrieval under a single deployment-wide distance
// metric. Backends: pgvector on a bounded pgx pool, sqlite for local use, and
// an in-memory map for tests.
package vecstore

import (
	"context"

	"semsearch/internal/errkind"
)

// Neighbor is one nearest-neighbor hit.
type Neighbor struct {
	ID       string
	Distance float64
}

// Store is the gateway contract. Upsert atomically replaces the embedding for
// an id; QueryNearest returns at most k hits ascending by distance, ties
// broken by id ascending, skipping items without an embedding.
type Store interface {
	Upsert(ctx context.Context, id string, vec []float32) error
	QueryNearest(ctx context.Context, vec []float32, k int) ([]Neighbor, error)
	Ping(ctx context.Context) error
	Close()
}

// Metric is the distance function, fixed for the deployment. Mixing metrics
// is a configuration error, never a per-request choice.
type Metric string

const (
	MetricL2     Metric = "l2"     // Euclidean distance
	MetricCosine Metric = "cosine" // 1 - cosine similarity
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricL2, MetricCosine:
		return Metric(s), nil
	}
	return "", errkind.New(errkind.Validation, "unknown metric %q (want l2 or cosine)", s)
}

// operator returns the pgvector distance operator for the metric.
func (m Metric) operator() string {
	if m == MetricCosine {
		return "<=>"
	}
	return "<->"
}

// indexOps returns the pgvector index opclass for the metric.
func (m Metric) indexOps() string {
	if m == MetricCosine {
		return "vector_cosine_ops"
	}
	return "vector_l2_ops"
}

func checkDim(vec []float32, dim int) error {
	if len(vec) != dim {
		return errkind.New(errkind.DimensionMismatch, "vector has %d components, store dimension is %d", len(vec), dim)
	}
	return nil
}

func checkQuery(vec []float32, dim, k int) error {
	if err := checkDim(vec, dim); err != nil {
		return err
	}
	if k <= 0 {
		return errkind.New(errkind.Validation, "k must be positive, got %d", k)
	}
	return nil
}
