package vecstore

import (
	"context"
	"path/filepath"
	"testing"

	"semsearch/internal/errkind"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), 2, MetricL2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSQLite_UpsertQueryRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	if err := s.Upsert(ctx, "1", []float32{1, 0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, "2", []float32{0, 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	out, err := s.QueryNearest(ctx, []float32{0, 1}, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 || out[0].ID != "2" || out[0].Distance != 0 {
		t.Fatalf("results: %+v", out)
	}
}

func TestSQLite_ReplaceIsWholesale(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	_ = s.Upsert(ctx, "1", []float32{1, 0})
	if err := s.Upsert(ctx, "1", []float32{0, 1}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	out, err := s.QueryNearest(ctx, []float32{0, 1}, 1)
	if err != nil || len(out) != 1 || out[0].Distance != 0 {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestSQLite_DimensionEnforced(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	_ = s.Upsert(ctx, "1", []float32{1, 0})
	if err := s.Upsert(ctx, "1", []float32{1, 2, 3}); !errkind.IsKind(err, errkind.DimensionMismatch) {
		t.Fatalf("want dimension_mismatch, got %v", err)
	}
	out, err := s.QueryNearest(ctx, []float32{1, 0}, 1)
	if err != nil || len(out) != 1 || out[0].Distance != 0 {
		t.Fatalf("prior vector must be unchanged: %+v err=%v", out, err)
	}
}

func TestSQLite_MigrationIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	s1, err := NewSQLite(path, 2, MetricL2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s1.Upsert(context.Background(), "1", []float32{1, 0})
	s1.Close()
	s2, err := NewSQLite(path, 2, MetricL2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	out, err := s2.QueryNearest(context.Background(), []float32{1, 0}, 1)
	if err != nil || len(out) != 1 {
		t.Fatalf("data lost across reopen: %+v err=%v", out, err)
	}
}
