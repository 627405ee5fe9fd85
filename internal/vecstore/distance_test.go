package vecstore

import (
	"math"
	"testing"
)

func TestL2Distance(t *testing.T) {
	got := l2Distance([]float32{0, 0}, []float32{3, 4})
	if math.Abs(got-5) > 1e-9 {
		t.Fatalf("l2 = %v, want 5", got)
	}
}

func TestCosineDistance(t *testing.T) {
	if d := cosineDistance([]float32{1, 0}, []float32{1, 0}); math.Abs(d) > 1e-9 {
		t.Fatalf("identical vectors: %v, want 0", d)
	}
	if d := cosineDistance([]float32{1, 0}, []float32{0, 1}); math.Abs(d-1) > 1e-9 {
		t.Fatalf("orthogonal vectors: %v, want 1", d)
	}
	if d := cosineDistance([]float32{0, 0}, []float32{1, 0}); math.Abs(d-1) > 1e-9 {
		t.Fatalf("zero vector: %v, want 1", d)
	}
}

func TestRank_TieBreakByID(t *testing.T) {
	cands := []Neighbor{
		{ID: "b", Distance: 1},
		{ID: "a", Distance: 1},
		{ID: "c", Distance: 0.5},
	}
	out := rank(cands, 3)
	if out[0].ID != "c" || out[1].ID != "a" || out[2].ID != "b" {
		t.Fatalf("order: %+v", out)
	}
}

func TestRank_Truncates(t *testing.T) {
	cands := []Neighbor{{ID: "a", Distance: 2}, {ID: "b", Distance: 1}}
	out := rank(cands, 1)
	if len(out) != 1 || out[0].ID != "b" {
		t.Fatalf("out: %+v", out)
	}
}
