package vecstore

import (
	"math"
	"sort"
)

// Distance computes the metric between two equal-length vectors. Used by the
// in-process backends; the pgvector backend computes distance in the store.
func (m Metric) Distance(a, b []float32) float64 {
	if m == MetricCosine {
		return cosineDistance(a, b)
	}
	return l2Distance(a, b)
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// rank orders candidates ascending by distance with id-ascending tie-break
// and truncates to k.
func rank(cands []Neighbor, k int) []Neighbor {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Distance != cands[j].Distance {
			return cands[i].Distance < cands[j].Distance
		}
		return cands[i].ID < cands[j].ID
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands
}
