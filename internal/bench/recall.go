// Package bench measures recall@K of vector search against ground truth and sweeps search parameters.
package bench

import (
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"
)

// GroundTruth holds the true nearest neighbor indices of each query, nearest first.
type GroundTruth [][]uint32

// RecallAt returns |retrieved[:k] ∩ truth[:k]| / |truth[:k]|.
// Retrieved ids that are not unsigned integers never match.
func RecallAt(retrieved []string, truth []uint32, k int) float64 {
	if k <= 0 || len(truth) == 0 {
		return 0
	}
	want := roaring.New()
	want.AddMany(truth[:min(k, len(truth))])

	got := roaring.New()
	for _, id := range retrieved[:min(k, len(retrieved))] {
		n, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			continue
		}
		got.Add(uint32(n))
	}
	return float64(got.AndCardinality(want)) / float64(want.GetCardinality())
}

// Accumulator averages recall@K over a batch of queries for a fixed set of K values.
type Accumulator struct {
	ks   []int
	sums map[int]float64
	n    int
}

// NewAccumulator tracks recall at each of ks.
func NewAccumulator(ks []int) *Accumulator {
	return &Accumulator{ks: append([]int(nil), ks...), sums: make(map[int]float64, len(ks))}
}

// Add records one query's result.
func (a *Accumulator) Add(retrieved []string, truth []uint32) {
	for _, k := range a.ks {
		a.sums[k] += RecallAt(retrieved, truth, k)
	}
	a.n++
}

// Count returns the number of queries recorded.
func (a *Accumulator) Count() int {
	return a.n
}

// Recall returns the mean recall for each K. An empty accumulator reports zero.
func (a *Accumulator) Recall() map[int]float64 {
	out := make(map[int]float64, len(a.ks))
	for _, k := range a.ks {
		if a.n > 0 {
			out[k] = a.sums[k] / float64(a.n)
		} else {
			out[k] = 0
		}
	}
	return out
}
