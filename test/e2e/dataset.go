// Package e2e provides end-to-end tests; this file builds a small clustered vector dataset with exact ground truth.
package e2e

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"sort"

	"github.com/hyperjump/vearchprobe/pkg/utils"
)

// Dataset mirrors the fvecs/ivecs triple of an ANN benchmark.
type Dataset struct {
	Base    [][]float32
	Queries [][]float32
	Truth   [][]uint32
}

// BuildDataset returns nb base vectors drawn around a few centres, nq queries and the exact
// k nearest base indices of every query under L2.
func BuildDataset(nb, nq, dim, k int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	centres := make([][]float32, 8)
	for i := range centres {
		centres[i] = randomVector(rng, dim, 10)
	}
	around := func() []float32 {
		c := centres[rng.Intn(len(centres))]
		v := randomVector(rng, dim, 1)
		for j := range v {
			v[j] += c[j]
		}
		return v
	}

	d := &Dataset{Base: make([][]float32, nb), Queries: make([][]float32, nq)}
	for i := range d.Base {
		d.Base[i] = around()
	}
	for i := range d.Queries {
		d.Queries[i] = around()
	}
	d.Truth = ExactNeighbours(d.Base, d.Queries, k)
	return d
}

// ExactNeighbours returns, per query, the indices of the k nearest base vectors by L2.
func ExactNeighbours(base, queries [][]float32, k int) [][]uint32 {
	out := make([][]uint32, len(queries))
	for qi, q := range queries {
		idx := make([]uint32, len(base))
		dist := make([]float64, len(base))
		for i := range base {
			idx[i] = uint32(i)
			dist[i] = utils.SquaredL2(q, base[i])
		}
		sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] < dist[idx[b]] })
		out[qi] = idx[:min(k, len(idx))]
	}
	return out
}

func randomVector(rng *rand.Rand, dim int, scale float32) []float32 {
	v := make([]float32, dim)
	for j := range v {
		v[j] = rng.Float32() * scale
	}
	return v
}

// EncodeFvecs renders vectors in the fvecs layout: a little-endian int32 dimension before each row.
func EncodeFvecs(rows [][]float32) []byte {
	var buf bytes.Buffer
	for _, row := range rows {
		_ = binary.Write(&buf, binary.LittleEndian, int32(len(row)))
		for _, f := range row {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(f))
		}
	}
	return buf.Bytes()
}

// EncodeIvecs renders integer rows in the ivecs layout.
func EncodeIvecs(rows [][]uint32) []byte {
	var buf bytes.Buffer
	for _, row := range rows {
		_ = binary.Write(&buf, binary.LittleEndian, int32(len(row)))
		_ = binary.Write(&buf, binary.LittleEndian, row)
	}
	return buf.Bytes()
}
