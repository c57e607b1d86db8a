// Package e2e provides end-to-end tests; this file writes fixture documents in every supported encoding.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// SupportedFixtureExtensions is the list of fixture suffixes the loader decompresses.
var SupportedFixtureExtensions = []string{".json", ".json.gz", ".json.zst", ".json.lz4"}

// FixtureDocument is one line of a functional-suite fixture.
type FixtureDocument struct {
	ID         string               `json:"_id"`
	String     string               `json:"string"`
	Int        int                  `json:"int"`
	Float      float64              `json:"float"`
	Vector     map[string][]float32 `json:"vector"`
	StringTags []string             `json:"string_tags"`
	IntTags    []int                `json:"int_tags"`
	FloatTags  []float64            `json:"float_tags"`
}

// BuildFixture returns n documents with dim-dimensional vectors. Each document has a distinct
// string, int and vector so searches and filters can single it out.
func BuildFixture(n, dim int) []FixtureDocument {
	docs := make([]FixtureDocument, n)
	for i := range docs {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32((i*31+j*7)%97) + 1
		}
		docs[i] = FixtureDocument{
			ID:         fmt.Sprintf("%d", 1000+i),
			String:     fmt.Sprintf("doc-%03d", i),
			Int:        i,
			Float:      float64(i) / 4,
			Vector:     map[string][]float32{"feature": vec},
			StringTags: []string{"all", fmt.Sprintf("group-%d", i%3)},
			IntTags:    []int{i % 5, 100 + i},
			FloatTags:  []float64{0.25, float64(i) + 0.5},
		}
	}
	return docs
}

// EncodeFixture renders docs as JSON lines, compressed according to ext.
func EncodeFixture(docs []FixtureDocument, ext string) ([]byte, error) {
	var buf bytes.Buffer
	w, closer, err := compressor(&buf, ext)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(w)
	for _, d := range docs {
		if err := enc.Encode(d); err != nil {
			return nil, err
		}
	}
	if err := closer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compressor(buf *bytes.Buffer, ext string) (io.Writer, func() error, error) {
	switch ext {
	case ".json":
		return buf, func() error { return nil }, nil
	case ".json.gz":
		w := gzip.NewWriter(buf)
		return w, w.Close, nil
	case ".json.zst":
		w, err := zstd.NewWriter(buf)
		if err != nil {
			return nil, nil, err
		}
		return w, w.Close, nil
	case ".json.lz4":
		w := lz4.NewWriter(buf)
		return w, w.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported fixture extension %q", ext)
	}
}
