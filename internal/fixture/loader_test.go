package fixture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureLines(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"_id":"%d","string":"s%d","int":%d,"float":%d.5,"vector":{"feature":[%d,1,0]},"string_tags":["a","b"],"int_tags":[1,2]}`+"\n", i, i, i, i, i)
	}
	return b.String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_limitsRecords(t *testing.T) {
	path := writeFile(t, "data.json", fixtureLines(10))
	cases := []struct {
		max  int
		want int
	}{
		{max: 3, want: 3},
		{max: 10, want: 10},
		{max: 100, want: 10},
		{max: 0, want: 10},
	}
	for _, tc := range cases {
		l := &Loader{Path: path, MaxRecords: tc.max}
		recs, err := l.Load(context.Background())
		require.NoError(t, err)
		assert.Len(t, recs, tc.want, "max=%d", tc.max)
		for i, r := range recs {
			assert.Equal(t, fmt.Sprint(i), r.ID, "records must keep file order")
		}
	}
}

func TestLoad_parsesFields(t *testing.T) {
	path := writeFile(t, "data.json", fixtureLines(1))
	recs, err := (&Loader{Path: path}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.True(t, r.NumericID)
	assert.Equal(t, "vector", r.VectorField)
	assert.Equal(t, []float32{0, 1, 0}, r.Vector)
	assert.Equal(t, "s0", r.Scalars["string"].Str)
	assert.Equal(t, int64(0), r.Scalars["int"].Int)
	assert.Equal(t, 0.5, r.Scalars["float"].Float)
	assert.Len(t, r.Tags["string_tags"], 2)
	assert.Len(t, r.Tags["int_tags"], 2)
}

func TestLoad_parseErrorCarriesLine(t *testing.T) {
	content := fixtureLines(2) + "\n" + `{"_id":"x","vector":` + "\n" + fixtureLines(1)
	path := writeFile(t, "bad.json", content)
	_, err := (&Loader{Path: path}).Load(context.Background())
	var perr *ParseError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, 4, perr.Line)
	assert.Equal(t, path, perr.Path)
}

func TestLoad_missingRequiredField(t *testing.T) {
	for name, line := range map[string]string{
		"no id":     `{"vector":{"feature":[1]}}`,
		"no vector": `{"_id":"1","int":3}`,
		"empty vec": `{"_id":"1","vector":{"feature":[]}}`,
		"not obj":   `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, "data.json", line+"\n")
			_, err := (&Loader{Path: path}).Load(context.Background())
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, 1, perr.Line)
		})
	}
}

func TestLoader_restartable(t *testing.T) {
	path := writeFile(t, "data.json", fixtureLines(5))
	l := &Loader{Path: path, MaxRecords: 4}
	for pass := 0; pass < 2; pass++ {
		r, err := l.Open(context.Background())
		require.NoError(t, err)
		n := 0
		for {
			_, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			n++
		}
		require.NoError(t, r.Close())
		assert.Equal(t, 4, n, "pass %d", pass)
	}
}

func TestAll_stopsEarly(t *testing.T) {
	path := writeFile(t, "data.json", fixtureLines(5))
	seen := 0
	for rec, err := range (&Loader{Path: path}).All(context.Background()) {
		require.NoError(t, err)
		seen++
		if rec.ID == "1" {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestLoad_compressed(t *testing.T) {
	content := fixtureLines(3)
	dir := t.TempDir()

	gzPath := filepath.Join(dir, "data.json.gz")
	f, err := os.Create(gzPath)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	zstPath := filepath.Join(dir, "data.json.zst")
	f, err = os.Create(zstPath)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	lz4Path := filepath.Join(dir, "data.json.lz4")
	f, err = os.Create(lz4Path)
	require.NoError(t, err)
	lw := lz4.NewWriter(f)
	_, err = lw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, lw.Close())
	require.NoError(t, f.Close())

	for _, p := range []string{gzPath, zstPath, lz4Path} {
		recs, err := (&Loader{Path: p}).Load(context.Background())
		require.NoError(t, err, p)
		assert.Len(t, recs, 3, p)
	}
}

type memStore map[string]string

func (m memStore) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	content, ok := m[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("no such object %s/%s", bucket, key)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func TestLoad_objectStore(t *testing.T) {
	store := memStore{"fixtures/test_data.json": fixtureLines(4)}
	recs, err := (&Loader{Path: "s3://fixtures/test_data.json", Store: store, MaxRecords: 2}).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = (&Loader{Path: "s3://fixtures/missing.json", Store: store}).Load(context.Background())
	assert.Error(t, err)

	_, err = (&Loader{Path: "s3://bucket-only", Store: store}).Load(context.Background())
	assert.Error(t, err)
}
