package fixture

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeVecs(t *testing.T, name string, rows [][]uint32) string {
	t.Helper()
	var buf []byte
	for _, row := range rows {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(row)))
		for _, v := range row {
			buf = binary.LittleEndian.AppendUint32(buf, v)
		}
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, buf, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadFvecs(t *testing.T) {
	rows := [][]uint32{
		{math.Float32bits(1.5), math.Float32bits(-2)},
		{math.Float32bits(0), math.Float32bits(3)},
		{math.Float32bits(4), math.Float32bits(5)},
	}
	path := writeVecs(t, "base.fvecs", rows)

	got, err := ReadFvecs(context.Background(), path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0][0] != 1.5 || got[0][1] != -2 || got[2][1] != 5 {
		t.Errorf("unexpected vectors: %v", got)
	}

	limited, err := ReadFvecs(context.Background(), path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("max=2: got %d rows", len(limited))
	}
}

func TestReadIvecs(t *testing.T) {
	path := writeVecs(t, "gt.ivecs", [][]uint32{{7, 3, 9}, {1, 2, 3}})
	got, err := ReadIvecs(context.Background(), path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0][0] != 7 || got[1][2] != 3 {
		t.Errorf("unexpected rows: %v", got)
	}
}

func TestReadIvecs_truncated(t *testing.T) {
	path := writeVecs(t, "gt.ivecs", [][]uint32{{7, 3, 9}})
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)-2], 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadIvecs(context.Background(), path, 0); err == nil {
		t.Fatal("expected error for truncated row")
	}
}
