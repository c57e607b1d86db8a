package fixture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ReadFvecs reads up to max rows (all when max <= 0) of a .fvecs file:
// each row is a little-endian int32 dimension followed by that many float32 values.
func ReadFvecs(ctx context.Context, path string, max int) ([][]float32, error) {
	var out [][]float32
	err := readVecs(ctx, path, max, func(row []uint32) {
		v := make([]float32, len(row))
		for i, bits := range row {
			v[i] = math.Float32frombits(bits)
		}
		out = append(out, v)
	})
	return out, err
}

// ReadIvecs reads up to max rows of a .ivecs file, the int32 counterpart of fvecs used for ground truth.
func ReadIvecs(ctx context.Context, path string, max int) ([][]uint32, error) {
	var out [][]uint32
	err := readVecs(ctx, path, max, func(row []uint32) {
		out = append(out, append([]uint32(nil), row...))
	})
	return out, err
}

func readVecs(ctx context.Context, path string, max int, emit func([]uint32)) error {
	src, err := openSource(ctx, path, nil, S3Options{})
	if err != nil {
		return err
	}
	defer src.Close()
	r := bufio.NewReaderSize(src, 1<<20)

	var dimBuf [4]byte
	var row []uint32
	var buf []byte
	for n := 0; max <= 0 || n < max; n++ {
		if _, err := io.ReadFull(r, dimBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%s row %d: %w", path, n, err)
		}
		dim := int(int32(binary.LittleEndian.Uint32(dimBuf[:])))
		if dim <= 0 || dim > 1<<20 {
			return fmt.Errorf("%s row %d: invalid dimension %d", path, n, dim)
		}
		if cap(buf) < dim*4 {
			buf = make([]byte, dim*4)
			row = make([]uint32, dim)
		}
		buf, row = buf[:dim*4], row[:dim]
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("%s row %d: %w", path, n, err)
		}
		for i := range row {
			row[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}
		emit(row)
	}
	return nil
}
