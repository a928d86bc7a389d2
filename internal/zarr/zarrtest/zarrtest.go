// Package zarrtest builds small zarr v2 stores inside blob buckets for
// tests. It writes both consolidated metadata and the individual metadata
// objects so either read path can be exercised.
package zarrtest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
)

type Array struct {
	Dims       []string
	Shape      []int
	Chunks     []int
	DType      string // e.g. "<f4"
	Data       []float64
	Attrs      map[string]any
	Compressor string // "", "gzip", "zstd"
	FillValue  any    // nil means "NaN"
}

type Store struct {
	Attrs  map[string]any
	Arrays map[string]Array
}

// Write materializes the store under prefix in bucket.
func (s Store) Write(ctx context.Context, bucket *blob.Bucket, prefix string) error {
	meta := map[string]json.RawMessage{}

	rootAttrs := s.Attrs
	if rootAttrs == nil {
		rootAttrs = map[string]any{}
	}
	if err := putJSON(ctx, bucket, meta, prefix, ".zattrs", rootAttrs); err != nil {
		return err
	}
	if err := putJSON(ctx, bucket, meta, prefix, ".zgroup", map[string]any{"zarr_format": 2}); err != nil {
		return err
	}

	for name, a := range s.Arrays {
		if err := writeArray(ctx, bucket, meta, prefix, name, a); err != nil {
			return fmt.Errorf("array %q: %w", name, err)
		}
	}

	doc := map[string]any{"metadata": meta, "zarr_consolidated_format": 1}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return bucket.WriteAll(ctx, key(prefix, ".zmetadata"), b, nil)
}

func writeArray(ctx context.Context, bucket *blob.Bucket, meta map[string]json.RawMessage, prefix, name string, a Array) error {
	fill := a.FillValue
	if fill == nil {
		fill = "NaN"
	}
	var compressor any
	if a.Compressor != "" {
		compressor = map[string]any{"id": a.Compressor}
	}
	zarray := map[string]any{
		"zarr_format":         2,
		"shape":               a.Shape,
		"chunks":              a.Chunks,
		"dtype":               a.DType,
		"compressor":          compressor,
		"fill_value":          fill,
		"order":               "C",
		"filters":             nil,
		"dimension_separator": ".",
	}
	if err := putJSON(ctx, bucket, meta, prefix, name+"/.zarray", zarray); err != nil {
		return err
	}

	attrs := map[string]any{}
	for k, v := range a.Attrs {
		attrs[k] = v
	}
	if len(a.Dims) > 0 {
		attrs["_ARRAY_DIMENSIONS"] = a.Dims
	}
	if err := putJSON(ctx, bucket, meta, prefix, name+"/.zattrs", attrs); err != nil {
		return err
	}

	return writeChunks(ctx, bucket, prefix, name, a)
}

func writeChunks(ctx context.Context, bucket *blob.Bucket, prefix, name string, a Array) error {
	rank := len(a.Shape)
	if rank == 0 {
		raw, err := encode(a.DType, a.Data)
		if err != nil {
			return err
		}
		raw, err = compress(a.Compressor, raw)
		if err != nil {
			return err
		}
		return bucket.WriteAll(ctx, key(prefix, name, "0"), raw, nil)
	}

	nChunks := make([]int, rank)
	for d := range a.Shape {
		nChunks[d] = (a.Shape[d] + a.Chunks[d] - 1) / a.Chunks[d]
	}
	chunkLen := 1
	for _, c := range a.Chunks {
		chunkLen *= c
	}
	shapeStride := strides(a.Shape)

	pad := math.NaN()
	if a.DType[1] != 'f' {
		pad = 0
	}
	ci := make([]int, rank)
	for {
		buf := make([]float64, chunkLen)
		for i := range buf {
			buf[i] = pad
		}
		fillChunk(a, ci, shapeStride, buf)

		raw, err := encode(a.DType, buf)
		if err != nil {
			return err
		}
		raw, err = compress(a.Compressor, raw)
		if err != nil {
			return err
		}
		parts := make([]string, rank)
		for d, i := range ci {
			parts[d] = strconv.Itoa(i)
		}
		if err := bucket.WriteAll(ctx, key(prefix, name, strings.Join(parts, ".")), raw, nil); err != nil {
			return err
		}

		d := rank - 1
		for ; d >= 0; d-- {
			ci[d]++
			if ci[d] < nChunks[d] {
				break
			}
			ci[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

// fillChunk copies the chunk's window of the full data array into buf.
func fillChunk(a Array, ci []int, shapeStride []int, buf []float64) {
	rank := len(a.Shape)
	span := make([]int, rank)
	origin := make([]int, rank)
	for d := range a.Shape {
		origin[d] = ci[d] * a.Chunks[d]
		span[d] = min(a.Chunks[d], a.Shape[d]-origin[d])
	}
	chunkStride := strides(a.Chunks)

	idx := make([]int, rank)
	for {
		srcOff, dstOff := 0, 0
		for d := range idx {
			srcOff += (origin[d] + idx[d]) * shapeStride[d]
			dstOff += idx[d] * chunkStride[d]
		}
		buf[dstOff] = a.Data[srcOff]

		d := rank - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < span[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

func encode(dtype string, data []float64) ([]byte, error) {
	if len(dtype) != 3 {
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	var buf bytes.Buffer
	for _, v := range data {
		switch dtype[1:] {
		case "f4":
			if err := binary.Write(&buf, binary.LittleEndian, float32(v)); err != nil {
				return nil, err
			}
		case "f8":
			if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
				return nil, err
			}
		case "i1":
			buf.WriteByte(byte(int8(v)))
		case "i2":
			if err := binary.Write(&buf, binary.LittleEndian, int16(v)); err != nil {
				return nil, err
			}
		case "i4":
			if err := binary.Write(&buf, binary.LittleEndian, int32(v)); err != nil {
				return nil, err
			}
		case "i8":
			if err := binary.Write(&buf, binary.LittleEndian, int64(v)); err != nil {
				return nil, err
			}
		case "u1":
			buf.WriteByte(byte(uint8(v)))
		case "u2":
			if err := binary.Write(&buf, binary.LittleEndian, uint16(v)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unsupported dtype %q", dtype)
		}
	}
	return buf.Bytes(), nil
}

func compress(id string, raw []byte) ([]byte, error) {
	switch id {
	case "":
		return raw, nil
	case "gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer func() { _ = enc.Close() }()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("unsupported test compressor %q", id)
	}
}

func putJSON(ctx context.Context, bucket *blob.Bucket, meta map[string]json.RawMessage, prefix, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	meta[name] = b
	return bucket.WriteAll(ctx, key(prefix, name), b, nil)
}

func key(prefix string, parts ...string) string {
	if prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{prefix}, parts...)...)
}

func strides(shape []int) []int {
	out := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		out[d] = acc
		acc *= shape[d]
	}
	return out
}
