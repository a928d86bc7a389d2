package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Range selects [Start, Stop) along one dimension.
type Range struct {
	Start, Stop int
}

// Slab is a decoded hyperslab in C order.
type Slab struct {
	Shape []int
	Data  []float64
}

type Array struct {
	store *Store
	name  string
	meta  arrayMeta
	dtype dtype
	fill  float64

	// Dims holds the xarray dimension names, when present.
	Dims  []string
	Attrs map[string]any
}

// Array opens one named array of the store.
func (s *Store) Array(ctx context.Context, name string) (*Array, error) {
	rawMeta, err := s.metaObject(ctx, name+"/"+arrayKey, true)
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", name, err)
	}
	var meta arrayMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("array %q: decode %s: %w", name, arrayKey, err)
	}
	if err := meta.validate(name); err != nil {
		return nil, err
	}
	dt, err := parseDType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", name, err)
	}
	fill, err := meta.fill()
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", name, err)
	}

	a := &Array{store: s, name: name, meta: meta, dtype: dt, fill: fill}

	rawAttrs, err := s.metaObject(ctx, name+"/"+attrsKey, false)
	if err != nil {
		return nil, err
	}
	attrs, err := decodeAttrs(rawAttrs)
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", name, err)
	}
	a.Attrs = attrs
	if v, ok := attrs[DimensionsAttr]; ok {
		if dims, ok := v.([]any); ok {
			for _, d := range dims {
				if ds, ok := d.(string); ok {
					a.Dims = append(a.Dims, ds)
				}
			}
		}
	}
	return a, nil
}

func (a *Array) Shape() []int { return a.meta.Shape }
func (a *Array) Rank() int    { return len(a.meta.Shape) }

// ReadAll reads the whole array.
func (a *Array) ReadAll(ctx context.Context) (*Slab, error) {
	sel := make([]Range, a.Rank())
	for d, n := range a.meta.Shape {
		sel[d] = Range{0, n}
	}
	return a.Read(ctx, sel)
}

// ReadScalar reads a zero-dimensional array.
func (a *Array) ReadScalar(ctx context.Context) (float64, error) {
	if a.Rank() != 0 {
		return 0, fmt.Errorf("array %q: rank %d is not scalar", a.name, a.Rank())
	}
	slab, err := a.Read(ctx, nil)
	if err != nil {
		return 0, err
	}
	return slab.Data[0], nil
}

// Read assembles the selected hyperslab from the underlying chunk objects.
// Chunks absent from the store read back as the fill value.
func (a *Array) Read(ctx context.Context, sel []Range) (*Slab, error) {
	rank := a.Rank()
	if len(sel) != rank {
		return nil, fmt.Errorf("array %q: selection rank %d != array rank %d", a.name, len(sel), rank)
	}
	outShape := make([]int, rank)
	total := 1
	for d, r := range sel {
		if r.Start < 0 || r.Stop > a.meta.Shape[d] || r.Start > r.Stop {
			return nil, fmt.Errorf("array %q: selection [%d, %d) out of range for dim %d (size %d)",
				a.name, r.Start, r.Stop, d, a.meta.Shape[d])
		}
		outShape[d] = r.Stop - r.Start
		total *= outShape[d]
	}

	out := make([]float64, total)
	for i := range out {
		out[i] = a.fill
	}
	slab := &Slab{Shape: outShape, Data: out}
	if total == 0 {
		return slab, nil
	}

	if rank == 0 {
		raw, found, err := a.store.readChunk(ctx, a.store.key(a.name, "0"))
		if err != nil {
			return nil, fmt.Errorf("array %q: chunk 0: %w", a.name, err)
		}
		if found {
			if err := a.decodeChunkInto(raw, out[:1]); err != nil {
				return nil, fmt.Errorf("array %q: chunk 0: %w", a.name, err)
			}
		}
		return slab, nil
	}

	chunkLen := 1
	for _, c := range a.meta.Chunks {
		chunkLen *= c
	}
	chunkBuf := make([]float64, chunkLen)

	// Iterate every chunk that overlaps the selection.
	first := make([]int, rank)
	last := make([]int, rank)
	for d, r := range sel {
		first[d] = r.Start / a.meta.Chunks[d]
		last[d] = (r.Stop - 1) / a.meta.Chunks[d]
	}
	ci := make([]int, rank)
	copy(ci, first)
	for {
		if err := a.readOneChunk(ctx, ci, sel, chunkBuf, slab); err != nil {
			return nil, err
		}
		// odometer increment over [first, last]
		d := rank - 1
		for ; d >= 0; d-- {
			ci[d]++
			if ci[d] <= last[d] {
				break
			}
			ci[d] = first[d]
		}
		if d < 0 {
			break
		}
	}
	return slab, nil
}

func (a *Array) chunkKey(ci []int) string {
	parts := make([]string, len(ci))
	for d, i := range ci {
		parts[d] = strconv.Itoa(i)
	}
	return a.store.key(a.name, strings.Join(parts, a.meta.separator()))
}

func (a *Array) readOneChunk(ctx context.Context, ci []int, sel []Range, chunkBuf []float64, slab *Slab) error {
	key := a.chunkKey(ci)
	raw, found, err := a.store.readChunk(ctx, key)
	if err != nil {
		return fmt.Errorf("array %q: chunk %s: %w", a.name, key, err)
	}
	if !found {
		return nil // fill value already in place
	}
	if err := a.decodeChunkInto(raw, chunkBuf); err != nil {
		return fmt.Errorf("array %q: chunk %s: %w", a.name, key, err)
	}

	rank := len(ci)
	srcStart := make([]int, rank)
	dstStart := make([]int, rank)
	span := make([]int, rank)
	for d := range ci {
		origin := ci[d] * a.meta.Chunks[d]
		lo := max(sel[d].Start, origin)
		hi := min(sel[d].Stop, origin+a.meta.Chunks[d])
		srcStart[d] = lo - origin
		dstStart[d] = lo - sel[d].Start
		span[d] = hi - lo
	}

	srcStride := strides(a.meta.Chunks)
	dstStride := strides(slab.Shape)
	run := span[rank-1]

	// Copy contiguous runs of the innermost dimension.
	idx := make([]int, rank-1)
	for {
		srcOff := srcStart[rank-1]
		dstOff := dstStart[rank-1]
		for d := 0; d < rank-1; d++ {
			srcOff += (srcStart[d] + idx[d]) * srcStride[d]
			dstOff += (dstStart[d] + idx[d]) * dstStride[d]
		}
		copy(slab.Data[dstOff:dstOff+run], chunkBuf[srcOff:srcOff+run])

		d := rank - 2
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < span[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			break
		}
	}
	return nil
}

func (a *Array) decodeChunkInto(raw []byte, out []float64) error {
	plain, err := decompress(a.meta.Compressor, raw)
	if err != nil {
		return err
	}
	return a.dtype.decode(plain, out)
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
