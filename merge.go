package itslive

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"
)

// Merge combines per-tile datasets into one dataset on the union of their
// coordinate axes. Cells absent from every input stay NaN. Where two inputs
// both carry a value for the same cell the values must agree; disagreement
// is a MergeConflictError. Attributes merge by union, dropping any key whose
// values differ between inputs.
func Merge(datasets ...*Dataset) (*Dataset, error) {
	if len(datasets) == 0 {
		return nil, fmt.Errorf("merge: no datasets")
	}
	if len(datasets) == 1 {
		return datasets[0], nil
	}

	epsg := datasets[0].EPSG
	for _, d := range datasets[1:] {
		if d.EPSG != epsg {
			return nil, &MergeConflictError{
				Detail: fmt.Sprintf("reference systems differ: EPSG:%d vs EPSG:%d", epsg, d.EPSG),
			}
		}
	}

	times := unionTimes(datasets)
	xs := unionFloats(datasets, func(d *Dataset) []float64 { return d.X }, false)
	yDesc := len(datasets[0].Y) >= 2 && datasets[0].Y[1] < datasets[0].Y[0]
	ys := unionFloats(datasets, func(d *Dataset) []float64 { return d.Y }, yDesc)

	tIdx := make(map[int64]int, len(times))
	for i, t := range times {
		tIdx[t.UnixNano()] = i
	}
	xIdx := make(map[float64]int, len(xs))
	for i, v := range xs {
		xIdx[v] = i
	}
	yIdx := make(map[float64]int, len(ys))
	for i, v := range ys {
		yIdx[v] = i
	}

	globalAttrs := make([]map[string]any, len(datasets))
	for i, d := range datasets {
		globalAttrs[i] = d.Attrs
	}
	out := &Dataset{
		Vars:  make(map[string]*Variable),
		Time:  times,
		Y:     ys,
		X:     xs,
		Attrs: mergeAttrs(globalAttrs...),
		EPSG:  epsg,
	}

	names := map[string]bool{}
	for _, d := range datasets {
		for name := range d.Vars {
			names[name] = true
		}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	nt, ny, nx := len(times), len(ys), len(xs)
	for _, name := range sorted {
		merged, err := mergeVariable(name, datasets, tIdx, yIdx, xIdx, nt, ny, nx)
		if err != nil {
			return nil, err
		}
		out.Vars[name] = merged
	}
	return out, nil
}

func mergeVariable(name string, datasets []*Dataset, tIdx map[int64]int, yIdx, xIdx map[float64]int, nt, ny, nx int) (*Variable, error) {
	var (
		present []*Dataset
		vars    []*Variable
		scalar  bool
		first   = true
	)
	for _, d := range datasets {
		v, ok := d.Vars[name]
		if !ok {
			continue
		}
		if first {
			scalar = v.IsScalar()
			first = false
		} else if v.IsScalar() != scalar {
			return nil, &MergeConflictError{Variable: name, Detail: "mixed scalar and gridded values"}
		}
		present = append(present, d)
		vars = append(vars, v)
	}

	attrs := make([]map[string]any, len(vars))
	for i, v := range vars {
		attrs[i] = v.Attrs
	}

	if scalar {
		for _, v := range vars[1:] {
			if !sameValue(vars[0].Data[0], v.Data[0]) {
				return nil, &MergeConflictError{
					Variable: name,
					Detail:   fmt.Sprintf("scalar values differ: %g vs %g", vars[0].Data[0], v.Data[0]),
				}
			}
		}
		return &Variable{Data: []float64{vars[0].Data[0]}, Attrs: mergeAttrs(attrs...)}, nil
	}

	merged := &Variable{
		Dims:  vars[0].Dims,
		Shape: []int{nt, ny, nx},
		Data:  make([]float64, nt*ny*nx),
		Attrs: mergeAttrs(attrs...),
	}
	for i := range merged.Data {
		merged.Data[i] = math.NaN()
	}

	for di, d := range present {
		v := vars[di]
		for ti := 0; ti < v.Shape[0]; ti++ {
			ut := tIdx[d.Time[ti].UnixNano()]
			for yi := 0; yi < v.Shape[1]; yi++ {
				uy := yIdx[d.Y[yi]]
				for xi := 0; xi < v.Shape[2]; xi++ {
					val := v.At(ti, yi, xi)
					if math.IsNaN(val) {
						continue
					}
					ux := xIdx[d.X[xi]]
					pos := (ut*ny+uy)*nx + ux
					old := merged.Data[pos]
					if !math.IsNaN(old) && old != val {
						return nil, &MergeConflictError{
							Variable: name,
							Detail: fmt.Sprintf("values differ at (t=%s, y=%g, x=%g): %g vs %g",
								d.Time[ti].Format(time.RFC3339), d.Y[yi], d.X[xi], old, val),
						}
					}
					merged.Data[pos] = val
				}
			}
		}
	}
	return merged, nil
}

func sameValue(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

func unionTimes(datasets []*Dataset) []time.Time {
	seen := map[int64]bool{}
	var out []time.Time
	for _, d := range datasets {
		for _, t := range d.Time {
			if !seen[t.UnixNano()] {
				seen[t.UnixNano()] = true
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func unionFloats(datasets []*Dataset, axis func(*Dataset) []float64, desc bool) []float64 {
	seen := map[float64]bool{}
	var out []float64
	for _, d := range datasets {
		for _, v := range axis(d) {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Float64s(out)
	if desc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func mergeAttrs(maps ...map[string]any) map[string]any {
	out := map[string]any{}
	dropped := map[string]bool{}
	for _, m := range maps {
		for k, v := range m {
			if dropped[k] {
				continue
			}
			if old, ok := out[k]; ok {
				if !reflect.DeepEqual(old, v) {
					delete(out, k)
					dropped[k] = true
				}
				continue
			}
			out[k] = v
		}
	}
	return out
}
