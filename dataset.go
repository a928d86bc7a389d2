package itslive

import (
	"fmt"
	"sort"
	"time"
)

// Variable is one array of a dataset, in C order. Gridded variables have
// dims (time, y, x); scalar variables (the CRS container) have no dims.
type Variable struct {
	Dims  []string
	Shape []int
	Data  []float64
	Attrs map[string]any
}

// IsScalar reports whether the variable has no dimensions.
func (v *Variable) IsScalar() bool { return len(v.Shape) == 0 }

// At returns the value at (time, y, x) for a gridded variable.
func (v *Variable) At(ti, yi, xi int) float64 {
	return v.Data[(ti*v.Shape[1]+yi)*v.Shape[2]+xi]
}

// Dataset is one tile's downloaded data: variables on a shared
// (time, y, x) grid, tagged with the reference system declared by the store
// itself. Missing values are NaN.
type Dataset struct {
	Vars  map[string]*Variable
	Time  []time.Time
	Y, X  []float64
	Attrs map[string]any
	EPSG  int
}

// Var returns a variable by name.
func (d *Dataset) Var(name string) (*Variable, error) {
	v, ok := d.Vars[name]
	if !ok {
		return nil, fmt.Errorf("dataset has no variable %q", name)
	}
	return v, nil
}

// VarNames lists the dataset's variable names, sorted.
func (d *Dataset) VarNames() []string {
	out := make([]string, 0, len(d.Vars))
	for name := range d.Vars {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
