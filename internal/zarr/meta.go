package zarr

import (
	"encoding/json"
	"fmt"
	"math"
)

// consolidated is the .zmetadata document: every metadata object of the store
// keyed by its path, so one read describes the whole hierarchy.
type consolidated struct {
	Metadata map[string]json.RawMessage `json:"metadata"`
	Format   int                        `json:"zarr_consolidated_format"`
}

type compressorMeta struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

type arrayMeta struct {
	Shape              []int           `json:"shape"`
	Chunks             []int           `json:"chunks"`
	DType              string          `json:"dtype"`
	Compressor         *compressorMeta `json:"compressor"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            json.RawMessage `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator"`
	ZarrFormat         int             `json:"zarr_format"`
}

func (m *arrayMeta) validate(name string) error {
	if len(m.Shape) != len(m.Chunks) {
		return fmt.Errorf("array %q: shape rank %d != chunk rank %d", name, len(m.Shape), len(m.Chunks))
	}
	for d, c := range m.Chunks {
		if c <= 0 && len(m.Shape) > 0 {
			return fmt.Errorf("array %q: non-positive chunk size in dim %d", name, d)
		}
	}
	if m.Order != "" && m.Order != "C" {
		return fmt.Errorf("array %q: order %q not supported (C only)", name, m.Order)
	}
	if len(m.Filters) > 0 && string(m.Filters) != "null" {
		return fmt.Errorf("array %q: filter pipelines not supported", name)
	}
	return nil
}

func (m *arrayMeta) separator() string {
	if m.DimensionSeparator == "" {
		return "."
	}
	return m.DimensionSeparator
}

// fill returns the fill value as a float64. Absent or null fill decodes to
// NaN so padded regions read back as missing.
func (m *arrayMeta) fill() (float64, error) {
	raw := string(m.FillValue)
	if raw == "" || raw == "null" {
		return math.NaN(), nil
	}
	var s string
	if err := json.Unmarshal(m.FillValue, &s); err == nil {
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return 0, fmt.Errorf("unsupported fill_value %q", s)
	}
	var f float64
	if err := json.Unmarshal(m.FillValue, &f); err != nil {
		return 0, fmt.Errorf("unsupported fill_value %s", raw)
	}
	return f, nil
}

func decodeAttrs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
