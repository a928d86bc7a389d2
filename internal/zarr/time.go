package zarr

import (
	"fmt"
	"strings"
	"time"
)

// UnitsAttr is the CF attribute carrying the epoch and step of a time axis,
// e.g. "days since 1970-01-01".
const UnitsAttr = "units"

var baseLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DecodeTimes converts raw CF time offsets into UTC timestamps.
func DecodeTimes(units string, values []float64) ([]time.Time, error) {
	step, base, err := parseUnits(units)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(values))
	for i, v := range values {
		out[i] = base.Add(time.Duration(v * float64(step)))
	}
	return out, nil
}

func parseUnits(units string) (time.Duration, time.Time, error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return 0, time.Time{}, fmt.Errorf("time units %q: missing %q", units, "since")
	}

	var step time.Duration
	switch strings.ToLower(parts[0]) {
	case "days":
		step = 24 * time.Hour
	case "hours":
		step = time.Hour
	case "minutes":
		step = time.Minute
	case "seconds":
		step = time.Second
	default:
		return 0, time.Time{}, fmt.Errorf("time units %q: unsupported step %q", units, parts[0])
	}

	epoch := strings.TrimSpace(parts[1])
	epoch = strings.TrimSuffix(epoch, "Z")
	for _, layout := range baseLayouts {
		if base, err := time.ParseInLocation(layout, epoch, time.UTC); err == nil {
			return step, base, nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("time units %q: cannot parse epoch %q", units, parts[1])
}
