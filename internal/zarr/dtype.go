package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
)

// dtype describes a fixed-width numeric element type from a .zarray dtype
// string such as "<f4" or "|i1". Big-endian stores are not supported; the
// archive writes little-endian throughout.
type dtype struct {
	kind byte // 'f', 'i' or 'u'
	size int
}

func parseDType(s string) (dtype, error) {
	if len(s) != 3 {
		return dtype{}, fmt.Errorf("unsupported dtype %q", s)
	}
	switch s[0] {
	case '<', '|':
	case '>':
		return dtype{}, fmt.Errorf("unsupported dtype %q: big-endian not supported", s)
	default:
		return dtype{}, fmt.Errorf("unsupported dtype %q", s)
	}
	var dt dtype
	switch s[1] {
	case 'f', 'i', 'u':
		dt.kind = s[1]
	default:
		return dtype{}, fmt.Errorf("unsupported dtype %q", s)
	}
	switch s[2] {
	case '1':
		dt.size = 1
	case '2':
		dt.size = 2
	case '4':
		dt.size = 4
	case '8':
		dt.size = 8
	default:
		return dtype{}, fmt.Errorf("unsupported dtype %q", s)
	}
	if dt.kind == 'f' && dt.size < 4 {
		return dtype{}, fmt.Errorf("unsupported dtype %q", s)
	}
	if dt.kind == 'u' && dt.size == 8 {
		return dtype{}, fmt.Errorf("unsupported dtype %q: uint64 cannot round-trip float64", s)
	}
	return dt, nil
}

// decode converts raw little-endian chunk bytes into float64 values.
func (dt dtype) decode(raw []byte, out []float64) error {
	if len(raw) != len(out)*dt.size {
		return fmt.Errorf("chunk has %d bytes, want %d", len(raw), len(out)*dt.size)
	}
	switch {
	case dt.kind == 'f' && dt.size == 4:
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	case dt.kind == 'f' && dt.size == 8:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case dt.kind == 'i' && dt.size == 1:
		for i := range out {
			out[i] = float64(int8(raw[i]))
		}
	case dt.kind == 'i' && dt.size == 2:
		for i := range out {
			out[i] = float64(int16(binary.LittleEndian.Uint16(raw[i*2:])))
		}
	case dt.kind == 'i' && dt.size == 4:
		for i := range out {
			out[i] = float64(int32(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	case dt.kind == 'i' && dt.size == 8:
		for i := range out {
			out[i] = float64(int64(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	case dt.kind == 'u' && dt.size == 1:
		for i := range out {
			out[i] = float64(raw[i])
		}
	case dt.kind == 'u' && dt.size == 2:
		for i := range out {
			out[i] = float64(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case dt.kind == 'u' && dt.size == 4:
		for i := range out {
			out[i] = float64(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	default:
		return fmt.Errorf("unsupported dtype kind %q size %d", dt.kind, dt.size)
	}
	return nil
}
