package keys

import (
	"regexp"
	"testing"
	"unicode"
)

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	loc := "http://its-live-data.s3.amazonaws.com/composites/annual/v02/ITS_LIVE_vel_annual_EPSG3413_G0120_X250000_Y-2250000.zarr"
	k1 := Chunk(loc, "v/0.12.7")
	k2 := Chunk(loc, "v/0.12.7")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestDifference_DifferentStoresAreDifferent(t *testing.T) {
	k1 := Chunk("s3://its-live-data/a.zarr", "v/0.0.0")
	k2 := Chunk("s3://its-live-data/b.zarr", "v/0.0.0")
	if k1 == k2 {
		t.Fatalf("different stores must produce different keys")
	}
}

func TestShape_HashPrefixAndReadableObject(t *testing.T) {
	k := Chunk("s3://its-live-data/a.zarr", "vx_error/3.0.1")
	m := regexp.MustCompile(`^itslive:chunk:([0-9a-f]{16}):vx_error:3\.0\.1$`).FindStringSubmatch(k)
	if len(m) != 2 {
		t.Fatalf("unexpected key shape: %s", k)
	}
}

func TestSanitize_NonASCIIDoesNotLeak(t *testing.T) {
	k := Chunk("s3://bucket/store.zarr", "v/0.0.0?weird=platå")
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
}
