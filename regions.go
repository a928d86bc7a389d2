package itslive

import (
	"sort"
	"strings"
)

// Region selects one of the archive's single-EPSG mosaic regions.
type Region string

const (
	Greenland  Region = "greenland"
	Antarctica Region = "antarctica"
)

type regionInfo struct {
	archiveID string
	epsg      int
}

var regions = map[Region]regionInfo{
	Greenland:  {archiveID: "RGI05A", epsg: 3413},
	Antarctica: {archiveID: "RGI19A", epsg: 3031},
}

// ParseRegion resolves a case-insensitive region name.
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := regions[r]; !ok {
		return "", &InvalidRegionError{Region: s}
	}
	return r, nil
}

// RegionNames lists the supported regions, sorted.
func RegionNames() []string {
	out := make([]string, 0, len(regions))
	for r := range regions {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return out
}

// ArchiveID returns the archive identifier used in manifest URLs, empty for
// unknown regions.
func (r Region) ArchiveID() string {
	return regions[r].archiveID
}

// EPSG returns the reference system expected for the region's tiles, zero
// for unknown regions.
func (r Region) EPSG() int {
	return regions[r].epsg
}

func (r Region) String() string { return string(r) }
