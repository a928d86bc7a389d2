// Package footprint derives tile footprint geometry from the grid coordinates
// encoded in a tile's storage-location string, e.g.
//
//	http://its-live-data.s3.amazonaws.com/composites/annual/v02/ITS_LIVE_vel_annual_EPSG3413_G0120_X250000_Y-2250000.zarr
package footprint

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/ctessum/geom"
)

// Tiles in the annual mosaic archive have a fixed 100 km diameter, so each
// footprint extends 50 km from the encoded centre.
const HalfSide = 50000

var (
	xPattern    = regexp.MustCompile(`_X(.*?)_`)
	yPattern    = regexp.MustCompile(`_Y(.*?)\.zarr`)
	epsgPattern = regexp.MustCompile(`_EPSG(.*?)_`)
)

// Info is the decoded centre and reference system of one tile.
type Info struct {
	X, Y int
	EPSG int
}

// ParseError reports which of the three encoded fields could not be
// extracted or parsed from a storage-location string.
type ParseError struct {
	Location string
	Field    string // "x", "y" or "epsg"
	Token    string // the extracted substring, empty when extraction failed
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("tile location %q: no %s token found", e.Location, e.Field)
	}
	return fmt.Sprintf("tile location %q: %s token %q is not an integer", e.Location, e.Field, e.Token)
}

// Parse extracts the grid centre and EPSG code from a storage-location
// string. All three fields must be present and integral.
func Parse(location string) (Info, error) {
	x, err := extract(location, xPattern, "x")
	if err != nil {
		return Info{}, err
	}
	y, err := extract(location, yPattern, "y")
	if err != nil {
		return Info{}, err
	}
	epsg, err := extract(location, epsgPattern, "epsg")
	if err != nil {
		return Info{}, err
	}
	return Info{X: x, Y: y, EPSG: epsg}, nil
}

func extract(location string, re *regexp.Regexp, field string) (int, error) {
	m := re.FindStringSubmatch(location)
	if m == nil {
		return 0, &ParseError{Location: location, Field: field}
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, &ParseError{Location: location, Field: field, Token: m[1]}
	}
	return n, nil
}

// Bounds returns the axis-aligned square extent of the tile.
func (in Info) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: float64(in.X - HalfSide), Y: float64(in.Y - HalfSide)},
		Max: geom.Point{X: float64(in.X + HalfSide), Y: float64(in.Y + HalfSide)},
	}
}

// Polygon returns the footprint as a closed square ring, suitable for
// insertion into a spatial index.
func (in Info) Polygon() geom.Polygon {
	b := in.Bounds()
	return geom.Polygon{{
		{X: b.Min.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Min.Y},
	}}
}
