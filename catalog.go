package itslive

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/cryoscope/itslive/internal/footprint"
	"github.com/cryoscope/itslive/internal/logger"
	"github.com/cryoscope/itslive/internal/manifest"
	"github.com/cryoscope/itslive/internal/observability"
)

// Bounds is an axis-aligned bounding box in the projected coordinates of a
// catalog's reference system.
type Bounds struct {
	XMin, YMin, XMax, YMax float64
}

func (b Bounds) geomBounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: b.XMin, Y: b.YMin},
		Max: geom.Point{X: b.XMax, Y: b.YMax},
	}
}

// Tile is one catalog entry: a remote zarr store and its square footprint.
type Tile struct {
	Location  string
	X, Y      int // grid centre
	Footprint *geom.Bounds
	EPSG      int
}

// Catalog is the immutable, spatially indexed tile collection for one
// region. Sub-catalogs produced by Query share the same shape.
type Catalog struct {
	tiles   []Tile
	columns map[string][]json.RawMessage
	epsg    int
	index   *rtree.Rtree
}

type tileEntry struct {
	geom.Polygon
	pos int
}

func newCatalog(tiles []Tile, columns map[string][]json.RawMessage, epsg int) *Catalog {
	c := &Catalog{
		tiles:   tiles,
		columns: columns,
		epsg:    epsg,
		index:   rtree.NewTree(25, 50),
	}
	for i, t := range tiles {
		in := footprint.Info{X: t.X, Y: t.Y, EPSG: t.EPSG}
		c.index.Insert(&tileEntry{Polygon: in.Polygon(), pos: i})
	}
	return c
}

// Len returns the number of tiles.
func (c *Catalog) Len() int { return len(c.tiles) }

// EPSG returns the reference system shared by every tile.
func (c *Catalog) EPSG() int { return c.epsg }

// Tiles returns the tiles in catalog order. Footprints are copies, so
// mutating them cannot desync the catalog from its spatial index.
func (c *Catalog) Tiles() []Tile {
	out := make([]Tile, len(c.tiles))
	copy(out, c.tiles)
	for i, t := range out {
		fp := *t.Footprint
		out[i].Footprint = &fp
	}
	return out
}

// Locations returns the storage locations in catalog order.
func (c *Catalog) Locations() []string {
	out := make([]string, len(c.tiles))
	for i, t := range c.tiles {
		out[i] = t.Location
	}
	return out
}

// Column returns a surviving manifest column, aligned with Tiles order.
func (c *Catalog) Column(name string) ([]json.RawMessage, bool) {
	col, ok := c.columns[name]
	return col, ok
}

// ColumnNames lists the surviving manifest columns, sorted.
func (c *Catalog) ColumnNames() []string {
	out := make([]string, 0, len(c.columns))
	for name := range c.columns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Query returns the sub-catalog of tiles whose footprint intersects b.
// Boundary contact counts as intersection, tile order is preserved, and the
// receiver is never modified.
func (c *Catalog) Query(b Bounds) *Catalog {
	qb := b.geomBounds()
	keep := make([]bool, len(c.tiles))
	for _, hit := range c.index.SearchIntersect(qb) {
		e := hit.(*tileEntry)
		if touches(c.tiles[e.pos].Footprint, qb) {
			keep[e.pos] = true
		}
	}

	var tiles []Tile
	var rows []int
	for i, t := range c.tiles {
		if keep[i] {
			tiles = append(tiles, t)
			rows = append(rows, i)
		}
	}
	columns := make(map[string][]json.RawMessage, len(c.columns))
	for name, col := range c.columns {
		sub := make([]json.RawMessage, len(rows))
		for j, i := range rows {
			sub[j] = col[i]
		}
		columns[name] = sub
	}
	return newCatalog(tiles, columns, c.epsg)
}

// touches is an inclusive overlap test, so footprints sharing only an edge
// or corner with the box still match.
func touches(a, b *geom.Bounds) bool {
	return a.Min.X <= b.Max.X && b.Min.X <= a.Max.X &&
		a.Min.Y <= b.Max.Y && b.Min.Y <= a.Max.Y
}

// BuildCatalog fetches the region's manifest and assembles the tile catalog.
// Construction is all-or-nothing: any failure returns a nil catalog.
func (c *Client) BuildCatalog(ctx context.Context, region Region) (catalog *Catalog, err error) {
	defer func() { observability.IncCatalogBuild(string(region), err) }()

	info, ok := regions[region]
	if !ok {
		return nil, &InvalidRegionError{Region: string(region)}
	}

	ctx = logger.WithRegion(ctx, string(region))
	log := logger.FromContext(ctx, &c.log)

	m, err := c.manifests.Fetch(ctx, info.archiveID)
	if err != nil {
		var fe *manifest.FetchError
		if errors.As(err, &fe) {
			return nil, &ManifestFetchError{URL: fe.URL, Status: fe.Status, Err: fe.Err}
		}
		return nil, &ManifestFetchError{Err: err}
	}
	log.Debug().Int("tiles", m.Length).Int("dropped_columns", len(m.Dropped)).Msg("manifest loaded")

	tiles := make([]Tile, len(m.Locations))
	codes := map[int]struct{}{}
	for i, loc := range m.Locations {
		in, err := footprint.Parse(loc)
		if err != nil {
			var pe *footprint.ParseError
			if errors.As(err, &pe) {
				return nil, &GeometryParseError{Location: pe.Location, Field: pe.Field, Token: pe.Token}
			}
			return nil, err
		}
		tiles[i] = Tile{Location: loc, X: in.X, Y: in.Y, Footprint: in.Bounds(), EPSG: in.EPSG}
		codes[in.EPSG] = struct{}{}
	}

	if len(codes) != 1 {
		list := make([]int, 0, len(codes))
		for code := range codes {
			list = append(list, code)
		}
		sort.Ints(list)
		return nil, &MixedReferenceSystemError{Codes: list}
	}
	var epsg int
	for code := range codes {
		epsg = code
	}
	if epsg != info.epsg {
		return nil, &ReferenceSystemMismatchError{Got: epsg, Want: info.epsg}
	}

	log.Info().Int("tiles", len(tiles)).Int("epsg", epsg).Msg("catalog built")
	return newCatalog(tiles, m.Columns, epsg), nil
}
