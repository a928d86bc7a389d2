package itslive

import "github.com/rs/zerolog"

// TileRef identifies the tile a download targets. Construct one with
// LocationRef, TileOf or FirstOf; the zero value is invalid.
type TileRef struct {
	location string
	catalog  *Catalog
}

// LocationRef references a tile by its raw storage-location URL.
func LocationRef(location string) TileRef {
	return TileRef{location: location}
}

// TileOf references one catalog entry.
func TileOf(t Tile) TileRef {
	return TileRef{location: t.Location}
}

// FirstOf references the first tile of a catalog. Only one tile can be
// downloaded at a time, so a multi-tile catalog resolves to its first entry
// with a warning.
func FirstOf(c *Catalog) TileRef {
	return TileRef{catalog: c}
}

func (r TileRef) resolve(log *zerolog.Logger) (string, error) {
	switch {
	case r.location != "":
		return r.location, nil
	case r.catalog != nil:
		if r.catalog.Len() == 0 {
			return "", &InvalidTileReferenceError{Reason: "catalog contains no tiles"}
		}
		if r.catalog.Len() > 1 {
			log.Warn().Int("tiles", r.catalog.Len()).
				Msg("catalog has more than one tile, downloading the first")
		}
		return r.catalog.tiles[0].Location, nil
	default:
		return "", &InvalidTileReferenceError{Reason: "no storage location"}
	}
}
