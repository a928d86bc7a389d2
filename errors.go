package itslive

import (
	"fmt"
	"strings"
)

// InvalidRegionError reports a region outside the supported set.
type InvalidRegionError struct {
	Region string
}

func (e *InvalidRegionError) Error() string {
	return fmt.Sprintf("invalid region %q: must be one of %s", e.Region, strings.Join(RegionNames(), ", "))
}

// ManifestFetchError reports a failed manifest retrieval. Status is zero
// when no HTTP response was received.
type ManifestFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *ManifestFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch manifest %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch manifest %s: %v", e.URL, e.Err)
}

func (e *ManifestFetchError) Unwrap() error { return e.Err }

// GeometryParseError reports a storage-location string whose encoded grid
// coordinates or reference system could not be extracted.
type GeometryParseError struct {
	Location string
	Field    string // "x", "y" or "epsg"
	Token    string // offending substring, empty when no token was found
}

func (e *GeometryParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("tile location %q: no %s token found", e.Location, e.Field)
	}
	return fmt.Sprintf("tile location %q: %s token %q is not an integer", e.Location, e.Field, e.Token)
}

// MixedReferenceSystemError reports a manifest whose tiles do not share
// exactly one reference system. Multi-EPSG regions are not supported.
type MixedReferenceSystemError struct {
	Codes []int
}

func (e *MixedReferenceSystemError) Error() string {
	return fmt.Sprintf("tiles must share one reference system, found %d: %v", len(e.Codes), e.Codes)
}

// ReferenceSystemMismatchError reports a manifest whose single reference
// system differs from the one expected for the region.
type ReferenceSystemMismatchError struct {
	Got, Want int
}

func (e *ReferenceSystemMismatchError) Error() string {
	return fmt.Sprintf("tile reference system EPSG:%d does not match expected EPSG:%d", e.Got, e.Want)
}

// InvalidYearRangeError reports a year range with non-positive years or
// min greater than max.
type InvalidYearRangeError struct {
	Min, Max int
}

func (e *InvalidYearRangeError) Error() string {
	return fmt.Sprintf("invalid year range [%d, %d]", e.Min, e.Max)
}

// InvalidTileReferenceError reports a tile reference that cannot be
// resolved to a storage location.
type InvalidTileReferenceError struct {
	Reason string
}

func (e *InvalidTileReferenceError) Error() string {
	return "invalid tile reference: " + e.Reason
}

// TileFetchError wraps a failure while downloading one tile's data.
type TileFetchError struct {
	Location string
	Err      error
}

func (e *TileFetchError) Error() string {
	return fmt.Sprintf("fetch tile %s: %v", e.Location, e.Err)
}

func (e *TileFetchError) Unwrap() error { return e.Err }

// MergeConflictError reports a merge conflict that cannot be resolved by
// dropping metadata.
type MergeConflictError struct {
	Variable string
	Detail   string
}

func (e *MergeConflictError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("merge conflict in variable %q: %s", e.Variable, e.Detail)
	}
	return "merge conflict: " + e.Detail
}
