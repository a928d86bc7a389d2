// Package manifest loads and sanitizes the remote per-region tile manifest.
//
// The manifest is a JSON object mapping column names to arrays of values,
// one entry per tile. Columns are expected to share one common length; the
// storage-location column is authoritative for that length and columns that
// disagree are dropped rather than treated as an error.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryoscope/itslive/internal/observability"
)

// LocationColumn holds the per-tile zarr store URLs and defines the
// authoritative column length during sanitization.
const LocationColumn = "composites_s3"

const pathTemplate = "/mosaics/annual/v2/netcdf/ITS_LIVE_velocity_120m_%s_0000_v02.json"

// DefaultBaseURL is the public archive root.
const DefaultBaseURL = "https://its-live-data.s3-us-west-2.amazonaws.com"

// Manifest is the sanitized column mapping for one region.
type Manifest struct {
	Length    int
	Columns   map[string][]json.RawMessage
	Locations []string // decoded LocationColumn
	Dropped   []string // columns removed during sanitization, sorted
}

// FetchError reports a failed manifest retrieval. Status is zero when the
// request never produced a response.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch manifest %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch manifest %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Loader struct {
	base   string
	client *http.Client
	log    zerolog.Logger
}

func NewLoader(base string, client *http.Client, log zerolog.Logger) *Loader {
	if base == "" {
		base = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{base: base, client: client, log: log}
}

// URL returns the manifest URL for one archive identifier.
func (l *Loader) URL(archiveID string) string {
	return l.base + fmt.Sprintf(pathTemplate, archiveID)
}

// Fetch retrieves and sanitizes the manifest for one archive identifier.
func (l *Loader) Fetch(ctx context.Context, archiveID string) (*Manifest, error) {
	u := l.URL(archiveID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := l.client.Do(req)
	observability.ObserveUpstreamLatency("manifest", time.Since(start).Seconds())
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &FetchError{URL: u, Status: resp.StatusCode, Err: fmt.Errorf("%s", b)}
	}

	var raw map[string][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &FetchError{URL: u, Err: fmt.Errorf("decode manifest: %w", err)}
	}

	return l.sanitize(u, raw)
}

func (l *Loader) sanitize(u string, raw map[string][]json.RawMessage) (*Manifest, error) {
	locCol, ok := raw[LocationColumn]
	if !ok {
		return nil, &FetchError{URL: u, Err: fmt.Errorf("manifest has no %q column", LocationColumn)}
	}
	full := len(locCol)

	m := &Manifest{
		Length:  full,
		Columns: make(map[string][]json.RawMessage, len(raw)),
	}
	for name, col := range raw {
		if len(col) != full {
			m.Dropped = append(m.Dropped, name)
			continue
		}
		m.Columns[name] = col
	}
	sort.Strings(m.Dropped)
	for _, name := range m.Dropped {
		l.log.Debug().Str("column", name).Int("len", len(raw[name])).Int("want", full).
			Msg("dropping manifest column with mismatched length")
	}

	locs, err := decodeStrings(locCol)
	if err != nil {
		return nil, &FetchError{URL: u, Err: fmt.Errorf("column %q: %w", LocationColumn, err)}
	}
	m.Locations = locs
	return m, nil
}

func decodeStrings(col []json.RawMessage) ([]string, error) {
	out := make([]string, len(col))
	for i, raw := range col {
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			return nil, fmt.Errorf("entry %d is not a string: %w", i, err)
		}
	}
	return out, nil
}
