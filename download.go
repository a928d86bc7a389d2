package itslive

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"gocloud.dev/blob"
	"gocloud.dev/blob/s3blob"

	"github.com/cryoscope/itslive/internal/logger"
	"github.com/cryoscope/itslive/internal/observability"
	"github.com/cryoscope/itslive/internal/zarr"
)

// YearRange restricts a download to time steps whose year falls within
// [Min, Max] inclusive.
type YearRange struct {
	Min, Max int
}

// Year is the single-year range [y, y].
func Year(y int) YearRange {
	return YearRange{Min: y, Max: y}
}

func (yr YearRange) validate() error {
	if yr.Min <= 0 || yr.Max <= 0 || yr.Min > yr.Max {
		return &InvalidYearRangeError{Min: yr.Min, Max: yr.Max}
	}
	return nil
}

// DownloadOptions selects what to download from a tile. The zero value
// downloads the default variable subset for the tile's full extent and time
// span.
type DownloadOptions struct {
	// Bounds crops the result, then pads it so the spatial extent matches
	// the box exactly even beyond the tile's native extent. Pad cells are
	// NaN.
	Bounds *Bounds
	// Years restricts the time axis.
	Years *YearRange
	// Variables overrides VariablesDefault.
	Variables []string
}

// DownloadTile fetches one tile's data into memory. The reference system
// tag comes from the store's own projection attribute, not from any region
// expectation.
func (c *Client) DownloadTile(ctx context.Context, ref TileRef, opts DownloadOptions) (*Dataset, error) {
	log := logger.FromContext(ctx, &c.log)
	loc, err := ref.resolve(log)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithTile(ctx, loc)
	log = logger.FromContext(ctx, &c.log)

	if opts.Years != nil {
		if err := opts.Years.validate(); err != nil {
			return nil, err
		}
	}
	vars := opts.Variables
	if len(vars) == 0 {
		vars = VariablesDefault()
	} else {
		for _, name := range vars {
			if !knownVariable(name) {
				return nil, fmt.Errorf("unknown variable %q: see VariablesAll", name)
			}
		}
	}

	ds, err := c.downloadTile(ctx, log, loc, opts, vars)
	observability.IncTileDownload(err)
	if err != nil {
		return nil, &TileFetchError{Location: loc, Err: err}
	}
	log.Debug().Int("variables", len(vars)).Int("time_steps", len(ds.Time)).Msg("tile downloaded")
	return ds, nil
}

func (c *Client) downloadTile(ctx context.Context, log *zerolog.Logger, loc string, opts DownloadOptions, vars []string) (*Dataset, error) {
	bucket, prefix, err := c.openBucket(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer func() { _ = bucket.Close() }()

	zopts := []zarr.Option{zarr.WithLogger(*log), zarr.WithCacheNamespace(loc)}
	if c.chunks != nil {
		zopts = append(zopts, zarr.WithChunkCache(c.chunks))
	}
	store, err := zarr.NewStore(ctx, bucket, prefix, zopts...)
	if err != nil {
		return nil, err
	}

	attrs := store.Attrs()
	epsg, err := epsgFromAttrs(attrs)
	if err != nil {
		return nil, err
	}

	times, tSel, err := timeAxis(ctx, store, opts.Years)
	if err != nil {
		return nil, err
	}

	xs, err := coordAxis(ctx, store, "x")
	if err != nil {
		return nil, err
	}
	ys, err := coordAxis(ctx, store, "y")
	if err != nil {
		return nil, err
	}

	xSel := zarr.Range{Start: 0, Stop: len(xs)}
	ySel := zarr.Range{Start: 0, Stop: len(ys)}
	xOut, yOut := xs, ys
	xOff, yOff := 0, 0
	if opts.Bounds != nil {
		b := *opts.Bounds
		xSel, xOut, xOff, err = clipPadAxis(xs, b.XMin, b.XMax)
		if err != nil {
			return nil, fmt.Errorf("x axis: %w", err)
		}
		ySel, yOut, yOff, err = clipPadAxis(ys, b.YMin, b.YMax)
		if err != nil {
			return nil, fmt.Errorf("y axis: %w", err)
		}
	}

	ds := &Dataset{
		Vars:  make(map[string]*Variable, len(vars)),
		Time:  times,
		Y:     yOut,
		X:     xOut,
		Attrs: attrs,
		EPSG:  epsg,
	}

	nt := tSel.Stop - tSel.Start
	for _, name := range vars {
		a, err := store.Array(ctx, name)
		if err != nil {
			return nil, err
		}
		switch a.Rank() {
		case 0:
			v, err := a.ReadScalar(ctx)
			if err != nil {
				return nil, err
			}
			ds.Vars[name] = &Variable{Data: []float64{v}, Attrs: a.Attrs}
		case 3:
			slab, err := a.Read(ctx, []zarr.Range{tSel, ySel, xSel})
			if err != nil {
				return nil, err
			}
			ds.Vars[name] = embed(slab, a, nt, yOut, xOut, yOff, xOff)
		default:
			return nil, fmt.Errorf("variable %q: rank %d not supported", name, a.Rank())
		}
	}
	return ds, nil
}

// embed places a clipped slab into the padded (time, y, x) grid.
func embed(slab *zarr.Slab, a *zarr.Array, nt int, yOut, xOut []float64, yOff, xOff int) *Variable {
	ny, nx := len(yOut), len(xOut)
	dims := a.Dims
	if len(dims) != 3 {
		dims = []string{"time", "y", "x"}
	}
	v := &Variable{
		Dims:  dims,
		Shape: []int{nt, ny, nx},
		Data:  make([]float64, nt*ny*nx),
		Attrs: a.Attrs,
	}
	for i := range v.Data {
		v.Data[i] = math.NaN()
	}
	sy, sx := slab.Shape[1], slab.Shape[2]
	for t := 0; t < nt; t++ {
		for y := 0; y < sy; y++ {
			src := (t*sy + y) * sx
			dst := (t*ny+y+yOff)*nx + xOff
			copy(v.Data[dst:dst+sx], slab.Data[src:src+sx])
		}
	}
	return v
}

func coordAxis(ctx context.Context, store *zarr.Store, name string) ([]float64, error) {
	a, err := store.Array(ctx, name)
	if err != nil {
		return nil, err
	}
	if a.Rank() != 1 {
		return nil, fmt.Errorf("coordinate %q: rank %d, want 1", name, a.Rank())
	}
	slab, err := a.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return slab.Data, nil
}

// timeAxis reads and decodes the time coordinate, restricted to the year
// range when one is given.
func timeAxis(ctx context.Context, store *zarr.Store, years *YearRange) ([]time.Time, zarr.Range, error) {
	a, err := store.Array(ctx, "time")
	if err != nil {
		return nil, zarr.Range{}, err
	}
	slab, err := a.ReadAll(ctx)
	if err != nil {
		return nil, zarr.Range{}, err
	}
	units, _ := a.Attrs[zarr.UnitsAttr].(string)
	if units == "" {
		return nil, zarr.Range{}, fmt.Errorf("time array has no %q attribute", zarr.UnitsAttr)
	}
	all, err := zarr.DecodeTimes(units, slab.Data)
	if err != nil {
		return nil, zarr.Range{}, err
	}

	if years == nil {
		return all, zarr.Range{Start: 0, Stop: len(all)}, nil
	}
	first, last := -1, -1
	for i, t := range all {
		y := t.Year()
		if y >= years.Min && y <= years.Max {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil, zarr.Range{}, nil
	}
	return all[first : last+1], zarr.Range{Start: first, Stop: last + 1}, nil
}

// clipPadAxis restricts a coordinate axis to [lo, hi], then extends it on
// the native grid spacing until the axis covers the interval. The returned
// offset is where the clipped source data lands inside the padded axis.
func clipPadAxis(coords []float64, lo, hi float64) (zarr.Range, []float64, int, error) {
	n := len(coords)
	if n == 0 {
		return zarr.Range{}, nil, 0, fmt.Errorf("empty coordinate axis")
	}
	desc := n >= 2 && coords[1] < coords[0]

	inside := func(v float64) bool { return v >= lo && v <= hi }
	first, last := -1, -1
	for i, v := range coords {
		if inside(v) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return zarr.Range{}, nil, 0, fmt.Errorf("bounds [%g, %g] do not intersect axis extent [%g, %g]",
			lo, hi, coords[0], coords[n-1])
	}
	sel := zarr.Range{Start: first, Stop: last + 1}
	clipped := coords[first : last+1]

	if n < 2 {
		return sel, clipped, 0, nil
	}
	step := math.Abs(coords[1] - coords[0])
	if step == 0 {
		return sel, clipped, 0, nil
	}
	eps := step * 1e-6

	// Pad count toward each interval end, on the native spacing.
	headroom := clipped[0] - lo
	tailroom := hi - clipped[len(clipped)-1]
	if desc {
		headroom = hi - clipped[0]
		tailroom = clipped[len(clipped)-1] - lo
	}
	padHead := int((headroom + eps) / step)
	padTail := int((tailroom + eps) / step)

	dir := step
	if desc {
		dir = -step
	}
	out := make([]float64, 0, padHead+len(clipped)+padTail)
	for i := padHead; i > 0; i-- {
		out = append(out, clipped[0]-float64(i)*dir)
	}
	out = append(out, clipped...)
	for i := 1; i <= padTail; i++ {
		out = append(out, clipped[len(clipped)-1]+float64(i)*dir)
	}
	return sel, out, padHead, nil
}

func epsgFromAttrs(attrs map[string]any) (int, error) {
	v, ok := attrs["projection"]
	if !ok {
		return 0, fmt.Errorf("store has no projection attribute")
	}
	switch p := v.(type) {
	case string:
		code, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(p), "EPSG:"))
		if err != nil {
			return 0, fmt.Errorf("projection attribute %q is not an EPSG code", p)
		}
		return code, nil
	case float64:
		return int(p), nil
	default:
		return 0, fmt.Errorf("projection attribute has unsupported type %T", v)
	}
}

const defaultS3Region = "us-west-2"

// openS3Bucket is the default BucketOpener: anonymous access to the
// archive's S3 buckets, accepting both s3:// and the virtual-hosted HTTP
// URLs the manifests carry.
func openS3Bucket(ctx context.Context, location string) (*blob.Bucket, string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, "", fmt.Errorf("parse storage location: %w", err)
	}

	var bucketName, region string
	switch u.Scheme {
	case "s3":
		bucketName = u.Host
	case "http", "https":
		host := u.Hostname()
		i := strings.Index(host, ".s3")
		if i <= 0 {
			return nil, "", fmt.Errorf("cannot derive bucket name from host %q", host)
		}
		bucketName = host[:i]
		rest := strings.TrimLeft(host[i+len(".s3"):], ".-")
		if j := strings.Index(rest, ".amazonaws.com"); j > 0 {
			region = rest[:j]
		}
	default:
		return nil, "", fmt.Errorf("unsupported storage location scheme %q", u.Scheme)
	}
	if region == "" {
		region = defaultS3Region
	}

	cfg := aws.Config{Region: region, Credentials: aws.AnonymousCredentials{}}
	bucket, err := s3blob.OpenBucketV2(ctx, s3v2.NewFromConfig(cfg), bucketName, nil)
	if err != nil {
		return nil, "", fmt.Errorf("open bucket %q: %w", bucketName, err)
	}
	return bucket, strings.TrimPrefix(u.Path, "/"), nil
}
