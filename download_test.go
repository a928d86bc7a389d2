package itslive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/cryoscope/itslive/internal/logger"
	"github.com/cryoscope/itslive/internal/zarr/zarrtest"
)

// velocityStore is a 2-step, 3x3 tile: y descending 250..50, x ascending
// 50..250, 100 m spacing, one gridded variable per name plus the scalar CRS
// container.
func velocityStore(gridVars ...string) zarrtest.Store {
	st := zarrtest.Store{
		Attrs: map[string]any{
			"projection": "3413",
			"title":      "annual velocity mosaic",
		},
		Arrays: map[string]zarrtest.Array{
			"time": {
				Dims: []string{"time"}, Shape: []int{2}, Chunks: []int{2}, DType: "<f8",
				Data:  []float64{0, 366},
				Attrs: map[string]any{"units": "days since 2015-07-01"},
			},
			"y": {
				Dims: []string{"y"}, Shape: []int{3}, Chunks: []int{3}, DType: "<f8",
				Data: []float64{250, 150, 50},
			},
			"x": {
				Dims: []string{"x"}, Shape: []int{3}, Chunks: []int{3}, DType: "<f8",
				Data: []float64{50, 150, 250},
			},
			"mapping": {
				Shape: []int{}, Chunks: []int{}, DType: "<i4",
				Data: []float64{0}, FillValue: 0,
				Attrs: map[string]any{"spatial_epsg": float64(3413)},
			},
		},
	}
	for i, name := range gridVars {
		data := make([]float64, 18)
		for j := range data {
			data[j] = float64(100*i + j)
		}
		st.Arrays[name] = zarrtest.Array{
			Dims: []string{"time", "y", "x"}, Shape: []int{2, 3, 3}, Chunks: []int{1, 2, 2},
			DType: "<f4", Data: data,
		}
	}
	return st
}

// fixtureOpener maps locations to in-memory stores, writing each store
// fresh per open so the per-download bucket close stays harmless.
func fixtureOpener(stores map[string]zarrtest.Store) BucketOpener {
	return func(ctx context.Context, loc string) (*blob.Bucket, string, error) {
		st, ok := stores[loc]
		if !ok {
			return nil, "", fmt.Errorf("no store at %q", loc)
		}
		b := memblob.OpenBucket(nil)
		if err := st.Write(ctx, b, "tile.zarr"); err != nil {
			return nil, "", err
		}
		return b, "tile.zarr", nil
	}
}

func tileClient(stores map[string]zarrtest.Store) *Client {
	return New(WithBucketOpener(fixtureOpener(stores)), WithChunkCache(nil))
}

func TestDownloadTile(t *testing.T) {
	c := tileClient(map[string]zarrtest.Store{"mem://tile": velocityStore("v")})

	ds, err := c.DownloadTile(context.Background(), LocationRef("mem://tile"),
		DownloadOptions{Variables: []string{"v", "mapping"}})
	if err != nil {
		t.Fatalf("DownloadTile: %v", err)
	}

	if ds.EPSG != 3413 {
		t.Fatalf("EPSG = %d, want 3413", ds.EPSG)
	}
	if ds.Attrs["title"] != "annual velocity mosaic" {
		t.Fatalf("attrs = %v", ds.Attrs)
	}
	if len(ds.Time) != 2 || ds.Time[0].Year() != 2015 || ds.Time[1].Year() != 2016 {
		t.Fatalf("time axis = %v", ds.Time)
	}
	if !reflect.DeepEqual(ds.Y, []float64{250, 150, 50}) || !reflect.DeepEqual(ds.X, []float64{50, 150, 250}) {
		t.Fatalf("axes y=%v x=%v", ds.Y, ds.X)
	}

	v, err := ds.Var("v")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v.Shape, []int{2, 3, 3}) {
		t.Fatalf("v shape = %v", v.Shape)
	}
	if v.At(0, 0, 0) != 0 || v.At(1, 2, 2) != 17 {
		t.Fatalf("v corners = %g, %g", v.At(0, 0, 0), v.At(1, 2, 2))
	}

	m, err := ds.Var("mapping")
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsScalar() || m.Data[0] != 0 {
		t.Fatalf("mapping = %+v", m)
	}
	if m.Attrs["spatial_epsg"] != float64(3413) {
		t.Fatalf("mapping attrs = %v", m.Attrs)
	}
}

func TestDownloadTileDefaultVariables(t *testing.T) {
	st := velocityStore("v", "v_error", "vx", "vx_error", "vy", "vy_error")
	c := tileClient(map[string]zarrtest.Store{"mem://tile": st})

	ds, err := c.DownloadTile(context.Background(), LocationRef("mem://tile"), DownloadOptions{})
	if err != nil {
		t.Fatalf("DownloadTile: %v", err)
	}
	if got := ds.VarNames(); !reflect.DeepEqual(got, VariablesDefault()) {
		t.Fatalf("variables = %v, want the default set", got)
	}
}

func TestDownloadTileYearFilter(t *testing.T) {
	stores := map[string]zarrtest.Store{"mem://tile": velocityStore("v")}
	c := tileClient(stores)
	ctx := context.Background()

	yr := Year(2016)
	ds, err := c.DownloadTile(ctx, LocationRef("mem://tile"),
		DownloadOptions{Years: &yr, Variables: []string{"v"}})
	if err != nil {
		t.Fatalf("DownloadTile: %v", err)
	}
	if len(ds.Time) != 1 || ds.Time[0].Year() != 2016 {
		t.Fatalf("time axis = %v", ds.Time)
	}
	v, _ := ds.Var("v")
	if !reflect.DeepEqual(v.Shape, []int{1, 3, 3}) || v.At(0, 0, 0) != 9 {
		t.Fatalf("v = shape %v, first %g", v.Shape, v.At(0, 0, 0))
	}

	// Year(y) and the explicit single-year range behave identically.
	single := YearRange{Min: 2016, Max: 2016}
	ds2, err := c.DownloadTile(ctx, LocationRef("mem://tile"),
		DownloadOptions{Years: &single, Variables: []string{"v"}})
	if err != nil {
		t.Fatalf("DownloadTile: %v", err)
	}
	if !reflect.DeepEqual(ds.Vars["v"], ds2.Vars["v"]) || !reflect.DeepEqual(ds.Time, ds2.Time) {
		t.Fatal("Year(y) differs from the equivalent YearRange")
	}
}

func TestDownloadTileYearFilterNoMatch(t *testing.T) {
	c := tileClient(map[string]zarrtest.Store{"mem://tile": velocityStore("v")})

	yr := Year(2030)
	ds, err := c.DownloadTile(context.Background(), LocationRef("mem://tile"),
		DownloadOptions{Years: &yr, Variables: []string{"v"}})
	if err != nil {
		t.Fatalf("DownloadTile: %v", err)
	}
	if len(ds.Time) != 0 {
		t.Fatalf("time axis = %v, want empty", ds.Time)
	}
	if v, _ := ds.Var("v"); v.Shape[0] != 0 {
		t.Fatalf("v shape = %v", v.Shape)
	}
}

func TestDownloadTileCrop(t *testing.T) {
	c := tileClient(map[string]zarrtest.Store{"mem://tile": velocityStore("v")})

	ds, err := c.DownloadTile(context.Background(), LocationRef("mem://tile"), DownloadOptions{
		Bounds:    &Bounds{XMin: 140, YMin: 40, XMax: 260, YMax: 160},
		Variables: []string{"v"},
	})
	if err != nil {
		t.Fatalf("DownloadTile: %v", err)
	}
	if !reflect.DeepEqual(ds.X, []float64{150, 250}) || !reflect.DeepEqual(ds.Y, []float64{150, 50}) {
		t.Fatalf("axes y=%v x=%v", ds.Y, ds.X)
	}

	v, _ := ds.Var("v")
	if !reflect.DeepEqual(v.Shape, []int{2, 2, 2}) {
		t.Fatalf("v shape = %v", v.Shape)
	}
	// Source grid values at (t0, y=150, x=150) and (t0, y=50, x=250).
	if v.At(0, 0, 0) != 4 || v.At(0, 1, 1) != 8 {
		t.Fatalf("cropped values = %g, %g", v.At(0, 0, 0), v.At(0, 1, 1))
	}
}

func TestDownloadTilePad(t *testing.T) {
	c := tileClient(map[string]zarrtest.Store{"mem://tile": velocityStore("v")})

	ds, err := c.DownloadTile(context.Background(), LocationRef("mem://tile"), DownloadOptions{
		Bounds:    &Bounds{XMin: -160, YMin: 40, XMax: 460, YMax: 260},
		Variables: []string{"v"},
	})
	if err != nil {
		t.Fatalf("DownloadTile: %v", err)
	}

	wantX := []float64{-150, -50, 50, 150, 250, 350, 450}
	if !reflect.DeepEqual(ds.X, wantX) {
		t.Fatalf("x = %v, want %v", ds.X, wantX)
	}
	if !reflect.DeepEqual(ds.Y, []float64{250, 150, 50}) {
		t.Fatalf("y = %v", ds.Y)
	}

	v, _ := ds.Var("v")
	if !reflect.DeepEqual(v.Shape, []int{2, 3, 7}) {
		t.Fatalf("v shape = %v", v.Shape)
	}
	if !math.IsNaN(v.At(0, 0, 0)) || !math.IsNaN(v.At(1, 2, 6)) {
		t.Fatal("pad cells are not NaN")
	}
	if v.At(0, 0, 2) != 0 || v.At(1, 2, 4) != 17 {
		t.Fatalf("embedded values = %g, %g", v.At(0, 0, 2), v.At(1, 2, 4))
	}
}

func TestDownloadTileDisjointBounds(t *testing.T) {
	c := tileClient(map[string]zarrtest.Store{"mem://tile": velocityStore("v")})

	_, err := c.DownloadTile(context.Background(), LocationRef("mem://tile"), DownloadOptions{
		Bounds:    &Bounds{XMin: 10000, YMin: 10000, XMax: 20000, YMax: 20000},
		Variables: []string{"v"},
	})
	var tfe *TileFetchError
	if !errors.As(err, &tfe) {
		t.Fatalf("error = %v, want TileFetchError", err)
	}
	if tfe.Location != "mem://tile" {
		t.Fatalf("error location = %q", tfe.Location)
	}
}

func TestDownloadTileInvalidYears(t *testing.T) {
	c := tileClient(map[string]zarrtest.Store{"mem://tile": velocityStore("v")})
	ctx := context.Background()

	for _, yr := range []YearRange{{Min: 2016, Max: 2015}, {Min: 0, Max: 2015}, Year(-3)} {
		yr := yr
		_, err := c.DownloadTile(ctx, LocationRef("mem://tile"),
			DownloadOptions{Years: &yr, Variables: []string{"v"}})
		var iye *InvalidYearRangeError
		if !errors.As(err, &iye) {
			t.Fatalf("YearRange %+v: error = %v, want InvalidYearRangeError", yr, err)
		}
	}
}

func TestDownloadTileUnknownVariable(t *testing.T) {
	c := tileClient(map[string]zarrtest.Store{"mem://tile": velocityStore("v")})

	_, err := c.DownloadTile(context.Background(), LocationRef("mem://tile"),
		DownloadOptions{Variables: []string{"velocity"}})
	if err == nil || !strings.Contains(err.Error(), "unknown variable") {
		t.Fatalf("error = %v, want unknown variable", err)
	}
}

func TestDownloadTileInvalidRef(t *testing.T) {
	c := tileClient(nil)

	_, err := c.DownloadTile(context.Background(), TileRef{}, DownloadOptions{})
	var itr *InvalidTileReferenceError
	if !errors.As(err, &itr) {
		t.Fatalf("error = %v, want InvalidTileReferenceError", err)
	}

	// An empty catalog cannot be resolved either.
	_, err = c.DownloadTile(context.Background(), FirstOf(testCatalog(t, nil)), DownloadOptions{})
	if !errors.As(err, &itr) {
		t.Fatalf("error = %v, want InvalidTileReferenceError", err)
	}
}

func TestDownloadTileFirstOfMultiTile(t *testing.T) {
	cat := testCatalog(t, [][2]int{{50000, 50000}, {150000, 50000}})
	stores := map[string]zarrtest.Store{cat.Locations()[0]: velocityStore("v")}

	var buf bytes.Buffer
	log := logger.Build(logger.Config{Level: "warn", Component: "itslive"}, &buf)
	c := New(WithLogger(log), WithBucketOpener(fixtureOpener(stores)), WithChunkCache(nil))

	ds, err := c.DownloadTile(context.Background(), FirstOf(cat),
		DownloadOptions{Variables: []string{"v"}})
	if err != nil {
		t.Fatalf("DownloadTile: %v", err)
	}
	if len(ds.Time) != 2 {
		t.Fatalf("first tile not downloaded: %+v", ds)
	}
	if !strings.Contains(buf.String(), "more than one tile") {
		t.Fatalf("no fallback warning logged: %s", buf.String())
	}
}

func TestDownloadTileOpenFailure(t *testing.T) {
	c := tileClient(map[string]zarrtest.Store{})

	_, err := c.DownloadTile(context.Background(), LocationRef("mem://missing"), DownloadOptions{})
	var tfe *TileFetchError
	if !errors.As(err, &tfe) {
		t.Fatalf("error = %v, want TileFetchError", err)
	}
}

func TestDownloadTiles(t *testing.T) {
	cat := testCatalog(t, [][2]int{{50000, 50000}, {150000, 50000}, {250000, 50000}})

	stores := map[string]zarrtest.Store{}
	for i, loc := range cat.Locations() {
		st := velocityStore()
		data := make([]float64, 18)
		for j := range data {
			data[j] = float64(1000*i + j)
		}
		st.Arrays["v"] = zarrtest.Array{
			Dims: []string{"time", "y", "x"}, Shape: []int{2, 3, 3}, Chunks: []int{1, 2, 2},
			DType: "<f4", Data: data,
		}
		stores[loc] = st
	}

	c := New(WithBucketOpener(fixtureOpener(stores)), WithChunkCache(nil), WithFetchWorkers(2))
	dss, err := c.DownloadTiles(context.Background(), cat, DownloadOptions{Variables: []string{"v"}})
	if err != nil {
		t.Fatalf("DownloadTiles: %v", err)
	}
	if len(dss) != 3 {
		t.Fatalf("got %d datasets, want 3", len(dss))
	}
	for i, ds := range dss {
		v, err := ds.Var("v")
		if err != nil {
			t.Fatalf("dataset %d: %v", i, err)
		}
		if v.At(0, 0, 0) != float64(1000*i) {
			t.Fatalf("dataset %d out of catalog order: first value %g", i, v.At(0, 0, 0))
		}
	}
}

func TestDownloadTilesFirstError(t *testing.T) {
	cat := testCatalog(t, [][2]int{{50000, 50000}, {150000, 50000}})
	stores := map[string]zarrtest.Store{cat.Locations()[0]: velocityStore("v")}

	c := New(WithBucketOpener(fixtureOpener(stores)), WithChunkCache(nil), WithFetchWorkers(1))
	dss, err := c.DownloadTiles(context.Background(), cat, DownloadOptions{Variables: []string{"v"}})
	var tfe *TileFetchError
	if !errors.As(err, &tfe) {
		t.Fatalf("error = %v, want TileFetchError", err)
	}
	if dss != nil {
		t.Fatalf("got partial results %v alongside error", dss)
	}
}

func TestDownloadTilesCanceledContext(t *testing.T) {
	cat := testCatalog(t, [][2]int{{50000, 50000}, {150000, 50000}})
	stores := map[string]zarrtest.Store{}
	for _, loc := range cat.Locations() {
		stores[loc] = velocityStore("v")
	}
	c := New(WithBucketOpener(fixtureOpener(stores)), WithChunkCache(nil), WithFetchWorkers(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dss, err := c.DownloadTiles(ctx, cat, DownloadOptions{Variables: []string{"v"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if dss != nil {
		t.Fatalf("got results %v from a canceled context", dss)
	}
}

func TestDownloadTilesEmptyCatalog(t *testing.T) {
	c := tileClient(nil)
	dss, err := c.DownloadTiles(context.Background(), testCatalog(t, nil), DownloadOptions{})
	if err != nil || dss != nil {
		t.Fatalf("empty catalog: %v, %v", dss, err)
	}
}

func TestClipPadAxis(t *testing.T) {
	asc := []float64{50, 150, 250}

	sel, out, off, err := clipPadAxis(asc, 140, 260)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Start != 1 || sel.Stop != 3 || off != 0 || !reflect.DeepEqual(out, []float64{150, 250}) {
		t.Fatalf("clip: sel=%+v out=%v off=%d", sel, out, off)
	}

	sel, out, off, err = clipPadAxis(asc, -160, 460)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Start != 0 || sel.Stop != 3 || off != 2 {
		t.Fatalf("pad: sel=%+v off=%d", sel, off)
	}
	if !reflect.DeepEqual(out, []float64{-150, -50, 50, 150, 250, 350, 450}) {
		t.Fatalf("pad: out=%v", out)
	}

	desc := []float64{250, 150, 50}
	sel, out, off, err = clipPadAxis(desc, -60, 160)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Start != 1 || sel.Stop != 3 || off != 0 {
		t.Fatalf("desc clip: sel=%+v off=%d", sel, off)
	}
	if !reflect.DeepEqual(out, []float64{150, 50, -50}) {
		t.Fatalf("desc pad: out=%v", out)
	}

	if _, _, _, err := clipPadAxis(asc, 1000, 2000); err == nil {
		t.Fatal("disjoint bounds: expected error")
	}
	if _, _, _, err := clipPadAxis(nil, 0, 1); err == nil {
		t.Fatal("empty axis: expected error")
	}
}
