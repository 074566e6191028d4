package mapgen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/madscience/crmkit/internal/geo"
	"github.com/madscience/crmkit/internal/geocache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGeocoder answers queries containing a known street; everything else
// is not found.
type fakeGeocoder struct {
	mu      sync.Mutex
	known   map[string]geo.Point
	failing map[string]bool
	queries []string
}

func (f *fakeGeocoder) Geocode(_ context.Context, q string) (geo.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	for street, p := range f.known {
		if strings.Contains(q, street) {
			return p, nil
		}
	}
	for street := range f.failing {
		if strings.Contains(q, street) {
			return geo.Point{}, errors.New("connection reset")
		}
	}
	return geo.Point{}, geo.ErrNotFound
}

func (f *fakeGeocoder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func writeInput(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "schools.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func baseOptions(dir, input string) Options {
	return Options{
		Input:      input,
		Output:     filepath.Join(dir, "out", "map.html"),
		AddressCol: "Address",
		SchoolCol:  "School",
	}
}

func newBuilder(g geo.Geocoder, cache geocache.Store) *Builder {
	return NewBuilder(g, cache, zerolog.Nop()).
		WithResolveOptions(geo.ResolveOptions{Retries: 2})
}

func TestRunPlacesRowsAndWritesOutputs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := writeInput(t, dir,
		"School,Address,Board,Status,lat,lon\n"+
			"Citadel High,\"1855 Trollope St, Halifax, NS\",HRCE,current,,\n"+
			"Preset School,\"9 Preset Rd, Truro\",CCRCE,recent,45.36,-63.28\n"+
			"Lost School,\"1 Nowhere Ln, Nowhere\",SRCE,,,\n")

	cache, err := geocache.OpenFile(filepath.Join(dir, "geocode_cache.csv"))
	require.NoError(t, err)
	g := &fakeGeocoder{known: map[string]geo.Point{"Trollope": {Lat: 44.64, Lon: -63.58}}}

	res, err := newBuilder(g, cache).Run(ctx, baseOptions(dir, input))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Mapped)
	assert.Equal(t, 2, res.Geocoded)
	assert.Equal(t, 1, res.Failed)

	html, err := os.ReadFile(res.MapPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), `"School":"Citadel High"`)
	assert.Contains(t, string(html), `"Group":"CCRCE"`)
	assert.NotContains(t, string(html), "Lost School")

	failures, err := os.ReadFile(res.FailuresPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "map.failed_geocodes.csv"), res.FailuresPath)
	assert.Contains(t, string(failures), "School,Address,Normalized\n")
	assert.Contains(t, string(failures), "Lost School")

	snapshot, err := os.ReadFile(res.SnapshotPath)
	require.NoError(t, err)
	assert.Contains(t, string(snapshot), "Citadel High,\"1855 Trollope St, Halifax, NS\",HRCE,current,44.64,-63.58")
	assert.Contains(t, string(snapshot), "Lost School,\"1 Nowhere Ln, Nowhere\",SRCE,none,,")

	// The preset row and both geocode results are remembered.
	reopened, err := geocache.OpenFile(cache.Path())
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Len())
}

func TestRunUsesCacheOnSecondPass(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := writeInput(t, dir,
		"School,Address\n"+
			"Citadel High,\"1855 Trollope St, Halifax\"\n"+
			"Lost School,\"1 Nowhere Ln\"\n")
	cachePath := filepath.Join(dir, "geocode_cache.csv")
	g := &fakeGeocoder{known: map[string]geo.Point{"Trollope": {Lat: 44.64, Lon: -63.58}}}

	cache, err := geocache.OpenFile(cachePath)
	require.NoError(t, err)
	_, err = newBuilder(g, cache).Run(ctx, baseOptions(dir, input))
	require.NoError(t, err)
	first := g.calls()
	require.Positive(t, first)

	cache, err = geocache.OpenFile(cachePath)
	require.NoError(t, err)
	res, err := newBuilder(g, cache).Run(ctx, baseOptions(dir, input))
	require.NoError(t, err)
	assert.Equal(t, first, g.calls(), "cached hits and misses skip the geocoder")
	assert.Equal(t, 0, res.Geocoded)
	assert.Equal(t, 1, res.Failed)

	opts := baseOptions(dir, input)
	opts.RegeocodeFailed = true
	res, err = newBuilder(g, cache).Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Geocoded, "only the cached failure is retried")
	assert.Greater(t, g.calls(), first)
}

func TestRunDoesNotCacheTransportFailures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := writeInput(t, dir, "School,Address\nFlaky,\"5 Flaky St, Halifax\"\n")

	cache, err := geocache.OpenFile(filepath.Join(dir, "c.csv"))
	require.NoError(t, err)
	g := &fakeGeocoder{failing: map[string]bool{"Flaky": true}}

	res, err := newBuilder(g, cache).Run(ctx, baseOptions(dir, input))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	_, ok, err := cache.Get(ctx, geo.NormalizeAddress("5 Flaky St, Halifax"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunWithoutCache(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "School,Address\nA,\"1 Trollope St\"\nB,\"2 Trollope St\"\nC,\"3 Trollope St\"\n")
	g := &fakeGeocoder{known: map[string]geo.Point{"Trollope": {Lat: 44.64, Lon: -63.58}}}

	opts := baseOptions(dir, input)
	opts.Max = 2
	res, err := newBuilder(g, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 2, res.Mapped)
	assert.Empty(t, res.FailuresPath)
}

func TestRunMaxLimitsRows(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "School,Address\nA,\"1 Trollope St\"\nB,\"2 Trollope St\"\nC,\"3 Trollope St\"\n")

	tests := []struct {
		name     string
		max      int
		wantRows int
	}{
		{name: "limited", max: 1, wantRows: 1},
		{name: "zero means all", max: 0, wantRows: 3},
		{name: "above row count", max: 10, wantRows: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &fakeGeocoder{known: map[string]geo.Point{"Trollope": {Lat: 44.64, Lon: -63.58}}}
			opts := baseOptions(dir, input)
			opts.Max = tt.max

			res, err := newBuilder(g, nil).Run(context.Background(), opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, res.Rows)
			assert.Equal(t, tt.wantRows, res.Mapped)
			assert.Equal(t, tt.wantRows, g.calls())

			snapshot, err := os.ReadFile(res.SnapshotPath)
			require.NoError(t, err)
			lines := strings.Split(strings.TrimRight(string(snapshot), "\n"), "\n")
			assert.Len(t, lines, tt.wantRows+1, "header plus processed rows")
		})
	}
}

// stoppingGeocoder places every query until it sees stopAt, where it runs
// onStop and reports the cancelled context.
type stoppingGeocoder struct {
	fakeGeocoder
	stopAt string
	onStop func()
}

func (s *stoppingGeocoder) Geocode(ctx context.Context, q string) (geo.Point, error) {
	if strings.Contains(q, s.stopAt) {
		s.onStop()
		return geo.Point{}, ctx.Err()
	}
	return s.fakeGeocoder.Geocode(ctx, q)
}

func TestRunFlushesCachePeriodicallyAndOnCancel(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "School,Address\n"+
		"A,\"1 Trollope St\"\nB,\"2 Trollope St\"\nC,\"3 Trollope St\"\nD,\"4 Stop St\"\nE,\"5 Trollope St\"\n")
	cachePath := filepath.Join(dir, "geocode_cache.csv")
	cache, err := geocache.OpenFile(cachePath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	onDisk := -1
	g := &stoppingGeocoder{
		fakeGeocoder: fakeGeocoder{known: map[string]geo.Point{"Trollope": {Lat: 44.64, Lon: -63.58}}},
		stopAt:       "Stop St",
		onStop: func() {
			if onDisk < 0 {
				saved, err := geocache.OpenFile(cachePath)
				require.NoError(t, err)
				onDisk = saved.Len()
			}
			cancel()
		},
	}

	b := newBuilder(g, cache)
	b.flushEvery = 2
	_, err = b.Run(ctx, baseOptions(dir, input))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 2, onDisk, "first two lookups saved before the third is flushed")

	reopened, err := geocache.OpenFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Len(), "pending lookups saved when interrupted")
	_, ok, err := reopened.Get(context.Background(), geo.NormalizeAddress("5 Trollope St"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunRequiresColumns(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "Name,Where\nA,B\n")

	_, err := newBuilder(&fakeGeocoder{}, nil).Run(context.Background(), baseOptions(dir, input))
	assert.ErrorContains(t, err, `required column "Address" not found`)

	_, err = newBuilder(&fakeGeocoder{}, nil).Run(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "School,Address\nA,\"1 Main St\"\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newBuilder(&fakeGeocoder{}, nil).Run(ctx, baseOptions(dir, input))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutputPaths(t *testing.T) {
	failures, snapshot := OutputPaths("maps/ns.html")
	assert.Equal(t, "maps/ns.failed_geocodes.csv", failures)
	assert.Equal(t, "maps/ns.csv", snapshot)
}
