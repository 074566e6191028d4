package geocache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/madscience/crmkit/internal/geo"
	"github.com/madscience/crmkit/internal/roster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreMissingFile(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "nope.csv"))
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())

	// Flushing an empty cache must not create the file.
	require.NoError(t, s.Flush(context.Background()))
	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestFileStorePersistsHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "geocode_cache.csv")

	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, Hit("1 Main St, Halifax, Nova Scotia, Canada", geo.Point{Lat: 44.6488, Lon: -63.5752})))
	require.NoError(t, s.Put(ctx, Miss("Nowhere, Nova Scotia, Canada")))
	require.NoError(t, s.Flush(ctx))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"address,lat,lon\n"+
			"\"1 Main St, Halifax, Nova Scotia, Canada\",44.6488,-63.5752\n"+
			"\"Nowhere, Nova Scotia, Canada\",,\n",
		string(raw))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	e, ok, err := reopened.Get(ctx, "Nowhere, Nova Scotia, Canada")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, e.Found())

	e, ok, _ = reopened.Get(ctx, "1 Main St, Halifax, Nova Scotia, Canada")
	require.True(t, ok)
	assert.Equal(t, geo.Point{Lat: 44.6488, Lon: -63.5752}, e.Point())
}

func TestFileStoreRejectsMissingAddressColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("where,lat,lon\nx,1,2\n"), 0o644))

	_, err := OpenFile(path)
	assert.ErrorContains(t, err, "missing address column")
}

func TestFileStoreToleratesGarbageCoordinates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.csv")
	require.NoError(t, os.WriteFile(path, []byte("address,lat,lon\nA,nan,nan\nB,91,0\nC,45,-63\n"), 0o644))

	s, err := OpenFile(path)
	require.NoError(t, err)
	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.False(t, entries[0].Found())
	assert.False(t, entries[1].Found())
	assert.True(t, entries[2].Found())
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "geocode_cache.csv")
	store, err := OpenFile(path)
	require.NoError(t, err)

	kept := geo.NormalizeAddress("2 Elm St, Dartmouth")
	failed := geo.NormalizeAddress("3 Oak Ave, Wolfville")
	require.NoError(t, store.Put(ctx, Hit(kept, geo.Point{Lat: 1, Lon: 1})))
	require.NoError(t, store.Put(ctx, Miss(failed)))

	tbl, err := roster.ReadCSV(strings.NewReader(
		"School,Address,Latitude,Longitude\n" +
			"Alpha,\"1 Main St, Halifax\",44.6,-63.5\n" +
			"Alpha again,\"1 Main St, Halifax\",0,0\n" +
			"Beta,\"2 Elm St, Dartmouth\",44.7,-63.6\n" +
			"Gamma,\"3 Oak Ave, Wolfville\",45.1,-64.3\n" +
			"Delta,\"4 Pine Rd, Truro\",,\n" +
			"Epsilon,,45,-63\n"))
	require.NoError(t, err)

	res, err := Seed(ctx, store, tbl)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Added: 2, Kept: 1, Ignored: 2}, res)

	e, _, _ := store.Get(ctx, geo.NormalizeAddress("1 Main St, Halifax"))
	assert.Equal(t, geo.Point{Lat: 44.6, Lon: -63.5}, e.Point(), "first row wins")

	e, _, _ = store.Get(ctx, kept)
	assert.Equal(t, geo.Point{Lat: 1, Lon: 1}, e.Point(), "existing coordinates win")

	e, _, _ = store.Get(ctx, failed)
	assert.True(t, e.Found(), "failures are replaced")

	_, err = os.Stat(path)
	assert.NoError(t, err, "seed flushes the cache")
}

func TestSeedErrors(t *testing.T) {
	ctx := context.Background()
	store, err := OpenFile(filepath.Join(t.TempDir(), "c.csv"))
	require.NoError(t, err)

	noCols, err := roster.ReadCSV(strings.NewReader("School,Address\nA,1 Main St\n"))
	require.NoError(t, err)
	_, err = Seed(ctx, store, noCols)
	assert.ErrorIs(t, err, ErrNoCoordinateColumns)

	noValid, err := roster.ReadCSV(strings.NewReader("School,Address,lat,lon\nA,1 Main St,,\n"))
	require.NoError(t, err)
	_, err = Seed(ctx, store, noValid)
	assert.ErrorIs(t, err, ErrNothingToSeed)
}
