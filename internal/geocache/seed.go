package geocache

import (
	"context"
	"errors"

	"github.com/madscience/crmkit/internal/geo"
	"github.com/madscience/crmkit/internal/roster"
)

var (
	// ErrNoCoordinateColumns means the table has no lat/lon columns.
	ErrNoCoordinateColumns = errors.New("geocache: could not find 'lat' and 'lon' columns")
	// ErrNothingToSeed means no row had both valid coordinates and an address.
	ErrNothingToSeed = errors.New("geocache: no valid lat/lon found to seed cache")
)

// SeedResult summarizes a Seed call.
type SeedResult struct {
	Added   int // new or previously failed addresses now holding coordinates
	Kept    int // addresses whose existing coordinates won over the table
	Ignored int // rows without usable coordinates or address
}

// Seed copies hand-corrected coordinates from an edited map export into the
// cache. Existing coordinates are preferred over the table; within the table
// the first row for an address wins.
func Seed(ctx context.Context, store Store, tbl *roster.Table) (SeedResult, error) {
	var res SeedResult

	latCol, okLat := tbl.Lookup("lat", "latitude")
	lonCol, okLon := tbl.Lookup("lon", "longitude")
	if !okLat || !okLon {
		return res, ErrNoCoordinateColumns
	}
	addrCol, _ := tbl.Lookup(roster.ColAddress)

	seen := make(map[string]bool)
	for _, r := range tbl.Rows {
		p, ok := geo.ParsePoint(r.Get(latCol), r.Get(lonCol))
		addr := geo.NormalizeAddress(r.Get(addrCol))
		if !ok || addr == "" {
			res.Ignored++
			continue
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true

		existing, found, err := store.Get(ctx, addr)
		if err != nil {
			return res, err
		}
		if found && existing.Found() {
			res.Kept++
			continue
		}
		if err := store.Put(ctx, Hit(addr, p)); err != nil {
			return res, err
		}
		res.Added++
	}

	if res.Added+res.Kept == 0 {
		return res, ErrNothingToSeed
	}
	return res, store.Flush(ctx)
}
