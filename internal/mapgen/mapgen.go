// Package mapgen turns a school roster into an editable HTML map, geocoding
// addresses through a cache.
package mapgen

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/madscience/crmkit/internal/geo"
	"github.com/madscience/crmkit/internal/geocache"
	"github.com/madscience/crmkit/internal/maprender"
	"github.com/madscience/crmkit/internal/roster"
	"github.com/rs/zerolog"
)

// DefaultFlushEvery is how many fresh geocodes are buffered before the cache
// is written out.
const DefaultFlushEvery = 25

// ErrNoInput is returned when Options has no input path.
var ErrNoInput = errors.New("mapgen: input path is required")

// Options describes one map build.
type Options struct {
	Input       string
	Output      string
	AddressCol  string
	SchoolCol   string
	DistrictCol string
	// Max limits the number of rows processed; 0 means all.
	Max int
	// RegeocodeFailed retries addresses the cache remembers as failures.
	RegeocodeFailed bool
	Title           string
}

// Result reports what a build produced.
type Result struct {
	MapPath      string
	FailuresPath string // empty when every row was placed
	SnapshotPath string
	Rows         int
	Mapped       int
	Geocoded     int
	Failed       int
}

// Failure is a row that could not be placed on the map.
type Failure struct {
	School     string
	Address    string
	Normalized string
}

// Builder runs map builds. A nil cache disables caching.
type Builder struct {
	geocoder   geo.Geocoder
	cache      geocache.Store
	resolve    geo.ResolveOptions
	flushEvery int
	log        zerolog.Logger
}

// NewBuilder creates a Builder with default retry and flush settings.
func NewBuilder(g geo.Geocoder, cache geocache.Store, log zerolog.Logger) *Builder {
	return &Builder{
		geocoder:   g,
		cache:      cache,
		resolve:    geo.DefaultResolveOptions,
		flushEvery: DefaultFlushEvery,
		log:        log,
	}
}

// WithResolveOptions overrides retry behaviour.
func (b *Builder) WithResolveOptions(o geo.ResolveOptions) *Builder {
	b.resolve = o
	return b
}

// OutputPaths returns the failures and snapshot paths that sit next to the
// map file.
func OutputPaths(output string) (failures, snapshot string) {
	base := strings.TrimSuffix(output, filepath.Ext(output))
	return base + ".failed_geocodes.csv", base + ".csv"
}

// Run loads the roster, places every row and writes the map, the snapshot
// CSV and, when needed, the failures CSV.
func (b *Builder) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Input == "" {
		return nil, ErrNoInput
	}
	tbl, err := roster.Load(opts.Input, roster.LoadOptions{DistrictColumn: opts.DistrictCol})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.Input, err)
	}
	for _, col := range []string{opts.AddressCol, opts.SchoolCol} {
		if !tbl.Has(col) {
			return nil, fmt.Errorf("required column %q not found (have %s)", col, strings.Join(tbl.Headers, ", "))
		}
	}
	tbl.Truncate(opts.Max)

	res := &Result{MapPath: opts.Output, Rows: len(tbl.Rows)}
	points, failures, err := b.place(ctx, tbl, opts, res)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(opts.Output), 0o755); err != nil {
		return nil, err
	}
	failuresPath, snapshotPath := OutputPaths(opts.Output)

	if len(failures) > 0 {
		if err := writeFailures(failuresPath, failures); err != nil {
			return nil, err
		}
		res.FailuresPath = failuresPath
	}

	tbl.ApplyStatus()
	groupCol := tbl.PickGroupColumn()
	if err := writeSnapshot(snapshotPath, tbl); err != nil {
		return nil, err
	}
	res.SnapshotPath = snapshotPath

	records := buildRecords(tbl, points, opts, groupCol)
	res.Mapped = len(records)

	title := opts.Title
	if title == "" {
		title = "Nova Scotia Schools"
	}
	if err := maprender.WriteFile(opts.Output, maprender.NewPage(title, records)); err != nil {
		return nil, err
	}

	b.log.Info().
		Int("rows", res.Rows).
		Int("mapped", res.Mapped).
		Int("geocoded", res.Geocoded).
		Int("failed", res.Failed).
		Str("map", res.MapPath).
		Msg("Map written")
	return res, nil
}

// place resolves coordinates for every row, writing them into the lat/lon
// columns. The returned slice holds nil for unplaced rows.
func (b *Builder) place(ctx context.Context, tbl *roster.Table, opts Options, res *Result) ([]*geo.Point, []Failure, error) {
	latCol, ok := tbl.Lookup(roster.ColLat, "latitude")
	if !ok {
		latCol = roster.ColLat
	}
	lonCol, ok := tbl.Lookup(roster.ColLon, "longitude")
	if !ok {
		lonCol = roster.ColLon
	}

	points := make([]*geo.Point, len(tbl.Rows))
	var failures []Failure
	pending := 0

	for i, row := range tbl.Rows {
		addr := geo.NormalizeAddress(row.Get(opts.AddressCol))

		p, placed, fresh, err := b.locate(ctx, row, addr, latCol, lonCol, opts.RegeocodeFailed)
		if err != nil {
			if flushErr := b.flush(ctx); flushErr != nil {
				b.log.Warn().Err(flushErr).Msg("Failed to save geocode cache")
			}
			return nil, nil, err
		}
		if fresh {
			res.Geocoded++
			pending++
		}

		if placed {
			points[i] = &p
			tbl.Set(i, latCol, formatCoord(p.Lat))
			tbl.Set(i, lonCol, formatCoord(p.Lon))
		} else {
			res.Failed++
			failures = append(failures, Failure{
				School:     row.Get(opts.SchoolCol),
				Address:    row.Get(opts.AddressCol),
				Normalized: addr,
			})
			tbl.Set(i, latCol, "")
			tbl.Set(i, lonCol, "")
		}

		if pending >= b.flushEvery {
			if err := b.flush(ctx); err != nil {
				return nil, nil, err
			}
			pending = 0
		}
	}

	if err := b.flush(ctx); err != nil {
		return nil, nil, err
	}
	return points, failures, nil
}

// locate finds one row's coordinates. fresh reports whether the geocoder was
// consulted. Only context cancellation and cache errors are returned.
func (b *Builder) locate(ctx context.Context, row roster.Row, addr, latCol, lonCol string, regeocode bool) (p geo.Point, placed, fresh bool, err error) {
	if p, ok := geo.ParsePoint(row.Get(latCol), row.Get(lonCol)); ok {
		if addr != "" && b.cache != nil {
			if err := b.cache.Put(ctx, geocache.Hit(addr, p)); err != nil {
				return geo.Point{}, false, false, err
			}
		}
		return p, true, false, nil
	}
	if addr == "" {
		return geo.Point{}, false, false, nil
	}

	if b.cache != nil {
		e, ok, err := b.cache.Get(ctx, addr)
		if err != nil {
			return geo.Point{}, false, false, err
		}
		if ok && e.Found() {
			return e.Point(), true, false, nil
		}
		if ok && !regeocode {
			return geo.Point{}, false, false, nil
		}
	}

	p, err = geo.Resolve(ctx, b.geocoder, addr, b.resolve)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return geo.Point{}, false, true, ctxErr
	}
	switch {
	case errors.Is(err, geo.ErrNotFound):
		if b.cache != nil {
			if err := b.cache.Put(ctx, geocache.Miss(addr)); err != nil {
				return geo.Point{}, false, true, err
			}
		}
		b.log.Warn().Str("address", addr).Msg("Address not found")
		return geo.Point{}, false, true, nil
	case errors.Is(err, geo.ErrUnavailable):
		// Not remembered; the next run retries it.
		b.log.Warn().Str("address", addr).Err(err).Msg("Geocoder unavailable")
		return geo.Point{}, false, true, nil
	case err != nil:
		b.log.Warn().Str("address", addr).Err(err).Msg("Geocode failed")
		return geo.Point{}, false, true, nil
	}

	b.log.Debug().Str("address", addr).Float64("lat", p.Lat).Float64("lon", p.Lon).Msg("Geocoded")
	if b.cache != nil {
		if err := b.cache.Put(ctx, geocache.Hit(addr, p)); err != nil {
			return geo.Point{}, false, true, err
		}
	}
	return p, true, true, nil
}

func (b *Builder) flush(ctx context.Context) error {
	if b.cache == nil {
		return nil
	}
	if err := b.cache.Flush(ctx); err != nil {
		return fmt.Errorf("save geocode cache: %w", err)
	}
	return nil
}

func buildRecords(tbl *roster.Table, points []*geo.Point, opts Options, groupCol string) []maprender.Record {
	phoneCol, _ := tbl.Lookup("Phone")
	emailCol, _ := tbl.Lookup("Email")
	notesCol, _ := tbl.Lookup("Notes")

	records := make([]maprender.Record, 0, len(tbl.Rows))
	for i, row := range tbl.Rows {
		p := points[i]
		if p == nil {
			continue
		}
		records = append(records, maprender.Record{
			School:  row.Get(opts.SchoolCol),
			Address: row.Get(opts.AddressCol),
			Group:   row.Get(groupCol),
			Lat:     p.Lat,
			Lon:     p.Lon,
			Status:  row.Get(roster.ColStatus),
			Phone:   row.Get(phoneCol),
			Email:   row.Get(emailCol),
			Notes:   row.Get(notesCol),
		})
	}
	return records
}

func writeFailures(path string, failures []Failure) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create failures file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{roster.ColSchool, roster.ColAddress, "Normalized"})
	for _, fl := range failures {
		_ = w.Write([]string{fl.School, fl.Address, fl.Normalized})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func writeSnapshot(path string, tbl *roster.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer f.Close()
	if err := tbl.WriteCSV(f); err != nil {
		return err
	}
	return f.Close()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
