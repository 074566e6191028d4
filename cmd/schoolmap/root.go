package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/madscience/crmkit/internal/config"
	"github.com/madscience/crmkit/internal/database"
	"github.com/madscience/crmkit/internal/geo"
	"github.com/madscience/crmkit/internal/geocache"
	"github.com/madscience/crmkit/internal/logger"
	"github.com/madscience/crmkit/internal/mapgen"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	cacheBackendCSV   = "csv"
	cacheBackendRedis = "redis"
)

type buildFlags struct {
	input           string
	output          string
	addressCol      string
	schoolCol       string
	districtCol     string
	cachePath       string
	cacheBackend    string
	max             int
	minDelaySeconds float64
	minDelaySet     bool
	regeocodeFailed bool
	noCache         bool
}

func newRootCmd() *cobra.Command {
	var f buildFlags

	cmd := &cobra.Command{
		Use:   "schoolmap",
		Short: "Build an editable map of Nova Scotia schools",
		Long: `schoolmap reads a school list from a CSV file or Excel workbook, geocodes
each address with OpenStreetMap Nominatim (bounded to Nova Scotia) and writes
a self-contained HTML map with status filters, search, and CSV export.

Alongside the map it writes <output>.csv with the placed coordinates and
<output>.failed_geocodes.csv listing rows that could not be located.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.minDelaySet = cmd.Flags().Changed("min-delay-seconds")
			return runBuild(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.input, "input", "", "school list (.csv, .xlsx)")
	fl.StringVar(&f.output, "output", "ns_schools_map_editable.html", "HTML map to write")
	fl.StringVar(&f.addressCol, "address-col", "Address", "address column")
	fl.StringVar(&f.schoolCol, "school-col", "School", "school name column")
	fl.StringVar(&f.districtCol, "district-col", "", "district column; defaults to the sheet name when absent")
	fl.StringVar(&f.cachePath, "cache", "geocode_cache.csv", "geocode cache file")
	fl.StringVar(&f.cacheBackend, "cache-backend", cacheBackendCSV, "geocode cache backend: csv or redis (uses REDIS_URL)")
	fl.IntVar(&f.max, "max", 0, "process at most N rows (0 = all)")
	fl.Float64Var(&f.minDelaySeconds, "min-delay-seconds", 1.5, "minimum delay between geocoder requests; 0 disables it (default from GEOCODER_MIN_DELAY_MS)")
	fl.BoolVar(&f.regeocodeFailed, "regeocode-failed", false, "retry addresses the cache remembers as failed")
	fl.BoolVar(&f.noCache, "no-cache", false, "ignore and do not update the geocode cache")
	_ = cmd.MarkFlagRequired("input")

	cmd.AddCommand(newSeedCacheCmd())
	return cmd
}

func runBuild(ctx context.Context, out io.Writer, f buildFlags) error {
	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	minDelay := geocodeDelay(f, cfg.GeocoderMinDelay)
	geocoder := geo.NewThrottled(geo.NewNominatim(cfg.GeocoderURL, cfg.GeocoderUserAgent), minDelay)

	var cache geocache.Store
	if !f.noCache {
		store, closeFn, err := openCache(ctx, cfg, f.cacheBackend, f.cachePath, log)
		if err != nil {
			return err
		}
		defer closeFn()
		cache = store
	}

	res, err := mapgen.NewBuilder(geocoder, cache, log).Run(ctx, mapgen.Options{
		Input:           f.input,
		Output:          f.output,
		AddressCol:      f.addressCol,
		SchoolCol:       f.schoolCol,
		DistrictCol:     f.districtCol,
		Max:             f.max,
		RegeocodeFailed: f.regeocodeFailed,
	})
	if err != nil {
		log.Error().Err(err).Msg("Map build failed")
		return err
	}

	fmt.Fprintf(out, "Map:      %s\n", res.MapPath)
	fmt.Fprintf(out, "Snapshot: %s\n", res.SnapshotPath)
	if res.FailuresPath != "" {
		fmt.Fprintf(out, "Failures: %s (%d rows)\n", res.FailuresPath, res.Failed)
	}
	return nil
}

// geocodeDelay uses the flag when given, where zero or less means no delay,
// and the configured delay otherwise.
func geocodeDelay(f buildFlags, configured time.Duration) time.Duration {
	if !f.minDelaySet {
		return configured
	}
	if f.minDelaySeconds <= 0 {
		return 0
	}
	return time.Duration(f.minDelaySeconds * float64(time.Second))
}

// openCache returns the selected cache store and a function releasing it.
func openCache(ctx context.Context, cfg *config.Config, backend, path string, log zerolog.Logger) (geocache.Store, func(), error) {
	switch backend {
	case cacheBackendCSV:
		store, err := geocache.OpenFile(path)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", path).Int("entries", store.Len()).Msg("Geocode cache loaded")
		return store, func() {}, nil
	case cacheBackendRedis:
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		if rdb == nil {
			return nil, nil, fmt.Errorf("--cache-backend=redis needs REDIS_URL")
		}
		return geocache.NewRedisStore(rdb), func() { rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
