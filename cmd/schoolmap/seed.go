package main

import (
	"fmt"
	"os"

	"github.com/madscience/crmkit/internal/config"
	"github.com/madscience/crmkit/internal/geocache"
	"github.com/madscience/crmkit/internal/logger"
	"github.com/madscience/crmkit/internal/roster"
	"github.com/spf13/cobra"
)

func newSeedCacheCmd() *cobra.Command {
	var input, cachePath, backend string

	cmd := &cobra.Command{
		Use:   "seed-cache",
		Short: "Copy hand-corrected coordinates from an edited map CSV into the cache",
		Long: `seed-cache reads a CSV exported from the map (or the snapshot written next
to it) and stores each row's lat/lon under its normalized address. Coordinates
already in the cache are kept; cached failures are replaced.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

			tbl, err := roster.Load(input, roster.LoadOptions{})
			if err != nil {
				return fmt.Errorf("load %s: %w", input, err)
			}

			store, closeFn, err := openCache(cmd.Context(), cfg, backend, cachePath, log)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := geocache.Seed(cmd.Context(), store, tbl)
			if err != nil {
				return err
			}

			log.Info().
				Int("added", res.Added).
				Int("kept", res.Kept).
				Int("ignored", res.Ignored).
				Msg("Geocode cache seeded")
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d addresses (%d already cached, %d rows ignored)\n", res.Added, res.Kept, res.Ignored)
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "edited CSV with Address, lat and lon columns")
	cmd.Flags().StringVar(&cachePath, "cache", "geocode_cache.csv", "geocode cache file")
	cmd.Flags().StringVar(&backend, "cache-backend", cacheBackendCSV, "geocode cache backend: csv or redis")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
