package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/madscience/crmkit/internal/config"
	"github.com/madscience/crmkit/internal/database"
	"github.com/madscience/crmkit/internal/geo"
	"github.com/madscience/crmkit/internal/geocache"
	"github.com/madscience/crmkit/internal/handler"
	"github.com/madscience/crmkit/internal/logger"
	"github.com/madscience/crmkit/internal/repository"
	"github.com/madscience/crmkit/internal/router"
	"github.com/madscience/crmkit/internal/service"
	"github.com/madscience/crmkit/internal/validator"
	"github.com/madscience/crmkit/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("addr", cfg.ServerAddr()).
		Str("static_dir", cfg.StaticDir).
		Str("mode", cfg.GinMode).
		Msg("Starting CRM server")

	if !router.StaticDirExists(cfg.StaticDir) {
		log.Fatal().Str("static_dir", cfg.StaticDir).Msg("Static directory not found; set STATIC_DIR")
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL (optional) ──────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	if pool != nil {
		defer pool.Close()
	}

	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ─── Schools API ───────────────────────────────────────────────────
	handlers := &router.CRMHandlers{}
	var geocodeWorker *worker.GeocodeWorker
	if pool != nil {
		schoolRepo := repository.NewSchoolRepository(pool)

		var queue service.GeocodeEnqueuer
		if rdb != nil {
			queue = worker.NewGeocodeQueue(rdb)
			geocoder := geo.NewThrottled(geo.NewNominatim(cfg.GeocoderURL, cfg.GeocoderUserAgent), cfg.GeocoderMinDelay)
			geocodeWorker = worker.NewGeocodeWorker(schoolRepo, geocoder, geocache.NewRedisStore(rdb), rdb, log)
		}

		schoolService := service.NewSchoolService(schoolRepo, rdb, queue, log)
		handlers.School = handler.NewSchoolHandler(schoolService)
	} else {
		log.Info().Msg("DATABASE_URL not set; schools API disabled")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupCRMRouter(cfg, handlers, log)

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Run Server and Workers ────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if geocodeWorker != nil {
		g.Go(func() error { return geocodeWorker.Start(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	printOAuthHints(cfg)
	if cfg.OpenBrowser {
		if err := openBrowser(localURL(cfg)); err != nil {
			log.Warn().Err(err).Msg("Could not open browser")
		}
	}

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
	log.Info().Msg("Shutdown complete")
}

func localURL(cfg *config.Config) string {
	return "http://localhost:" + cfg.ServerPort + "/"
}

// printOAuthHints tells the operator which origin to register with Google.
func printOAuthHints(cfg *config.Config) {
	dir, err := filepath.Abs(cfg.StaticDir)
	if err != nil {
		dir = cfg.StaticDir
	}
	origin := "http://localhost:" + cfg.ServerPort
	fmt.Fprintf(os.Stdout, "Serving %s\n", dir)
	fmt.Fprintf(os.Stdout, "Open %s\n\n", localURL(cfg))
	fmt.Fprintln(os.Stdout, "Google OAuth client setup:")
	fmt.Fprintf(os.Stdout, "  Authorized JavaScript origin: %s\n", origin)
	fmt.Fprintln(os.Stdout, "  Open the CRM through this exact origin, not 127.0.0.1 or file://")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
