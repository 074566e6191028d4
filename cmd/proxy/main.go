package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/madscience/crmkit/internal/config"
	"github.com/madscience/crmkit/internal/handler"
	"github.com/madscience/crmkit/internal/logger"
	"github.com/madscience/crmkit/internal/proxy"
	"github.com/madscience/crmkit/internal/router"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("addr", cfg.ProxyAddr()).
		Str("upstream", cfg.AnthropicBaseURL).
		Str("mode", cfg.GinMode).
		Msg("Starting Claude proxy")

	// ─── Setup Router ──────────────────────────────────────────────────
	relay := proxy.NewRelay(cfg, log)
	r := router.SetupProxyRouter(cfg, handler.NewProxyHandler(relay, cfg.MaxProxyBodyBytes, log), log)

	srv := &http.Server{
		Addr:              cfg.ProxyAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Msgf("Proxy listening on http://%s (POST /api/anthropic)", cfg.ProxyAddr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
