package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/thespecialone1/sharedrop/internal/adapters/http"
	"github.com/thespecialone1/sharedrop/internal/app"
	"github.com/thespecialone1/sharedrop/internal/config"
	"github.com/thespecialone1/sharedrop/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	clock := core.NewClock()
	registry := app.NewRegistry()
	bans := app.NewBans(nil)
	limiter := app.NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow, clock)
	calls := app.NewCallManager(registry, registry, clock, cfg.HostGrace)
	relay := app.NewRelay(registry, registry)

	orch := &app.Orchestrator{
		Registry: registry,
		Calls:    calls,
		Relay:    relay,
		Bans:     bans,
		Limiter:  limiter,
		Clock:    clock,
	}

	r := router.SetupRouter(ctx, cfg, orch)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("ShareDrop signal server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
