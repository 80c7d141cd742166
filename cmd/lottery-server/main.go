package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"lottery-engine/internal/api"
	"lottery-engine/internal/cfg"
	"lottery-engine/internal/lottery"
	"lottery-engine/internal/metrics"
	"lottery-engine/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel)

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.DataPath).Msg("storage initialization failed")
	}
	defer store.Close()

	m := metrics.New()
	mw := metrics.NewWrapper(m)
	hub := api.NewEventHub(mw)

	state, err := api.NewAppState(&c, store, mw, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize engine state")
	}

	seedEmptyVariants(state, c.Variants, c.SeedDraws)
	if c.AutoTrain {
		autoTrain(ctx, state, c.Variants)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return api.NewServer(state, m.Gatherer()).ListenAndServe(gctx)
	})

	log.Info().
		Str("address", c.Addr()).
		Interface("lottery_types", c.Variants).
		Msg("Lottery engine started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server stopped with error")
		return
	}
	log.Info().Msg("shut down gracefully")
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// seedEmptyVariants fills variants with no stored drawings with n
// generated ones so the server can train on first start.
func seedEmptyVariants(state *api.AppState, variants []lottery.Variant, n int) {
	for _, v := range variants {
		added, err := state.SeedIfEmpty(v, n)
		if err != nil {
			log.Warn().Err(err).Str("variant", string(v)).Msg("Failed to seed drawings")
			continue
		}
		if added > 0 {
			log.Info().Str("variant", string(v)).Int("drawings", added).Msg("Seeded empty variant")
		}
	}
}

// autoTrain trains the default algorithms for every variant concurrently.
// Failures are logged; the server starts either way.
func autoTrain(ctx context.Context, state *api.AppState, variants []lottery.Variant) {
	g, gctx := errgroup.WithContext(ctx)
	for _, v := range variants {
		v := v
		g.Go(func() error {
			res, err := state.Train(gctx, api.TrainingRequest{Variant: v})
			if err != nil {
				log.Warn().Err(err).Str("variant", string(v)).Msg("Auto-training failed")
				return nil
			}
			log.Info().Str("variant", string(v)).Interface("accuracy", res).Msg("Auto-training finished")
			return nil
		})
	}
	g.Wait()
}
