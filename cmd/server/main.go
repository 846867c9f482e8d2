package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/broker"
	"github.com/aristath/rebalancer/internal/broker/localdict"
	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/executor"
	"github.com/aristath/rebalancer/internal/indexfile"
	"github.com/aristath/rebalancer/internal/money"
	"github.com/aristath/rebalancer/internal/planner"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/aristath/rebalancer/internal/server"
	"github.com/aristath/rebalancer/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		errLog := logger.New(logger.Config{Level: "error"})
		errLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting rebalancer")

	// Build broker adapters. The simulated providers persist generated
	// prices under the data dir so quotes survive restarts.
	providers, err := buildProviders(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize providers")
	}

	// Load index definitions if a directory is configured
	var inventory *indexfile.Inventory
	if cfg.IndexDir != "" {
		inventory, err = indexfile.NewInventory(cfg.IndexDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.IndexDir).Msg("Failed to load index inventory")
		}
		log.Info().Strs("indexes", inventory.Keys()).Msg("Index inventory loaded")
	}

	// Initialize scheduler
	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if err := registerJobs(sched, log, cfg, providers); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}

	// Initialize HTTP server
	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		Providers: providers,
		Planner:   planner.New(log),
		Executor:  executor.New(log),
		Inventory: inventory,
		DevMode:   cfg.DevMode,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func buildProviders(cfg *config.Config, log zerolog.Logger) (map[domain.ProviderID]domain.Provider, error) {
	pinned, err := broker.NewDiskMapCacheAt(filepath.Join(cfg.DataDir, "prices.json"), log)
	if err != nil {
		return nil, err
	}

	cash := money.FromFloat(cfg.DefaultCash)
	fractional := localdict.New(log, nil,
		localdict.WithCash(cash),
		localdict.WithPinnedPrices(pinned),
		localdict.WithBaseOptions(broker.WithPriceTTL(cfg.PriceCacheTTL)),
	)
	wholeShares := localdict.NewNoPartial(log, nil,
		localdict.WithCash(cash),
		localdict.WithPinnedPrices(pinned),
		localdict.WithBaseOptions(broker.WithPriceTTL(cfg.PriceCacheTTL)),
	)

	return map[domain.ProviderID]domain.Provider{
		fractional.ID():  fractional,
		wholeShares.ID(): wholeShares,
	}, nil
}

func registerJobs(sched *scheduler.Scheduler, log zerolog.Logger, cfg *config.Config, providers map[domain.ProviderID]domain.Provider) error {
	list := make([]domain.Provider, 0, len(providers))
	for _, p := range providers {
		list = append(list, p)
	}

	return sched.AddJob(cfg.RefreshCron, scheduler.NewRefreshJob(log, list))
}
