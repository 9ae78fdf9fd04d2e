package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/api"
	"github.com/smukkama/airquality-pipeline/internal/database"
	"github.com/smukkama/airquality-pipeline/internal/logging"
	"github.com/smukkama/airquality-pipeline/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.Driver != database.DriverPostgres {
		return fmt.Errorf("read API requires the postgres driver, got %q", cfg.Database.Driver)
	}

	logger, err := logging.New(cfg.Log, "api")
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := api.NewPgStore(ctx, cfg.Database.URL())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	server := api.NewServer(cfg.API, store, reg, logger)
	if err := server.Run(ctx); err != nil {
		return err
	}
	logger.Info("read API stopped", zap.String("addr", cfg.API.ListenAddr()))
	return nil
}
