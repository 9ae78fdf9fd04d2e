package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smukkama/airquality-pipeline/internal/alerting"
	"github.com/smukkama/airquality-pipeline/internal/classification"
	"github.com/smukkama/airquality-pipeline/internal/database"
	"github.com/smukkama/airquality-pipeline/internal/features"
	"github.com/smukkama/airquality-pipeline/internal/forecast"
	"github.com/smukkama/airquality-pipeline/internal/ingestion"
	"github.com/smukkama/airquality-pipeline/internal/logging"
	"github.com/smukkama/airquality-pipeline/internal/model"
	"github.com/smukkama/airquality-pipeline/internal/queue"
	"github.com/smukkama/airquality-pipeline/internal/telemetry"
	"github.com/smukkama/airquality-pipeline/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log, "pipeline")
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.Database.Driver, cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database", zap.String("driver", db.Driver()))

	if err := db.RunMigrations(logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	monitor := telemetry.NewMonitor(cfg.Telemetry.HistorySize, telemetry.NewPromObserver(reg))
	gateway := database.NewGateway(db, monitor)

	client := model.NewClient(cfg.Models.ServingURL, cfg.Models.RequestTimeout)
	for _, name := range []string{cfg.Models.ClassifierName, cfg.Models.SequenceName} {
		if err := client.CheckAvailable(ctx, name); err != nil {
			return fmt.Errorf("model %s unavailable: %w", name, err)
		}
	}
	if cfg.Models.RequestTimeout == 0 {
		logger.Warn("model requests have no timeout; a stalled model server blocks ingestion")
	}

	classifierScaler, err := features.LoadScaler(cfg.Models.ClassifierScalerPath)
	if err != nil {
		return err
	}
	sequenceScaler, err := features.LoadScaler(cfg.Models.SequenceScalerPath)
	if err != nil {
		return err
	}

	stage, err := classification.NewStage(classifierScaler, model.NewRemoteClassifier(client, cfg.Models.ClassifierName), monitor)
	if err != nil {
		return err
	}
	engine := forecast.NewEngine(gateway, model.NewRemoteSequence(client, cfg.Models.SequenceName),
		sequenceScaler, cfg.Forecast, monitor, logger.Named("forecast"))
	coordinator := ingestion.NewCoordinator(stage, gateway, engine, monitor, logger.Named("ingestion"))

	if cfg.Kafka.CreateTopics {
		if err := queue.CreateTopics(cfg.Kafka.Brokers, cfg.Kafka.NumPartitions, 1, logger,
			cfg.Kafka.TopicReadings, cfg.Kafka.TopicAlerts); err != nil {
			logger.Warn("topic creation failed", zap.Error(err))
		}
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.GroupID)
	defer consumer.Close()

	opts := []telemetry.SupervisorOption{
		telemetry.WithSampler(telemetry.NewSystemSampler(cfg.Telemetry.DiskPath)),
		telemetry.WithSnapshotStore(gateway),
		telemetry.WithResourceGauges(telemetry.NewResourceCollector(reg)),
	}

	if cfg.Alerts.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}

		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
		defer producer.Close()

		host, _ := os.Hostname()
		publisher := alerting.NewPublisher(alerting.NewStateManager(rdb, host), producer, host,
			cfg.Alerts.Cooldown, logger.Named("alerting"))
		opts = append(opts, telemetry.WithAlertSink(publisher))
		logger.Info("alert notifications enabled", zap.String("topic", cfg.Kafka.TopicAlerts))
	}

	th := cfg.Telemetry.Thresholds
	supervisor := telemetry.NewSupervisor(monitor, telemetry.SupervisorConfig{
		ReportInterval:  cfg.Telemetry.ReportInterval,
		PersistInterval: cfg.Telemetry.PersistInterval,
		ExportDir:       cfg.Telemetry.ExportDir,
		Thresholds: telemetry.Thresholds{
			ProcessingMean: th.ProcessingMean,
			ErrorRate:      th.ErrorRate,
			ForecastMean:   th.ForecastMean,
			CPUPercent:     th.CPUPercent,
			MemoryPercent:  th.MemoryPercent,
			DiskPercent:    th.DiskPercent,
		},
	}, logger.Named("telemetry"), opts...)
	if err := supervisor.Start(); err != nil {
		return err
	}
	// Runs before the store and transports close.
	defer supervisor.Shutdown(context.Background())

	runner := ingestion.NewRunner(consumer, coordinator, cfg.Kafka.CommitTimeout, logger.Named("runner"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		return serveMetrics(gctx, cfg.Telemetry.MetricsAddr, reg, logger)
	})

	logger.Info("pipeline running",
		zap.String("topic", cfg.Kafka.TopicReadings),
		zap.String("group", cfg.Kafka.GroupID),
		zap.Int("forecast_steps", cfg.Forecast.TotalSteps()),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
