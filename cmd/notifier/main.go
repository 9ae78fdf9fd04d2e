package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/logging"
	"github.com/smukkama/airquality-pipeline/internal/notification"
	"github.com/smukkama/airquality-pipeline/internal/protocol"
	"github.com/smukkama/airquality-pipeline/internal/queue"
	"github.com/smukkama/airquality-pipeline/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "notifier: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log, "notifier")
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier := notification.NewEmailNotifier(cfg.SMTP, logger)
	if err := notifier.TestConnection(); err != nil {
		logger.Warn("notifications will be logged only", zap.Error(err))
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, cfg.Kafka.NotifierGroup)
	defer consumer.Close()

	logger.Info("notifier running", zap.String("topic", cfg.Kafka.TopicAlerts))

	for {
		msg, err := consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("notifier stopped")
				return nil
			}
			logger.Warn("failed to consume message", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		n, err := protocol.DecodeAlertNotification(msg.Value)
		if err != nil {
			logger.Warn("dropping undecodable notification", zap.Int64("offset", msg.Offset), zap.Error(err))
			commit(ctx, consumer, msg, cfg.Kafka.CommitTimeout, logger)
			continue
		}

		if err := notifier.SendAlertNotification(n); err != nil {
			// Not committed, so the notification is redelivered.
			logger.Error("failed to send notification", zap.String("id", n.ID), zap.Error(err))
			continue
		}
		commit(ctx, consumer, msg, cfg.Kafka.CommitTimeout, logger)
	}
}

func commit(ctx context.Context, consumer *queue.Consumer, msg queue.Message, timeout time.Duration, logger *zap.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := consumer.Commit(cctx, msg); err != nil {
		logger.Error("failed to commit offset", zap.Error(err))
	}
}
