package ingestion

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/queue"
)

// Source delivers messages and accepts commits for handled ones.
type Source interface {
	Fetch(ctx context.Context) (queue.Message, error)
	Commit(ctx context.Context, msg queue.Message) error
}

// Runner feeds messages from a Source to the Coordinator strictly one at a
// time, committing each offset once the message is Done or Errored.
type Runner struct {
	source        Source
	coordinator   *Coordinator
	logger        *zap.Logger
	commitTimeout time.Duration
	retryDelay    time.Duration
}

// NewRunner creates a runner. A zero commitTimeout means 5 seconds.
func NewRunner(source Source, coordinator *Coordinator, commitTimeout time.Duration, logger *zap.Logger) *Runner {
	if commitTimeout <= 0 {
		commitTimeout = 5 * time.Second
	}
	return &Runner{
		source:        source,
		coordinator:   coordinator,
		logger:        logger,
		commitTimeout: commitTimeout,
		retryDelay:    time.Second,
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("ingestion started")
	defer r.logger.Info("ingestion stopped")

	for {
		msg, err := r.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.retryDelay):
			}
			continue
		}

		out := r.coordinator.Handle(ctx, msg.Value)

		// Interrupted by shutdown: leave the offset for redelivery.
		if out.State == Errored && ctx.Err() != nil && errors.Is(out.Err, ctx.Err()) {
			return nil
		}

		if err := r.commit(ctx, msg); err != nil {
			r.logger.Error("failed to commit offset",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *Runner) commit(ctx context.Context, msg queue.Message) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.commitTimeout)
	defer cancel()
	return r.source.Commit(cctx, msg)
}
