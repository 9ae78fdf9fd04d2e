package ingestion

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/database"
	"github.com/smukkama/airquality-pipeline/internal/forecast"
	"github.com/smukkama/airquality-pipeline/internal/protocol"
	"github.com/smukkama/airquality-pipeline/internal/telemetry"
)

// State is the furthest point a message reached in the pipeline.
type State int

const (
	Received State = iota
	Normalized
	Classified
	Persisted
	SeedSufficient
	Forecasted
	Done
	Errored
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Normalized:
		return "normalized"
	case Classified:
		return "classified"
	case Persisted:
		return "persisted"
	case SeedSufficient:
		return "seed_sufficient"
	case Forecasted:
		return "forecasted"
	case Done:
		return "done"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// Outcome describes how one message was handled. State is Done or Errored;
// Reached is the last state passed before that.
type Outcome struct {
	State      State
	Reached    State
	Location   string
	AirQuality int
	Forecast   *forecast.Result
	Err        error
}

type Classifier interface {
	Classify(ctx context.Context, r protocol.Reading) (protocol.ClassifiedReading, error)
}

type Persister interface {
	SaveClassified(ctx context.Context, r protocol.ClassifiedReading) error
}

type Forecaster interface {
	Seed(ctx context.Context, location string) ([]database.SeedPoint, bool, error)
	Forecast(ctx context.Context, location string, seeds []database.SeedPoint) (forecast.Result, error)
}

// Coordinator drives one message at a time through decode, classification,
// persistence and forecasting.
type Coordinator struct {
	classifier Classifier
	store      Persister
	forecaster Forecaster
	monitor    *telemetry.Monitor
	logger     *zap.Logger
	now        func() time.Time
}

// NewCoordinator creates a coordinator for the given stages
func NewCoordinator(classifier Classifier, store Persister, forecaster Forecaster, monitor *telemetry.Monitor, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		classifier: classifier,
		store:      store,
		forecaster: forecaster,
		monitor:    monitor,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle processes one raw payload. It never returns an error: failures are
// counted once in the monitor, logged and reported in the Outcome.
func (c *Coordinator) Handle(ctx context.Context, payload []byte) Outcome {
	start := time.Now()
	defer c.monitor.Since(telemetry.StageProcessing, start)

	out := Outcome{Reached: Received}

	reading, err := protocol.DecodeReading(payload, c.now().UTC())
	if err != nil {
		return c.fail(out, err)
	}
	out.Reached = Normalized
	out.Location = reading.Location

	classified, err := c.classifier.Classify(ctx, reading)
	if err != nil {
		return c.fail(out, err)
	}
	out.Reached = Classified
	out.AirQuality = classified.AirQuality

	if err := c.store.SaveClassified(ctx, classified); err != nil {
		return c.fail(out, err)
	}
	out.Reached = Persisted

	seeds, ok, err := c.forecaster.Seed(ctx, reading.Location)
	if err != nil {
		return c.fail(out, err)
	}
	if !ok {
		c.logger.Debug("not enough seed points to forecast",
			zap.String("location", reading.Location),
			zap.Int("seeds", len(seeds)),
		)
		return c.done(out)
	}
	out.Reached = SeedSufficient

	res, err := c.forecaster.Forecast(ctx, reading.Location, seeds)
	if err != nil {
		return c.fail(out, err)
	}
	out.Reached = Forecasted
	out.Forecast = &res

	return c.done(out)
}

func (c *Coordinator) done(out Outcome) Outcome {
	out.State = Done
	c.logger.Info("reading processed",
		zap.String("location", out.Location),
		zap.Int("air_quality", out.AirQuality),
		zap.Bool("forecasted", out.Forecast != nil),
	)
	return out
}

func (c *Coordinator) fail(out Outcome, err error) Outcome {
	out.State = Errored
	out.Err = c.monitor.RecordError(err)

	fields := []zap.Field{
		zap.String("location", out.Location),
		zap.Stringer("reached", out.Reached),
		zap.Error(err),
	}
	var verr *protocol.ValidationError
	switch {
	case errors.Is(err, context.Canceled):
		c.logger.Info("reading interrupted by shutdown", fields...)
	case errors.As(err, &verr):
		c.logger.Warn("rejected reading", fields...)
	default:
		c.logger.Error("failed to process reading", fields...)
	}
	return out
}
