package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/database"
	"github.com/smukkama/airquality-pipeline/internal/features"
	"github.com/smukkama/airquality-pipeline/internal/model"
	"github.com/smukkama/airquality-pipeline/internal/telemetry"
	"github.com/smukkama/airquality-pipeline/pkg/config"
)

// Store is the part of the persistence gateway the engine needs.
type Store interface {
	LoadSeedWindow(ctx context.Context, location string, w int) ([]database.SeedPoint, error)
	ReplaceForecast(ctx context.Context, location string, points []database.ForecastPoint) error
}

// Error reports a failed forecast run. Step is the failing step index, or -1
// when the failure happened outside the step loop.
type Error struct {
	Location string
	Step     int
	Err      error
}

func (e *Error) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("forecast for %s: %v", e.Location, e.Err)
	}
	return fmt.Sprintf("forecast for %s failed at step %d: %v", e.Location, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Prediction is one unscaled model output at its synthetic timestamp.
type Prediction struct {
	Timestamp   time.Time
	Temperature float64
	features.Cyclical
}

// Run folds steps predictions over window. Each step asks seq for the next
// scaled temperature, stamps it step after the previous timestamp and slides
// the window forward. Cancellation is checked between steps.
func Run(ctx context.Context, seq model.Sequence, scaler *features.Scaler, window Window, start time.Time, steps int, step time.Duration) ([]Prediction, error) {
	preds := make([]Prediction, 0, steps)
	ts := start

	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return preds, &Error{Step: i, Err: err}
		}

		scaled, err := seq.Step(ctx, window.Matrix())
		if err != nil {
			return preds, &Error{Step: i, Err: err}
		}

		ts = ts.Add(step)
		c := features.EncodeTime(ts)
		preds = append(preds, Prediction{
			Timestamp:   ts,
			Temperature: scaler.InverseValue(0, scaled),
			Cyclical:    c,
		})
		window = window.Slide(NewRow(scaled, c))
	}

	return preds, nil
}

// Engine produces and stores a location's forecast from its seed window.
type Engine struct {
	store   Store
	seq     model.Sequence
	scaler  *features.Scaler
	cfg     config.ForecastConfig
	monitor *telemetry.Monitor
	logger  *zap.Logger
}

// NewEngine creates a forecast engine
func NewEngine(store Store, seq model.Sequence, scaler *features.Scaler, cfg config.ForecastConfig, monitor *telemetry.Monitor, logger *zap.Logger) *Engine {
	return &Engine{
		store:   store,
		seq:     seq,
		scaler:  scaler,
		cfg:     cfg,
		monitor: monitor,
		logger:  logger,
	}
}

// Seed loads the seed window for location. ok is false when there are not
// yet enough seed points, which is not an error.
func (e *Engine) Seed(ctx context.Context, location string) (seeds []database.SeedPoint, ok bool, err error) {
	seeds, err = e.store.LoadSeedWindow(ctx, location, e.cfg.WindowSize)
	if errors.Is(err, database.ErrInsufficientSeed) {
		return seeds, false, nil
	}
	if err != nil {
		return nil, false, e.monitor.RecordError(&Error{Location: location, Step: -1, Err: err})
	}
	return seeds, true, nil
}

// Result describes a completed run.
type Result struct {
	Steps    int
	Points   int
	Start    time.Time
	Duration time.Duration
}

// Forecast runs the full horizon from seeds and replaces the stored forecast
// for location. On any failure the stored forecast is left as it was.
func (e *Engine) Forecast(ctx context.Context, location string, seeds []database.SeedPoint) (Result, error) {
	began := time.Now()

	if len(seeds) != e.cfg.WindowSize {
		return Result{}, e.monitor.RecordError(&Error{
			Location: location, Step: -1,
			Err: fmt.Errorf("seed window has %d points, want %d", len(seeds), e.cfg.WindowSize),
		})
	}

	rows := make([]Row, len(seeds))
	for i, s := range seeds {
		rows[i] = NewRow(e.scaler.TransformValue(0, s.Temperature), s.Cyclical())
	}
	start := seeds[len(seeds)-1].Timestamp
	steps := e.cfg.TotalSteps()

	preds, err := Run(ctx, e.seq, e.scaler, NewWindow(rows), start, steps, e.cfg.Step())
	if err != nil {
		var ferr *Error
		if errors.As(err, &ferr) {
			ferr.Location = location
		}
		return Result{}, e.monitor.RecordError(err)
	}

	points := Downsample(location, preds, e.cfg.BatchSize)
	if err := e.store.ReplaceForecast(ctx, location, points); err != nil {
		return Result{}, e.monitor.RecordError(&Error{Location: location, Step: -1, Err: err})
	}

	elapsed := time.Since(began)
	e.monitor.Record(telemetry.StageForecast, elapsed)
	e.logger.Info("forecast replaced",
		zap.String("location", location),
		zap.Int("steps", steps),
		zap.Int("points", len(points)),
		zap.Time("from", start),
		zap.Duration("duration", elapsed),
	)

	return Result{Steps: steps, Points: len(points), Start: start, Duration: elapsed}, nil
}
