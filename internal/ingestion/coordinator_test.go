package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/classification"
	"github.com/smukkama/airquality-pipeline/internal/database"
	"github.com/smukkama/airquality-pipeline/internal/features"
	"github.com/smukkama/airquality-pipeline/internal/forecast"
	"github.com/smukkama/airquality-pipeline/internal/protocol"
	"github.com/smukkama/airquality-pipeline/internal/telemetry"
	"github.com/smukkama/airquality-pipeline/pkg/config"
)

var baseTime = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type stubClassifier struct {
	class      int
	err        error
	calls      int
	onClassify func()
}

func (c *stubClassifier) Classify(ctx context.Context, x []float64) (int, error) {
	c.calls++
	if c.onClassify != nil {
		c.onClassify()
	}
	return c.class, c.err
}

type stubSequence struct {
	fail  bool
	steps int
}

func (s *stubSequence) Step(ctx context.Context, window [][]float64) (float64, error) {
	s.steps++
	if s.fail && s.steps > 10 {
		return 0, errors.New("sequence model unavailable")
	}
	return window[len(window)-1][0], nil
}

type pipeline struct {
	coordinator *Coordinator
	gateway     *database.Gateway
	monitor     *telemetry.Monitor
	classifier  *stubClassifier
	sequence    *stubSequence
}

func identityScaler(t *testing.T, n int) *features.Scaler {
	t.Helper()
	p := features.ScalerParams{Kind: features.KindStandard, Mean: make([]float64, n), Scale: make([]float64, n)}
	for i := range p.Scale {
		p.Scale[i] = 1
	}
	s, err := features.NewScaler(p)
	require.NoError(t, err)
	return s
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	db, err := database.Connect(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(zap.NewNop()))

	monitor := telemetry.NewMonitor(100)
	gateway := database.NewGateway(db, monitor)

	classifier := &stubClassifier{class: 2}
	stage, err := classification.NewStage(identityScaler(t, len(protocol.Parameters)), classifier, monitor)
	require.NoError(t, err)

	sequence := &stubSequence{}
	cfg := config.ForecastConfig{Days: 1, StepMinutes: 15, WindowSize: 6, BatchSize: 96}
	engine := forecast.NewEngine(gateway, sequence, identityScaler(t, 1), cfg, monitor, zap.NewNop())

	c := NewCoordinator(stage, gateway, engine, monitor, zap.NewNop())
	c.now = func() time.Time { return baseTime }

	return &pipeline{
		coordinator: c,
		gateway:     gateway,
		monitor:     monitor,
		classifier:  classifier,
		sequence:    sequence,
	}
}

func payload(location string, ts time.Time, temp float64) []byte {
	return []byte(fmt.Sprintf(
		`{"timestamp":%q,"location":%q,"temperature":%g,"humidity":70,"pm25":12,"pm10":30,"no2":8,"so2":3,"co":0.5}`,
		ts.Format(time.RFC3339), location, temp,
	))
}

func TestHandle_DefaultsLocationAndTimestamp(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	out := p.coordinator.Handle(ctx, []byte(`{"temperature":25,"humidity":70,"pm25":12,"pm10":30,"no2":8,"so2":3,"co":0.5,"extra":"ignored"}`))
	require.Equal(t, Done, out.State, "err: %v", out.Err)
	assert.Equal(t, protocol.DefaultLocation, out.Location)
	assert.Equal(t, 2, out.AirQuality)

	readings, err := p.gateway.RecentReadings(ctx, protocol.DefaultLocation, 10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.True(t, baseTime.Equal(readings[0].Timestamp))
}

func TestHandle_NoForecastBelowWindow(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		out := p.coordinator.Handle(ctx, payload("hanoi", baseTime.Add(time.Duration(i)*15*time.Minute), 20))
		require.Equal(t, Done, out.State)
		assert.Equal(t, Persisted, out.Reached)
		assert.Nil(t, out.Forecast)
	}

	points, err := p.gateway.LoadForecast(ctx, "hanoi")
	require.NoError(t, err)
	assert.Empty(t, points)
	assert.Zero(t, p.sequence.steps)

	c := p.monitor.Counters()
	assert.Equal(t, uint64(5), c.Messages)
	assert.Equal(t, uint64(0), c.Forecasts)
	assert.Equal(t, uint64(0), c.Errors)
}

func TestHandle_ForecastsOnceWindowIsFull(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	var out Outcome
	for i := 0; i < 6; i++ {
		out = p.coordinator.Handle(ctx, payload("hanoi", baseTime.Add(time.Duration(i)*15*time.Minute), 22))
	}
	require.Equal(t, Done, out.State, "err: %v", out.Err)
	assert.Equal(t, Forecasted, out.Reached)
	require.NotNil(t, out.Forecast)
	assert.Equal(t, 96, out.Forecast.Steps)

	points, err := p.gateway.LoadForecast(ctx, "hanoi")
	require.NoError(t, err)
	assert.Len(t, points, out.Forecast.Points)
	for _, pt := range points {
		assert.InDelta(t, 22, pt.Temperature, 1e-9)
	}

	other, err := p.gateway.LoadForecast(ctx, "saigon")
	require.NoError(t, err)
	assert.Empty(t, other)

	assert.Equal(t, uint64(1), p.monitor.Counters().Forecasts)
}

func TestHandle_ClassificationFailurePersistsNothing(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.classifier.err = errors.New("classifier down")

	out := p.coordinator.Handle(ctx, payload("hanoi", baseTime, 20))
	assert.Equal(t, Errored, out.State)
	assert.Equal(t, Normalized, out.Reached)

	var cerr *classification.Error
	assert.ErrorAs(t, out.Err, &cerr)

	readings, err := p.gateway.RecentReadings(ctx, "hanoi", 10)
	require.NoError(t, err)
	assert.Empty(t, readings)

	c := p.monitor.Counters()
	assert.Equal(t, uint64(1), c.Errors)
	assert.Equal(t, uint64(1), c.Messages)
	assert.Equal(t, uint64(0), c.DBOps)
}

func TestHandle_ForecastFailureKeepsReadingAndPriorForecast(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		out := p.coordinator.Handle(ctx, payload("hanoi", baseTime.Add(time.Duration(i)*15*time.Minute), 22))
		require.Equal(t, Done, out.State)
	}
	before, err := p.gateway.LoadForecast(ctx, "hanoi")
	require.NoError(t, err)
	require.NotEmpty(t, before)

	p.sequence.fail = true
	p.sequence.steps = 0

	out := p.coordinator.Handle(ctx, payload("hanoi", baseTime.Add(6*15*time.Minute), 30))
	assert.Equal(t, Errored, out.State)
	assert.Equal(t, SeedSufficient, out.Reached)

	var ferr *forecast.Error
	require.ErrorAs(t, out.Err, &ferr)
	assert.Equal(t, 10, ferr.Step)

	readings, err := p.gateway.RecentReadings(ctx, "hanoi", 10)
	require.NoError(t, err)
	assert.Len(t, readings, 7)

	after, err := p.gateway.LoadForecast(ctx, "hanoi")
	require.NoError(t, err)
	require.Len(t, after, len(before))
	assert.Equal(t, before[0].RunID, after[0].RunID)

	assert.Equal(t, uint64(1), p.monitor.Counters().Errors)
	assert.Equal(t, uint64(7), p.monitor.Counters().Messages)
}

func TestHandle_OutOfRangeTimestampDoesNotBlockForecasts(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for _, ts := range []string{`1e300`, `-1e300`} {
		out := p.coordinator.Handle(ctx, []byte(`{"timestamp":`+ts+`,"location":"hanoi","temperature":25,"humidity":70,"pm25":12,"pm10":30,"no2":8,"so2":3,"co":0.5}`))
		assert.Equal(t, Errored, out.State, ts)
		assert.Equal(t, Received, out.Reached, ts)
	}

	var out Outcome
	for i := 0; i < 6; i++ {
		out = p.coordinator.Handle(ctx, payload("hanoi", baseTime.Add(time.Duration(i)*15*time.Minute), 22))
	}
	require.Equal(t, Done, out.State, "err: %v", out.Err)
	assert.Equal(t, Forecasted, out.Reached)
	assert.Equal(t, uint64(2), p.monitor.Counters().Errors)
}

func TestHandle_CancelledIsNotCountedAsError(t *testing.T) {
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	p.classifier.onClassify = cancel
	p.classifier.err = context.Canceled

	out := p.coordinator.Handle(ctx, payload("hanoi", baseTime, 20))
	assert.Equal(t, Errored, out.State)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, uint64(0), p.monitor.Counters().Errors)
}

func TestHandle_InvalidPayload(t *testing.T) {
	p := newPipeline(t)

	for _, body := range []string{
		`not json`,
		`{"temperature":25}`,
		`{"timestamp":"yesterday","temperature":25,"humidity":70,"pm25":12,"pm10":30,"no2":8,"so2":3,"co":0.5}`,
	} {
		out := p.coordinator.Handle(context.Background(), []byte(body))
		assert.Equal(t, Errored, out.State, body)
		assert.Equal(t, Received, out.Reached, body)

		var verr *protocol.ValidationError
		assert.ErrorAs(t, out.Err, &verr, body)
	}

	assert.Zero(t, p.classifier.calls)
	assert.Equal(t, uint64(3), p.monitor.Counters().Errors)
	assert.Equal(t, uint64(3), p.monitor.Counters().Messages)
}
