package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/protocol"
	"github.com/smukkama/airquality-pipeline/internal/telemetry"
)

func newTestGateway(t *testing.T) (*Gateway, *DB, *telemetry.Monitor) {
	t.Helper()
	db, err := Connect(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(zap.NewNop()))

	monitor := telemetry.NewMonitor(100)
	return NewGateway(db, monitor), db, monitor
}

var baseTime = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func classified(location string, ts time.Time, temp float64) protocol.ClassifiedReading {
	return protocol.ClassifiedReading{
		Reading: protocol.Reading{
			Timestamp:   ts,
			Location:    location,
			Temperature: temp,
			Humidity:    60, PM25: 10, PM10: 20, NO2: 5, SO2: 2, CO: 1,
		},
		AirQuality: 1,
	}
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect("oracle", "x")
	assert.Error(t, err)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	_, db, _ := newTestGateway(t)
	assert.NoError(t, db.RunMigrations(zap.NewNop()))
}

func TestGateway_SaveClassifiedRoundTrip(t *testing.T) {
	g, _, monitor := newTestGateway(t)
	ctx := context.Background()

	in := classified("hanoi", baseTime, 25.5)
	require.NoError(t, g.SaveClassified(ctx, in))

	seeds, err := g.LoadSeedWindow(ctx, "hanoi", 1)
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, 25.5, seeds[0].Temperature)
	assert.True(t, baseTime.Equal(seeds[0].Timestamp))
	assert.Equal(t, NewSeedPoint(baseTime, 25.5).Cyclical(), seeds[0].Cyclical())

	readings, err := g.RecentReadings(ctx, "hanoi", 10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, in.Features(), readings[0].Features())
	assert.Equal(t, 1, readings[0].AirQuality)

	for i, name := range protocol.Parameters {
		samples, err := g.RecentSamples(ctx, name, "hanoi", 10)
		require.NoError(t, err)
		require.Len(t, samples, 1, name)
		assert.Equal(t, in.Features()[i], samples[0].Value, name)
	}

	c := monitor.Counters()
	assert.Equal(t, uint64(1), c.DBOps)
	assert.Equal(t, uint64(0), c.Errors)
}

func TestGateway_SaveClassifiedIsAtomic(t *testing.T) {
	g, db, monitor := newTestGateway(t)
	ctx := context.Background()

	_, err := db.Exec(`DROP TABLE parameter_samples`)
	require.NoError(t, err)

	err = g.SaveClassified(ctx, classified("hanoi", baseTime, 20))
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "hanoi", perr.Location)
	assert.True(t, telemetry.IsRecorded(err))

	readings, err := g.RecentReadings(ctx, "hanoi", 10)
	require.NoError(t, err)
	assert.Empty(t, readings)

	seeds, err := g.LoadSeedWindow(ctx, "hanoi", 1)
	assert.ErrorIs(t, err, ErrInsufficientSeed)
	assert.Empty(t, seeds)

	assert.Equal(t, uint64(1), monitor.Counters().Errors)
	assert.Equal(t, uint64(0), monitor.Counters().DBOps)
}

func TestGateway_SaveClassifiedRedeliveryIsIdempotent(t *testing.T) {
	g, _, monitor := newTestGateway(t)
	ctx := context.Background()

	in := classified("hanoi", baseTime, 25.5)
	require.NoError(t, g.SaveClassified(ctx, in))
	require.NoError(t, g.SaveClassified(ctx, in))
	require.NoError(t, g.SaveClassified(ctx, classified("hanoi", baseTime.Add(15*time.Minute), 26)))

	readings, err := g.RecentReadings(ctx, "hanoi", 10)
	require.NoError(t, err)
	assert.Len(t, readings, 2)

	samples, err := g.RecentSamples(ctx, protocol.ParamPM25, "hanoi", 10)
	require.NoError(t, err)
	assert.Len(t, samples, 2)

	window, err := g.LoadSeedWindow(ctx, "hanoi", 2)
	require.NoError(t, err)
	assert.Equal(t, 25.5, window[0].Temperature)
	assert.Equal(t, 26.0, window[1].Temperature)

	_, err = g.LoadSeedWindow(ctx, "hanoi", 3)
	assert.ErrorIs(t, err, ErrInsufficientSeed)
	assert.Equal(t, uint64(0), monitor.Counters().Errors)
}

func TestGateway_LoadSeedWindowOrdering(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	// Insert out of order; the window is by timestamp, not insertion.
	for _, i := range []int{3, 0, 7, 1, 5, 2, 6, 4} {
		ts := baseTime.Add(time.Duration(i) * 15 * time.Minute)
		require.NoError(t, g.AppendSeed(ctx, "hue", NewSeedPoint(ts, float64(i))))
	}
	require.NoError(t, g.AppendSeed(ctx, "other", NewSeedPoint(baseTime.Add(24*time.Hour), 99)))

	window, err := g.LoadSeedWindow(ctx, "hue", 6)
	require.NoError(t, err)
	require.Len(t, window, 6)
	for i, p := range window {
		assert.Equal(t, float64(i+2), p.Temperature)
	}
	for i := 1; i < len(window); i++ {
		assert.True(t, window[i].Timestamp.After(window[i-1].Timestamp))
	}
}

func TestGateway_LoadSeedWindowInsufficient(t *testing.T) {
	g, _, monitor := newTestGateway(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, g.AppendSeed(ctx, "default", NewSeedPoint(baseTime.Add(time.Duration(i)*time.Minute), 20)))
	}

	window, err := g.LoadSeedWindow(ctx, "default", 6)
	assert.ErrorIs(t, err, ErrInsufficientSeed)
	assert.Len(t, window, 5)
	assert.Equal(t, uint64(0), monitor.Counters().Errors)

	_, err = g.LoadSeedWindow(ctx, "default", 0)
	assert.Error(t, err)
}

func forecastPoints(location string, start time.Time, temps ...float64) []ForecastPoint {
	points := make([]ForecastPoint, len(temps))
	for i, temp := range temps {
		points[i] = NewForecastPoint(location, start.Add(time.Duration(i)*time.Hour), temp)
	}
	return points
}

func assertForecast(t *testing.T, want, got []ForecastPoint) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp), "point %d timestamp", i)
		assert.Equal(t, want[i].Location, got[i].Location)
		assert.Equal(t, want[i].Temperature, got[i].Temperature)
		assert.Equal(t, want[i].DaySin, got[i].DaySin)
		assert.Equal(t, want[i].YearCos, got[i].YearCos)
	}
}

func TestGateway_ReplaceForecastExact(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	first := forecastPoints("hanoi", baseTime, 20, 21, 22, 23, 24)
	require.NoError(t, g.ReplaceForecast(ctx, "hanoi", first))
	require.NoError(t, g.ReplaceForecast(ctx, "saigon", forecastPoints("saigon", baseTime, 30)))

	second := forecastPoints("hanoi", baseTime.Add(2*time.Hour), 18, 19)
	require.NoError(t, g.ReplaceForecast(ctx, "hanoi", second))

	got, err := g.LoadForecast(ctx, "hanoi")
	require.NoError(t, err)
	assertForecast(t, second, got)
	assert.Equal(t, got[0].RunID, got[1].RunID)
	assert.NotEmpty(t, got[0].RunID)

	other, err := g.LoadForecast(ctx, "saigon")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestGateway_ReplaceForecastRollsBack(t *testing.T) {
	g, db, monitor := newTestGateway(t)
	ctx := context.Background()

	original := forecastPoints("hanoi", baseTime, 20, 21, 22)
	require.NoError(t, g.ReplaceForecast(ctx, "hanoi", original))

	_, err := db.Exec(`
		CREATE TRIGGER reject_hot BEFORE INSERT ON forecast_points
		WHEN NEW.temperature > 1000
		BEGIN SELECT RAISE(ABORT, 'implausible temperature'); END
	`)
	require.NoError(t, err)

	err = g.ReplaceForecast(ctx, "hanoi", forecastPoints("hanoi", baseTime, 10, 5000))
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "replace forecast", perr.Op)

	got, err := g.LoadForecast(ctx, "hanoi")
	require.NoError(t, err)
	assertForecast(t, original, got)
	assert.Equal(t, uint64(1), monitor.Counters().Errors)
}

func TestGateway_ReplaceForecastRejectsEmpty(t *testing.T) {
	g, _, _ := newTestGateway(t)
	err := g.ReplaceForecast(context.Background(), "hanoi", nil)
	var perr *PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestGateway_SaveSnapshot(t *testing.T) {
	g, _, monitor := newTestGateway(t)
	ctx := context.Background()

	monitor.Record(telemetry.StageProcessing, 2*time.Second)
	_ = monitor.RecordError(errors.New("x"))
	snap := monitor.Snapshot()
	snap.Resources = &telemetry.Resources{CPUPercent: 10, MemoryPercent: 20, DiskPercent: 30}

	require.NoError(t, g.SaveSnapshot(ctx, snap))
	require.NoError(t, g.SaveSnapshot(ctx, telemetry.Snapshot{Timestamp: baseTime}))

	n, err := g.SnapshotCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
