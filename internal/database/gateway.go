package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/smukkama/airquality-pipeline/internal/protocol"
	"github.com/smukkama/airquality-pipeline/internal/telemetry"
)

// ErrInsufficientSeed is returned by LoadSeedWindow when the location has
// fewer seed points than requested. It is not counted as a failure.
var ErrInsufficientSeed = errors.New("insufficient seed points")

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op       string
	Location string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s for %s: %v", e.Op, e.Location, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Gateway is the pipeline's only path to the store. Every write runs in a
// single transaction and reports its duration or failure to the monitor.
type Gateway struct {
	db      *DB
	monitor *telemetry.Monitor
}

// NewGateway creates a gateway over db that reports to monitor
func NewGateway(db *DB, monitor *telemetry.Monitor) *Gateway {
	return &Gateway{db: db, monitor: monitor}
}

const insertReadingSQL = `
	INSERT INTO air_quality_data (
		timestamp, location, temperature, humidity, pm25, pm10, no2, so2, co, air_quality
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (location, timestamp) DO NOTHING
`

const insertSampleSQL = `
	INSERT INTO parameter_samples (parameter, location, timestamp, value)
	VALUES (:parameter, :location, :timestamp, :value)
`

const insertSeedSQL = `
	INSERT INTO forecast_seed (timestamp, location, temperature, day_sin, day_cos, year_sin, year_cos)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (location, timestamp) DO NOTHING
`

// SaveClassified writes the reading, its seven parameter samples and its
// seed point in one transaction. A reading already stored for the same
// location and timestamp is left as it is, so redelivery writes nothing.
func (g *Gateway) SaveClassified(ctx context.Context, r protocol.ClassifiedReading) error {
	ts := r.Timestamp.UTC()

	return g.write(ctx, "save classified reading", r.Location, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(insertReadingSQL),
			ts, r.Location, r.Temperature, r.Humidity, r.PM25, r.PM10, r.NO2, r.SO2, r.CO, r.AirQuality,
		)
		if err != nil {
			return fmt.Errorf("insert reading: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert reading: %w", err)
		}
		if inserted == 0 {
			return nil
		}

		values := r.Features()
		samples := make([]ParameterSample, len(protocol.Parameters))
		for i, name := range protocol.Parameters {
			samples[i] = ParameterSample{Parameter: name, Location: r.Location, Timestamp: ts, Value: values[i]}
		}
		if _, err := tx.NamedExecContext(ctx, insertSampleSQL, samples); err != nil {
			return fmt.Errorf("insert parameter samples: %w", err)
		}

		return insertSeed(ctx, tx, r.Location, NewSeedPoint(ts, r.Temperature))
	})
}

// AppendSeed adds one seed point for location. A point at an existing
// timestamp is ignored.
func (g *Gateway) AppendSeed(ctx context.Context, location string, p SeedPoint) error {
	return g.write(ctx, "append seed", location, func(tx *sqlx.Tx) error {
		return insertSeed(ctx, tx, location, p)
	})
}

func insertSeed(ctx context.Context, tx *sqlx.Tx, location string, p SeedPoint) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(insertSeedSQL),
		p.Timestamp.UTC(), location, p.Temperature, p.DaySin, p.DayCos, p.YearSin, p.YearCos,
	); err != nil {
		return fmt.Errorf("insert seed point: %w", err)
	}
	return nil
}

const selectSeedWindowSQL = `
	SELECT timestamp, temperature, day_sin, day_cos, year_sin, year_cos
	FROM forecast_seed
	WHERE location = ?
	ORDER BY timestamp DESC, id DESC
	LIMIT ?
`

// LoadSeedWindow returns the w most recent seed points for location, oldest
// first. With fewer than w points available it returns what exists together
// with ErrInsufficientSeed.
func (g *Gateway) LoadSeedWindow(ctx context.Context, location string, w int) ([]SeedPoint, error) {
	if w <= 0 {
		return nil, fmt.Errorf("seed window size must be positive, got %d", w)
	}

	var points []SeedPoint
	if err := g.db.SelectContext(ctx, &points, g.db.Rebind(selectSeedWindowSQL), location, w); err != nil {
		return nil, g.monitor.RecordError(&PersistenceError{Op: "load seed window", Location: location, Err: err})
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	for i := range points {
		points[i].Timestamp = points[i].Timestamp.UTC()
	}

	if len(points) < w {
		return points, ErrInsufficientSeed
	}
	return points, nil
}

const deleteForecastSQL = `DELETE FROM forecast_points WHERE location = ?`

const insertForecastSQL = `
	INSERT INTO forecast_points (
		run_id, timestamp, location, temperature, day_sin, day_cos, year_sin, year_cos
	) VALUES (
		:run_id, :timestamp, :location, :temperature, :day_sin, :day_cos, :year_sin, :year_cos
	)
`

// ReplaceForecast atomically swaps the stored forecast for location with
// points. Readers see either the old set or the new one.
func (g *Gateway) ReplaceForecast(ctx context.Context, location string, points []ForecastPoint) error {
	if len(points) == 0 {
		return g.monitor.RecordError(&PersistenceError{
			Op: "replace forecast", Location: location, Err: errors.New("no forecast points"),
		})
	}

	runID := uuid.New().String()
	rows := make([]ForecastPoint, len(points))
	for i, p := range points {
		p.RunID = runID
		p.Location = location
		p.Timestamp = p.Timestamp.UTC()
		rows[i] = p
	}

	return g.write(ctx, "replace forecast", location, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(deleteForecastSQL), location); err != nil {
			return fmt.Errorf("delete forecast: %w", err)
		}
		if _, err := tx.NamedExecContext(ctx, insertForecastSQL, rows); err != nil {
			return fmt.Errorf("insert forecast: %w", err)
		}
		return nil
	})
}

const selectForecastSQL = `
	SELECT run_id, timestamp, location, temperature, day_sin, day_cos, year_sin, year_cos
	FROM forecast_points
	WHERE location = ?
	ORDER BY timestamp ASC
`

// LoadForecast returns the stored forecast for location in time order.
func (g *Gateway) LoadForecast(ctx context.Context, location string) ([]ForecastPoint, error) {
	var points []ForecastPoint
	if err := g.db.SelectContext(ctx, &points, g.db.Rebind(selectForecastSQL), location); err != nil {
		return nil, g.monitor.RecordError(&PersistenceError{Op: "load forecast", Location: location, Err: err})
	}
	for i := range points {
		points[i].Timestamp = points[i].Timestamp.UTC()
	}
	return points, nil
}

type readingRow struct {
	Timestamp   time.Time `db:"timestamp"`
	Location    string    `db:"location"`
	Temperature float64   `db:"temperature"`
	Humidity    float64   `db:"humidity"`
	PM25        float64   `db:"pm25"`
	PM10        float64   `db:"pm10"`
	NO2         float64   `db:"no2"`
	SO2         float64   `db:"so2"`
	CO          float64   `db:"co"`
	AirQuality  int       `db:"air_quality"`
}

const selectRecentReadingsSQL = `
	SELECT timestamp, location, temperature, humidity, pm25, pm10, no2, so2, co, air_quality
	FROM air_quality_data
	WHERE location = ?
	ORDER BY timestamp DESC, id DESC
	LIMIT ?
`

// RecentReadings returns up to limit classified readings, newest first.
func (g *Gateway) RecentReadings(ctx context.Context, location string, limit int) ([]protocol.ClassifiedReading, error) {
	var rows []readingRow
	if err := g.db.SelectContext(ctx, &rows, g.db.Rebind(selectRecentReadingsSQL), location, limit); err != nil {
		return nil, g.monitor.RecordError(&PersistenceError{Op: "load readings", Location: location, Err: err})
	}

	out := make([]protocol.ClassifiedReading, len(rows))
	for i, r := range rows {
		out[i] = protocol.ClassifiedReading{
			Reading: protocol.Reading{
				Timestamp:   r.Timestamp.UTC(),
				Location:    r.Location,
				Temperature: r.Temperature,
				Humidity:    r.Humidity,
				PM25:        r.PM25,
				PM10:        r.PM10,
				NO2:         r.NO2,
				SO2:         r.SO2,
				CO:          r.CO,
			},
			AirQuality: r.AirQuality,
		}
	}
	return out, nil
}

const selectRecentSamplesSQL = `
	SELECT parameter, location, timestamp, value
	FROM parameter_samples
	WHERE parameter = ? AND location = ?
	ORDER BY timestamp DESC, id DESC
	LIMIT ?
`

// RecentSamples returns up to limit samples of parameter, newest first.
func (g *Gateway) RecentSamples(ctx context.Context, parameter, location string, limit int) ([]ParameterSample, error) {
	var samples []ParameterSample
	if err := g.db.SelectContext(ctx, &samples, g.db.Rebind(selectRecentSamplesSQL), parameter, location, limit); err != nil {
		return nil, g.monitor.RecordError(&PersistenceError{Op: "load samples", Location: location, Err: err})
	}
	for i := range samples {
		samples[i].Timestamp = samples[i].Timestamp.UTC()
	}
	return samples, nil
}

const insertSnapshotSQL = `
	INSERT INTO performance_stats (
		timestamp, uptime_hours, total_messages, total_classifications, total_forecasts,
		total_db_operations, error_count, error_rate, messages_per_hour,
		classifications_per_hour, forecasts_per_hour,
		avg_processing_time, max_processing_time,
		avg_classification_time, max_classification_time,
		avg_forecast_time, max_forecast_time,
		avg_persistence_time, max_persistence_time,
		cpu_percent, memory_percent, disk_percent
	) VALUES (
		:timestamp, :uptime_hours, :total_messages, :total_classifications, :total_forecasts,
		:total_db_operations, :error_count, :error_rate, :messages_per_hour,
		:classifications_per_hour, :forecasts_per_hour,
		:avg_processing_time, :max_processing_time,
		:avg_classification_time, :max_classification_time,
		:avg_forecast_time, :max_forecast_time,
		:avg_persistence_time, :max_persistence_time,
		:cpu_percent, :memory_percent, :disk_percent
	)
`

// SaveSnapshot stores snap as an audit row. Callers treat failure as non-fatal.
func (g *Gateway) SaveSnapshot(ctx context.Context, snap telemetry.Snapshot) error {
	processing := snap.Stage(telemetry.StageProcessing)
	classification := snap.Stage(telemetry.StageClassification)
	forecast := snap.Stage(telemetry.StageForecast)
	persistence := snap.Stage(telemetry.StagePersistence)

	row := performanceRow{
		Timestamp:              snap.Timestamp.UTC(),
		UptimeHours:            snap.UptimeHours,
		TotalMessages:          int64(snap.Messages),
		TotalClassifications:   int64(snap.Classifications),
		TotalForecasts:         int64(snap.Forecasts),
		TotalDBOperations:      int64(snap.DBOps),
		ErrorCount:             int64(snap.Errors),
		ErrorRate:              snap.ErrorRate,
		MessagesPerHour:        snap.MessagesPerHour,
		ClassificationsPerHour: snap.ClassificationsPerHour,
		ForecastsPerHour:       snap.ForecastsPerHour,
		AvgProcessingTime:      processing.Mean,
		MaxProcessingTime:      processing.Max,
		AvgClassificationTime:  classification.Mean,
		MaxClassificationTime:  classification.Max,
		AvgForecastTime:        forecast.Mean,
		MaxForecastTime:        forecast.Max,
		AvgPersistenceTime:     persistence.Mean,
		MaxPersistenceTime:     persistence.Max,
	}
	if r := snap.Resources; r != nil {
		row.CPUPercent = &r.CPUPercent
		row.MemoryPercent = &r.MemoryPercent
		row.DiskPercent = &r.DiskPercent
	}

	return g.write(ctx, "save performance snapshot", "", func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, insertSnapshotSQL, row)
		return err
	})
}

// SnapshotCount returns the number of stored performance rows.
func (g *Gateway) SnapshotCount(ctx context.Context) (int, error) {
	var n int
	if err := g.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM performance_stats`); err != nil {
		return 0, err
	}
	return n, nil
}

func (g *Gateway) write(ctx context.Context, op, location string, fn func(tx *sqlx.Tx) error) error {
	start := time.Now()
	if err := g.db.InTx(ctx, fn); err != nil {
		return g.monitor.RecordError(&PersistenceError{Op: op, Location: location, Err: err})
	}
	g.monitor.Since(telemetry.StagePersistence, start)
	return nil
}
