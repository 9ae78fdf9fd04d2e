package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SeriesPoint is one rounded value of a series. It encodes as
// [timestamp, location, value].
type SeriesPoint struct {
	Timestamp time.Time
	Location  string
	Value     float64
}

func (p SeriesPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.Timestamp, p.Location, p.Value})
}

// LatestReading is the newest classified reading. It encodes as
// [timestamp, location, temperature, humidity, pm25, pm10, no2, so2, co, air_quality].
type LatestReading struct {
	Timestamp   time.Time
	Location    string
	Temperature float64
	Humidity    float64
	PM25        float64
	PM10        float64
	NO2         float64
	SO2         float64
	CO          float64
	AirQuality  int
}

func (r LatestReading) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{
		r.Timestamp, r.Location, r.Temperature,
		r.Humidity, r.PM25, r.PM10, r.NO2, r.SO2, r.CO,
		r.AirQuality,
	})
}

// Location is a location as listed to clients.
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Store is the read side of the pipeline's tables. An empty location means
// all locations.
type Store interface {
	Ping(ctx context.Context) error
	LatestReading(ctx context.Context, location string) (*LatestReading, error)
	Forecast(ctx context.Context, location string) ([]SeriesPoint, error)
	LatestSeed(ctx context.Context, location string, limit int) ([]SeriesPoint, error)
	LatestParameter(ctx context.Context, parameter, location string, limit int) ([]SeriesPoint, error)
	Locations(ctx context.Context) ([]string, error)
}

// PgStore serves Store from PostgreSQL through a pgx pool.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a store on a new connection pool
func NewPgStore(ctx context.Context, databaseURL string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return &PgStore{pool: pool}, nil
}

// Close closes the pool
func (s *PgStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const latestReadingSQL = `
    SELECT timestamp, location, ROUND(temperature::numeric, 2)::float8,
           ROUND(humidity::numeric, 2)::float8, ROUND(pm25::numeric, 2)::float8,
           ROUND(pm10::numeric, 2)::float8, ROUND(no2::numeric, 2)::float8,
           ROUND(so2::numeric, 2)::float8, ROUND(co::numeric, 2)::float8, air_quality
    FROM air_quality_data
    WHERE ($1::text = '' OR location = $1::text)
    ORDER BY timestamp DESC
    LIMIT 1
`

func (s *PgStore) LatestReading(ctx context.Context, location string) (*LatestReading, error) {
	var r LatestReading
	err := s.pool.QueryRow(ctx, latestReadingSQL, location).Scan(
		&r.Timestamp,
		&r.Location,
		&r.Temperature,
		&r.Humidity,
		&r.PM25,
		&r.PM10,
		&r.NO2,
		&r.SO2,
		&r.CO,
		&r.AirQuality,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const forecastSQL = `
    SELECT timestamp, location, ROUND(temperature::numeric, 2)::float8
    FROM forecast_points
    WHERE ($1::text = '' OR location = $1::text)
    ORDER BY location, timestamp
`

// Forecast returns the stored forecast in time order.
func (s *PgStore) Forecast(ctx context.Context, location string) ([]SeriesPoint, error) {
	return s.series(ctx, forecastSQL, location)
}

const latestSeedSQL = `
    SELECT timestamp, location, ROUND(temperature::numeric, 2)::float8
    FROM forecast_seed
    WHERE ($1::text = '' OR location = $1::text)
    ORDER BY timestamp DESC
    LIMIT $2
`

// LatestSeed returns the newest observed temperatures feeding the forecast,
// newest first.
func (s *PgStore) LatestSeed(ctx context.Context, location string, limit int) ([]SeriesPoint, error) {
	return s.series(ctx, latestSeedSQL, location, limit)
}

const latestParameterSQL = `
    SELECT timestamp, location, ROUND(value::numeric, 2)::float8
    FROM parameter_samples
    WHERE parameter = $1 AND ($2::text = '' OR location = $2::text)
    ORDER BY timestamp DESC
    LIMIT $3
`

func (s *PgStore) LatestParameter(ctx context.Context, parameter, location string, limit int) ([]SeriesPoint, error) {
	return s.series(ctx, latestParameterSQL, parameter, location, limit)
}

func (s *PgStore) series(ctx context.Context, sql string, args ...interface{}) ([]SeriesPoint, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]SeriesPoint, 0)
	for rows.Next() {
		var p SeriesPoint
		if err := rows.Scan(&p.Timestamp, &p.Location, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *PgStore) Locations(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT location FROM air_quality_data ORDER BY location`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make([]string, 0)
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}
