package database

import (
	"time"

	"github.com/smukkama/airquality-pipeline/internal/features"
)

// ParameterSample is one measurement of one parameter.
type ParameterSample struct {
	Parameter string    `db:"parameter" json:"parameter"`
	Location  string    `db:"location" json:"location"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Value     float64   `db:"value" json:"value"`
}

// SeedPoint is an encoded observation used to start a forecast.
type SeedPoint struct {
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Temperature float64   `db:"temperature" json:"temperature"`
	DaySin      float64   `db:"day_sin" json:"day_sin"`
	DayCos      float64   `db:"day_cos" json:"day_cos"`
	YearSin     float64   `db:"year_sin" json:"year_sin"`
	YearCos     float64   `db:"year_cos" json:"year_cos"`
}

// NewSeedPoint encodes the cyclical features of ts.
func NewSeedPoint(ts time.Time, temperature float64) SeedPoint {
	c := features.EncodeTime(ts)
	return SeedPoint{
		Timestamp:   ts.UTC(),
		Temperature: temperature,
		DaySin:      c.DaySin,
		DayCos:      c.DayCos,
		YearSin:     c.YearSin,
		YearCos:     c.YearCos,
	}
}

func (p SeedPoint) Cyclical() features.Cyclical {
	return features.Cyclical{DaySin: p.DaySin, DayCos: p.DayCos, YearSin: p.YearSin, YearCos: p.YearCos}
}

// ForecastPoint is one hourly point of a location's forecast horizon.
type ForecastPoint struct {
	RunID       string    `db:"run_id" json:"-"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Location    string    `db:"location" json:"location"`
	Temperature float64   `db:"temperature" json:"temperature"`
	DaySin      float64   `db:"day_sin" json:"day_sin"`
	DayCos      float64   `db:"day_cos" json:"day_cos"`
	YearSin     float64   `db:"year_sin" json:"year_sin"`
	YearCos     float64   `db:"year_cos" json:"year_cos"`
}

// NewForecastPoint encodes the cyclical features of ts.
func NewForecastPoint(location string, ts time.Time, temperature float64) ForecastPoint {
	c := features.EncodeTime(ts)
	return ForecastPoint{
		Timestamp:   ts.UTC(),
		Location:    location,
		Temperature: temperature,
		DaySin:      c.DaySin,
		DayCos:      c.DayCos,
		YearSin:     c.YearSin,
		YearCos:     c.YearCos,
	}
}

// performanceRow mirrors the performance_stats table.
type performanceRow struct {
	Timestamp              time.Time `db:"timestamp"`
	UptimeHours            float64   `db:"uptime_hours"`
	TotalMessages          int64     `db:"total_messages"`
	TotalClassifications   int64     `db:"total_classifications"`
	TotalForecasts         int64     `db:"total_forecasts"`
	TotalDBOperations      int64     `db:"total_db_operations"`
	ErrorCount             int64     `db:"error_count"`
	ErrorRate              float64   `db:"error_rate"`
	MessagesPerHour        float64   `db:"messages_per_hour"`
	ClassificationsPerHour float64   `db:"classifications_per_hour"`
	ForecastsPerHour       float64   `db:"forecasts_per_hour"`
	AvgProcessingTime      float64   `db:"avg_processing_time"`
	MaxProcessingTime      float64   `db:"max_processing_time"`
	AvgClassificationTime  float64   `db:"avg_classification_time"`
	MaxClassificationTime  float64   `db:"max_classification_time"`
	AvgForecastTime        float64   `db:"avg_forecast_time"`
	MaxForecastTime        float64   `db:"max_forecast_time"`
	AvgPersistenceTime     float64   `db:"avg_persistence_time"`
	MaxPersistenceTime     float64   `db:"max_persistence_time"`
	CPUPercent             *float64  `db:"cpu_percent"`
	MemoryPercent          *float64  `db:"memory_percent"`
	DiskPercent            *float64  `db:"disk_percent"`
}
