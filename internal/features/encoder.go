package features

import (
	"math"
	"time"
)

const (
	// Day is the diurnal period in seconds.
	Day = 24 * 60 * 60.0
	// Year is the mean tropical year in seconds.
	Year = 365.2425 * Day
)

// Cyclical holds the sine/cosine phase of a timestamp within a day and a year.
type Cyclical struct {
	DaySin  float64 `json:"day_sin"`
	DayCos  float64 `json:"day_cos"`
	YearSin float64 `json:"year_sin"`
	YearCos float64 `json:"year_cos"`
}

// EncodeTime maps t onto its daily and yearly phase.
func EncodeTime(t time.Time) Cyclical {
	seconds := float64(t.Unix()) + float64(t.Nanosecond())/1e9

	day := seconds * (2 * math.Pi / Day)
	year := seconds * (2 * math.Pi / Year)

	return Cyclical{
		DaySin:  math.Sin(day),
		DayCos:  math.Cos(day),
		YearSin: math.Sin(year),
		YearCos: math.Cos(year),
	}
}

// Slice returns the features in model input order.
func (c Cyclical) Slice() []float64 {
	return []float64{c.DaySin, c.DayCos, c.YearSin, c.YearCos}
}
