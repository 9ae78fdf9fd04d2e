package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const DefaultLocation = "default"

// Parameter names in classifier input order.
const (
	ParamTemperature = "temperature"
	ParamHumidity    = "humidity"
	ParamPM25        = "pm25"
	ParamPM10        = "pm10"
	ParamNO2         = "no2"
	ParamSO2         = "so2"
	ParamCO          = "co"
)

var Parameters = []string{ParamTemperature, ParamHumidity, ParamPM25, ParamPM10, ParamNO2, ParamSO2, ParamCO}

// ReadingMessage is the JSON payload published by sensors. Unknown fields
// are ignored.
type ReadingMessage struct {
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
	Location    *string         `json:"location,omitempty"`
	Temperature *float64        `json:"temperature"`
	Humidity    *float64        `json:"humidity"`
	PM25        *float64        `json:"pm25"`
	PM10        *float64        `json:"pm10"`
	NO2         *float64        `json:"no2"`
	SO2         *float64        `json:"so2"`
	CO          *float64        `json:"co"`
}

// Reading is a normalized sensor reading. Timestamp is always UTC.
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	Location    string    `json:"location"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	PM25        float64   `json:"pm25"`
	PM10        float64   `json:"pm10"`
	NO2         float64   `json:"no2"`
	SO2         float64   `json:"so2"`
	CO          float64   `json:"co"`
}

// ClassifiedReading is a Reading with its predicted air-quality class.
type ClassifiedReading struct {
	Reading
	AirQuality int `json:"air_quality"`
}

// Features returns the measurements in Parameters order.
func (r Reading) Features() []float64 {
	return []float64{r.Temperature, r.Humidity, r.PM25, r.PM10, r.NO2, r.SO2, r.CO}
}

// ValidationError reports a payload that cannot be turned into a Reading.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid reading: %s %s", e.Field, e.Reason)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// DecodeReading parses and normalizes a payload. Missing location and
// timestamp are filled with "default" and now; a timestamp without a zone is
// taken as UTC.
func DecodeReading(data []byte, now time.Time) (Reading, error) {
	var msg ReadingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Reading{}, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return msg.Normalize(now)
}

// Normalize validates the measurements and applies defaults.
func (m *ReadingMessage) Normalize(now time.Time) (Reading, error) {
	r := Reading{Location: DefaultLocation, Timestamp: now.UTC()}

	if m.Location != nil && strings.TrimSpace(*m.Location) != "" {
		r.Location = strings.TrimSpace(*m.Location)
	}

	if ts, ok, err := parseTimestamp(m.Timestamp); err != nil {
		return Reading{}, err
	} else if ok {
		r.Timestamp = ts
	}

	fields := []struct {
		name string
		src  *float64
		dst  *float64
	}{
		{ParamTemperature, m.Temperature, &r.Temperature},
		{ParamHumidity, m.Humidity, &r.Humidity},
		{ParamPM25, m.PM25, &r.PM25},
		{ParamPM10, m.PM10, &r.PM10},
		{ParamNO2, m.NO2, &r.NO2},
		{ParamSO2, m.SO2, &r.SO2},
		{ParamCO, m.CO, &r.CO},
	}
	for _, f := range fields {
		if f.src == nil {
			return Reading{}, &ValidationError{Field: f.name, Reason: "is required"}
		}
		if math.IsNaN(*f.src) || math.IsInf(*f.src, 0) {
			return Reading{}, &ValidationError{Field: f.name, Reason: "is not a finite number"}
		}
		*f.dst = *f.src
	}

	return r, nil
}

// Timestamps outside years 1..9999 cannot be stored by every driver.
var (
	minTimestamp = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
)

func checkTimestampRange(ts time.Time) (time.Time, bool, error) {
	if ts.Before(minTimestamp) || ts.After(maxTimestamp) {
		return time.Time{}, false, &ValidationError{Field: "timestamp", Reason: "is outside years 1 to 9999"}
	}
	return ts, true, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false, nil
	}

	// Unix seconds, possibly fractional.
	if raw[0] != '"' {
		secs, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return time.Time{}, false, &ValidationError{Field: "timestamp", Reason: "must be a string or unix seconds"}
		}
		if math.IsNaN(secs) || math.IsInf(secs, 0) ||
			secs < float64(minTimestamp.Unix()) || secs > float64(maxTimestamp.Unix()) {
			return time.Time{}, false, &ValidationError{Field: "timestamp", Reason: "is outside years 1 to 9999"}
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false, &ValidationError{Field: "timestamp", Reason: err.Error()}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return checkTimestampRange(ts.UTC())
		}
	}
	return time.Time{}, false, &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("has unrecognized format %q", s)}
}
