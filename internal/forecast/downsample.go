package forecast

import (
	"time"

	"github.com/smukkama/airquality-pipeline/internal/database"
)

// HourlyMean is the running average of the predictions in one clock hour.
type HourlyMean struct {
	Hour  time.Time
	Sum   float64
	Count int
}

func (h HourlyMean) Mean() float64 {
	if h.Count == 0 {
		return 0
	}
	return h.Sum / float64(h.Count)
}

// DownsampleBatch averages one batch of time-ordered predictions per UTC
// clock hour.
func DownsampleBatch(batch []Prediction) []HourlyMean {
	var out []HourlyMean
	for _, p := range batch {
		hour := p.Timestamp.UTC().Truncate(time.Hour)
		if n := len(out); n > 0 && out[n-1].Hour.Equal(hour) {
			out[n-1].Sum += p.Temperature
			out[n-1].Count++
			continue
		}
		out = append(out, HourlyMean{Hour: hour, Sum: p.Temperature, Count: 1})
	}
	return out
}

// Downsample processes predictions in batches of batchSize and returns one
// point per hour. An hour cut in two by a batch boundary is merged into a
// single point weighted by sample count.
func Downsample(location string, preds []Prediction, batchSize int) []database.ForecastPoint {
	if batchSize <= 0 {
		batchSize = len(preds)
	}

	var hours []HourlyMean
	for start := 0; start < len(preds); start += batchSize {
		end := start + batchSize
		if end > len(preds) {
			end = len(preds)
		}

		for _, h := range DownsampleBatch(preds[start:end]) {
			if n := len(hours); n > 0 && hours[n-1].Hour.Equal(h.Hour) {
				hours[n-1].Sum += h.Sum
				hours[n-1].Count += h.Count
				continue
			}
			hours = append(hours, h)
		}
	}

	points := make([]database.ForecastPoint, len(hours))
	for i, h := range hours {
		points[i] = database.NewForecastPoint(location, h.Hour, h.Mean())
	}
	return points
}
