package telemetry

import (
	"sort"
	"time"
)

// StageStats summarizes the rolling window of one stage, in seconds.
type StageStats struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Median  float64 `json:"median"`
}

// Snapshot is a point-in-time view of the monitor. Resources is filled in by
// the caller when a ResourceSampler is available.
type Snapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	StartTime   time.Time `json:"start_time"`
	UptimeHours float64   `json:"uptime_hours"`
	Counters

	// ErrorRate is errors per handled message, in percent.
	ErrorRate              float64 `json:"error_rate"`
	MessagesPerHour        float64 `json:"messages_per_hour"`
	ClassificationsPerHour float64 `json:"classifications_per_hour"`
	ForecastsPerHour       float64 `json:"forecasts_per_hour"`

	Stages map[Stage]StageStats `json:"stages"`

	Resources *Resources `json:"-"`
}

// Stage returns the stats for stage, zero valued when nothing was recorded.
func (s Snapshot) Stage(stage Stage) StageStats {
	return s.Stages[stage]
}

func buildSnapshot(now, start time.Time, c Counters, samples map[Stage][]time.Duration) Snapshot {
	snap := Snapshot{
		Timestamp:   now.UTC(),
		StartTime:   start.UTC(),
		UptimeHours: now.Sub(start).Hours(),
		Counters:    c,
		Stages:      make(map[Stage]StageStats, len(samples)),
	}

	denominator := c.Messages
	if denominator == 0 {
		denominator = 1
	}
	snap.ErrorRate = float64(c.Errors) / float64(denominator) * 100

	if snap.UptimeHours > 0 {
		snap.MessagesPerHour = float64(c.Messages) / snap.UptimeHours
		snap.ClassificationsPerHour = float64(c.Classifications) / snap.UptimeHours
		snap.ForecastsPerHour = float64(c.Forecasts) / snap.UptimeHours
	}

	for stage, values := range samples {
		snap.Stages[stage] = summarize(values)
	}
	return snap
}

func summarize(values []time.Duration) StageStats {
	if len(values) == 0 {
		return StageStats{}
	}

	sorted := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sorted[i] = v.Seconds()
		sum += sorted[i]
	}
	sort.Float64s(sorted)

	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return StageStats{
		Samples: n,
		Mean:    sum / float64(n),
		Min:     sorted[0],
		Max:     sorted[n-1],
		Median:  median,
	}
}
