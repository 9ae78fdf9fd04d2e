package telemetry

import (
	"fmt"
	"time"
)

type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert codes, stable across releases so downstream dedupe keys survive.
const (
	AlertSlowProcessing = "slow_processing"
	AlertErrorRate      = "error_rate"
	AlertSlowForecast   = "slow_forecast"
	AlertHighCPU        = "high_cpu"
	AlertHighMemory     = "high_memory"
	AlertLowDisk        = "low_disk"
)

// Alert is advisory. Nothing in the pipeline acts on it besides reporting.
type Alert struct {
	Code      string   `json:"code"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
}

func (a Alert) String() string {
	return fmt.Sprintf("%s: %s", a.Severity, a.Message)
}

// Thresholds configures CheckAlerts. A zero field disables its rule.
type Thresholds struct {
	ProcessingMean time.Duration
	ErrorRate      float64 // percent
	ForecastMean   time.Duration
	CPUPercent     float64
	MemoryPercent  float64
	DiskPercent    float64
}

// DefaultThresholds returns the built-in alert limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ProcessingMean: 30 * time.Second,
		ErrorRate:      5,
		ForecastMean:   300 * time.Second,
		CPUPercent:     80,
		MemoryPercent:  85,
		DiskPercent:    90,
	}
}

// CheckAlerts evaluates snap against the thresholds. Resource rules are
// skipped when the snapshot carries no resource reading.
func CheckAlerts(snap Snapshot, th Thresholds) []Alert {
	var alerts []Alert

	if processing := snap.Stage(StageProcessing); th.ProcessingMean > 0 && processing.Samples > 0 {
		limit := th.ProcessingMean.Seconds()
		if processing.Mean > limit {
			alerts = append(alerts, Alert{
				Code:      AlertSlowProcessing,
				Severity:  SeverityWarning,
				Message:   fmt.Sprintf("Average processing time is %.2fs (> %.0fs)", processing.Mean, limit),
				Value:     processing.Mean,
				Threshold: limit,
			})
		}
	}

	if th.ErrorRate > 0 && snap.ErrorRate > th.ErrorRate {
		alerts = append(alerts, Alert{
			Code:      AlertErrorRate,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("Error rate is %.1f%% (> %.0f%%)", snap.ErrorRate, th.ErrorRate),
			Value:     snap.ErrorRate,
			Threshold: th.ErrorRate,
		})
	}

	if forecast := snap.Stage(StageForecast); th.ForecastMean > 0 && forecast.Samples > 0 {
		limit := th.ForecastMean.Seconds()
		if forecast.Mean > limit {
			alerts = append(alerts, Alert{
				Code:      AlertSlowForecast,
				Severity:  SeverityWarning,
				Message:   fmt.Sprintf("Forecast run is taking %.1fs on average (> %.0fs)", forecast.Mean, limit),
				Value:     forecast.Mean,
				Threshold: limit,
			})
		}
	}

	r := snap.Resources
	if r == nil {
		return alerts
	}

	if th.CPUPercent > 0 && r.CPUPercent > th.CPUPercent {
		alerts = append(alerts, Alert{
			Code:      AlertHighCPU,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("High CPU usage: %.1f%%", r.CPUPercent),
			Value:     r.CPUPercent,
			Threshold: th.CPUPercent,
		})
	}

	if th.MemoryPercent > 0 && r.MemoryPercent > th.MemoryPercent {
		alerts = append(alerts, Alert{
			Code:      AlertHighMemory,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("High memory usage: %.1f%%", r.MemoryPercent),
			Value:     r.MemoryPercent,
			Threshold: th.MemoryPercent,
		})
	}

	if th.DiskPercent > 0 && r.DiskPercent > th.DiskPercent {
		alerts = append(alerts, Alert{
			Code:      AlertLowDisk,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("Low disk space: %.1f GB free (%.1f%% used)", r.DiskFreeGB, r.DiskPercent),
			Value:     r.DiskPercent,
			Threshold: th.DiskPercent,
		})
	}

	return alerts
}
