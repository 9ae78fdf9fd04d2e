package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExportError wraps a failure to write a telemetry export. It is never fatal.
type ExportError struct {
	Path string
	Err  error
}

func (e *ExportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("telemetry export failed: %v", e.Err)
	}
	return fmt.Sprintf("telemetry export to %s failed: %v", e.Path, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Report is the document written by Export.
type Report struct {
	Timestamp        time.Time  `json:"timestamp"`
	PerformanceStats Snapshot   `json:"performance_stats"`
	SystemResources  *Resources `json:"system_resources"`
	Alerts           []Alert    `json:"alerts"`
}

// NewReport builds the export document for snap.
func NewReport(snap Snapshot, alerts []Alert) Report {
	if alerts == nil {
		alerts = []Alert{}
	}
	return Report{
		Timestamp:        snap.Timestamp,
		PerformanceStats: snap,
		SystemResources:  snap.Resources,
		Alerts:           alerts,
	}
}

// Export writes snap and alerts as indented JSON.
func Export(w io.Writer, snap Snapshot, alerts []Alert) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewReport(snap, alerts)); err != nil {
		return &ExportError{Err: err}
	}
	return nil
}

// ExportFile writes a performance_stats_YYYYMMDD_HHMMSS.json file into dir
// and returns its path.
func ExportFile(dir string, snap Snapshot, alerts []Alert) (string, error) {
	name := fmt.Sprintf("performance_stats_%s.json", snap.Timestamp.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &ExportError{Path: path, Err: err}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", &ExportError{Path: path, Err: err}
	}

	if err := Export(f, snap, alerts); err != nil {
		f.Close()
		return "", &ExportError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &ExportError{Path: path, Err: err}
	}
	return path, nil
}

// FormatReport renders snap as the multi-line text printed by the reporter
// and at shutdown.
func FormatReport(snap Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== Performance Statistics (%s) ===\n", snap.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Uptime: %.2f hours\n", snap.UptimeHours)
	fmt.Fprintf(&b, "Messages processed: %d (%.1f/hour)\n", snap.Messages, snap.MessagesPerHour)
	fmt.Fprintf(&b, "Classifications: %d (%.1f/hour)\n", snap.Classifications, snap.ClassificationsPerHour)
	fmt.Fprintf(&b, "Forecasts: %d (%.1f/hour)\n", snap.Forecasts, snap.ForecastsPerHour)
	fmt.Fprintf(&b, "DB operations: %d\n", snap.DBOps)
	fmt.Fprintf(&b, "Errors: %d (%.2f%%)\n", snap.Errors, snap.ErrorRate)

	for _, stage := range Stages {
		st := snap.Stage(stage)
		if st.Samples == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s: avg=%.3fs min=%.3fs max=%.3fs median=%.3fs (n=%d)\n",
			stage, st.Mean, st.Min, st.Max, st.Median, st.Samples)
	}

	if r := snap.Resources; r != nil {
		fmt.Fprintf(&b, "CPU: %.1f%%  Memory: %.1f%% (%.2f/%.2f GB)  Disk: %.1f%% used, %.1f GB free\n",
			r.CPUPercent, r.MemoryPercent, r.MemoryUsedGB, r.MemoryTotalGB, r.DiskPercent, r.DiskFreeGB)
		fmt.Fprintf(&b, "Process memory: %.1f MB\n", r.ProcessMemoryMB)
	}

	return b.String()
}
