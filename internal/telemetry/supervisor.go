package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/timer"
)

// SnapshotStore persists snapshots as audit rows.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

// AlertSink receives the full set of alerts raised by every report, which
// may be empty once earlier alerts have cleared.
type AlertSink interface {
	Notify(ctx context.Context, alerts []Alert) error
}

type SupervisorConfig struct {
	ReportInterval  time.Duration
	PersistInterval time.Duration
	ExportDir       string
	Thresholds      Thresholds
}

// Supervisor drives the periodic report and persist ticks and owns the
// shutdown sequence. It only reads the monitor.
type Supervisor struct {
	monitor   *Monitor
	cfg       SupervisorConfig
	logger    *zap.Logger
	sampler   ResourceSampler
	store     SnapshotStore
	sink      AlertSink
	gauges    *ResourceCollector
	out       io.Writer
	scheduler *timer.Scheduler

	shutdownOnce sync.Once
}

type SupervisorOption func(*Supervisor)

func WithSampler(s ResourceSampler) SupervisorOption {
	return func(sv *Supervisor) { sv.sampler = s }
}

func WithSnapshotStore(s SnapshotStore) SupervisorOption {
	return func(sv *Supervisor) { sv.store = s }
}

func WithAlertSink(s AlertSink) SupervisorOption {
	return func(sv *Supervisor) { sv.sink = s }
}

func WithResourceGauges(c *ResourceCollector) SupervisorOption {
	return func(sv *Supervisor) { sv.gauges = c }
}

// WithOutput sets where the shutdown report is printed. Defaults to stdout.
func WithOutput(w io.Writer) SupervisorOption {
	return func(sv *Supervisor) { sv.out = w }
}

// NewSupervisor creates a supervisor for monitor. Call Start to begin ticking.
func NewSupervisor(monitor *Monitor, cfg SupervisorConfig, logger *zap.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		monitor:   monitor,
		cfg:       cfg,
		logger:    logger,
		out:       os.Stdout,
		scheduler: timer.NewScheduler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the report and persist ticks.
func (s *Supervisor) Start() error {
	if s.cfg.ReportInterval > 0 {
		if err := s.scheduler.Every("telemetry-report", s.cfg.ReportInterval, func() {
			s.Report(context.Background())
		}); err != nil {
			return fmt.Errorf("failed to schedule telemetry report: %w", err)
		}
	}
	if s.cfg.PersistInterval > 0 && s.store != nil {
		if err := s.scheduler.Every("telemetry-persist", s.cfg.PersistInterval, func() {
			s.Persist(context.Background(), s.monitor.Snapshot())
		}); err != nil {
			return fmt.Errorf("failed to schedule telemetry persist: %w", err)
		}
	}
	s.scheduler.Start()
	return nil
}

// Collect takes a snapshot and attaches a resource reading when possible.
func (s *Supervisor) Collect(ctx context.Context) Snapshot {
	snap := s.monitor.Snapshot()
	if s.sampler == nil {
		return snap
	}

	r, err := s.sampler.Sample(ctx)
	if err != nil {
		s.logger.Warn("failed to sample system resources", zap.Error(err))
		return snap
	}
	snap.Resources = r
	if s.gauges != nil {
		s.gauges.Set(r)
	}
	return snap
}

// Report logs the current statistics and any alerts, forwarding alerts to
// the sink. It returns the alerts raised.
func (s *Supervisor) Report(ctx context.Context) []Alert {
	snap := s.Collect(ctx)
	s.logSnapshot(snap)

	alerts := CheckAlerts(snap, s.cfg.Thresholds)
	s.logAlerts(alerts)

	if s.sink != nil {
		if err := s.sink.Notify(ctx, alerts); err != nil {
			s.logger.Warn("failed to forward alerts", zap.Error(err))
		}
	}
	return alerts
}

// Persist writes snap through the store. Failures are logged, never returned.
func (s *Supervisor) Persist(ctx context.Context, snap Snapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Warn("failed to persist telemetry snapshot", zap.Error(err))
		return
	}
	s.logger.Debug("telemetry snapshot persisted", zap.Uint64("messages", snap.Messages))
}

// Shutdown stops the ticks, prints the final statistics, exports them to
// ExportDir and persists a final snapshot. Only the first call has effect.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		s.scheduler.Stop()

		snap := s.Collect(ctx)
		alerts := CheckAlerts(snap, s.cfg.Thresholds)

		fmt.Fprint(s.out, FormatReport(snap))
		for _, a := range alerts {
			fmt.Fprintln(s.out, a.String())
		}

		if s.cfg.ExportDir != "" {
			path, err := ExportFile(s.cfg.ExportDir, snap, alerts)
			if err != nil {
				s.logger.Warn("failed to export telemetry", zap.Error(err))
			} else {
				s.logger.Info("telemetry exported", zap.String("path", path))
			}
		}

		s.Persist(ctx, snap)
	})
}

func (s *Supervisor) logSnapshot(snap Snapshot) {
	fields := []zap.Field{
		zap.Float64("uptime_hours", snap.UptimeHours),
		zap.Uint64("messages", snap.Messages),
		zap.Uint64("classifications", snap.Classifications),
		zap.Uint64("forecasts", snap.Forecasts),
		zap.Uint64("db_ops", snap.DBOps),
		zap.Uint64("errors", snap.Errors),
		zap.Float64("error_rate", snap.ErrorRate),
		zap.Float64("messages_per_hour", snap.MessagesPerHour),
	}
	for _, stage := range Stages {
		if st := snap.Stage(stage); st.Samples > 0 {
			fields = append(fields, zap.Float64(string(stage)+"_avg_seconds", st.Mean))
		}
	}
	if r := snap.Resources; r != nil {
		fields = append(fields,
			zap.Float64("cpu_percent", r.CPUPercent),
			zap.Float64("memory_percent", r.MemoryPercent),
			zap.Float64("disk_percent", r.DiskPercent),
		)
	}
	s.logger.Info("performance statistics", fields...)
}

func (s *Supervisor) logAlerts(alerts []Alert) {
	for _, a := range alerts {
		fields := []zap.Field{zap.String("code", a.Code), zap.Float64("value", a.Value), zap.Float64("threshold", a.Threshold)}
		if a.Severity == SeverityCritical {
			s.logger.Error(a.Message, fields...)
		} else {
			s.logger.Warn(a.Message, fields...)
		}
	}
}
