package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromObserver mirrors monitor samples into Prometheus collectors.
type PromObserver struct {
	stageDuration *prometheus.HistogramVec
	errors        prometheus.Counter
}

// NewPromObserver registers the pipeline collectors on reg.
func NewPromObserver(reg prometheus.Registerer) *PromObserver {
	factory := promauto.With(reg)
	return &PromObserver{
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "airquality_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 16), // 5ms to ~3min
			},
			[]string{"stage"},
		),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "airquality_errors_total",
			Help: "Total number of failed pipeline operations",
		}),
	}
}

func (p *PromObserver) ObserveStage(stage Stage, d time.Duration) {
	p.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (p *PromObserver) ObserveError() {
	p.errors.Inc()
}

// ResourceCollector exposes the latest resource reading as gauges.
type ResourceCollector struct {
	cpu    prometheus.Gauge
	memory prometheus.Gauge
	disk   prometheus.Gauge
}

// NewResourceCollector registers the resource gauges on reg
func NewResourceCollector(reg prometheus.Registerer) *ResourceCollector {
	factory := promauto.With(reg)
	return &ResourceCollector{
		cpu: factory.NewGauge(prometheus.GaugeOpts{
			Name: "airquality_host_cpu_percent",
			Help: "Host CPU usage percent at the last report",
		}),
		memory: factory.NewGauge(prometheus.GaugeOpts{
			Name: "airquality_host_memory_percent",
			Help: "Host memory usage percent at the last report",
		}),
		disk: factory.NewGauge(prometheus.GaugeOpts{
			Name: "airquality_host_disk_percent",
			Help: "Disk usage percent of the data volume at the last report",
		}),
	}
}

func (c *ResourceCollector) Set(r *Resources) {
	if r == nil {
		return
	}
	c.cpu.Set(r.CPUPercent)
	c.memory.Set(r.MemoryPercent)
	c.disk.Set(r.DiskPercent)
}
