package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Stage names a timed step of message processing.
type Stage string

const (
	StageProcessing     Stage = "processing"
	StageClassification Stage = "classification"
	StageForecast       Stage = "forecast"
	StagePersistence    Stage = "persistence-save"
)

// Stages lists every stage in report order.
var Stages = []Stage{StageProcessing, StageClassification, StageForecast, StagePersistence}

const DefaultHistorySize = 100

// Observer receives every sample the monitor records, after the monitor's
// own lock is released.
type Observer interface {
	ObserveStage(stage Stage, d time.Duration)
	ObserveError()
}

// Counters are monotonic for the life of the process unless Reset is called.
type Counters struct {
	Messages        uint64 `json:"total_messages_processed"`
	Classifications uint64 `json:"total_classifications"`
	Forecasts       uint64 `json:"total_forecasts"`
	DBOps           uint64 `json:"total_db_operations"`
	Errors          uint64 `json:"error_count"`
}

// Monitor accumulates stage timings and counters. All methods are safe for
// concurrent use; a single mutex guards the whole state.
type Monitor struct {
	mu        sync.Mutex
	size      int
	windows   map[Stage]*window
	counters  Counters
	startTime time.Time
	observers []Observer
	now       func() time.Time
}

// NewMonitor creates a monitor keeping the last historySize durations per stage.
func NewMonitor(historySize int, observers ...Observer) *Monitor {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	m := &Monitor{
		size:      historySize,
		observers: observers,
		now:       time.Now,
	}
	m.resetLocked()
	return m
}

func (m *Monitor) resetLocked() {
	m.windows = make(map[Stage]*window, len(Stages))
	for _, s := range Stages {
		m.windows[s] = newWindow(m.size)
	}
	m.counters = Counters{}
	m.startTime = m.now()
}

// Record adds one duration sample for stage and bumps the matching counter.
func (m *Monitor) Record(stage Stage, d time.Duration) {
	m.mu.Lock()
	w, ok := m.windows[stage]
	if !ok {
		w = newWindow(m.size)
		m.windows[stage] = w
	}
	w.add(d)

	switch stage {
	case StageProcessing:
		m.counters.Messages++
	case StageClassification:
		m.counters.Classifications++
	case StageForecast:
		m.counters.Forecasts++
	case StagePersistence:
		m.counters.DBOps++
	}
	m.mu.Unlock()

	for _, o := range m.observers {
		o.ObserveStage(stage, d)
	}
}

// Since records the time elapsed from start. Handy with defer.
func (m *Monitor) Since(stage Stage, start time.Time) {
	m.Record(stage, m.now().Sub(start))
}

// RecordError counts err once and returns it marked as recorded. Passing an
// already recorded error (or one wrapping it) does not count it again, so
// every layer may call RecordError on the failure it sees. Cancellation is
// shutdown, not a failure, and is returned uncounted.
func (m *Monitor) RecordError(err error) error {
	if err == nil {
		return nil
	}
	if IsRecorded(err) || errors.Is(err, context.Canceled) {
		return err
	}

	m.mu.Lock()
	m.counters.Errors++
	m.mu.Unlock()

	for _, o := range m.observers {
		o.ObserveError()
	}
	return &recordedError{err: err}
}

// IsRecorded reports whether err has already been counted by a Monitor.
func IsRecorded(err error) bool {
	var r *recordedError
	return errors.As(err, &r)
}

type recordedError struct {
	err error
}

func (e *recordedError) Error() string { return e.err.Error() }
func (e *recordedError) Unwrap() error { return e.err }

// Counters returns a copy of the counters.
func (m *Monitor) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Reset clears all history and counters and restarts the uptime clock.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// Snapshot derives statistics from the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	now := m.now()
	counters := m.counters
	start := m.startTime
	samples := make(map[Stage][]time.Duration, len(m.windows))
	for stage, w := range m.windows {
		samples[stage] = w.values()
	}
	m.mu.Unlock()

	return buildSnapshot(now, start, counters, samples)
}

// window is a fixed-capacity ring of the most recent durations.
type window struct {
	buf  []time.Duration
	next int
	full bool
}

func newWindow(size int) *window {
	return &window{buf: make([]time.Duration, size)}
}

func (w *window) add(d time.Duration) {
	w.buf[w.next] = d
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

func (w *window) len() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// values returns the samples oldest first.
func (w *window) values() []time.Duration {
	out := make([]time.Duration, 0, w.len())
	if w.full {
		out = append(out, w.buf[w.next:]...)
	}
	return append(out, w.buf[:w.next]...)
}
