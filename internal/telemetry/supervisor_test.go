package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSampler struct {
	res *Resources
	err error
}

func (f *fakeSampler) Sample(context.Context) (*Resources, error) { return f.res, f.err }

type fakeStore struct {
	mu    sync.Mutex
	snaps []Snapshot
	err   error
}

func (f *fakeStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

type fakeSink struct {
	alerts []Alert
}

func (f *fakeSink) Notify(_ context.Context, alerts []Alert) error {
	f.alerts = append(f.alerts, alerts...)
	return nil
}

func TestSupervisor_ReportForwardsAlerts(t *testing.T) {
	m := NewMonitor(10)
	sink := &fakeSink{}
	reg := prometheus.NewRegistry()
	gauges := NewResourceCollector(reg)

	sv := NewSupervisor(m, SupervisorConfig{Thresholds: DefaultThresholds()}, zap.NewNop(),
		WithSampler(&fakeSampler{res: &Resources{CPUPercent: 95, DiskPercent: 20}}),
		WithAlertSink(sink),
		WithResourceGauges(gauges),
	)

	alerts := sv.Report(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertHighCPU, alerts[0].Code)
	assert.Equal(t, alerts, sink.alerts)
	assert.Equal(t, 95.0, testutil.ToFloat64(gauges.cpu))
}

func TestSupervisor_CollectSurvivesSamplerFailure(t *testing.T) {
	m := NewMonitor(10)
	sv := NewSupervisor(m, SupervisorConfig{}, zap.NewNop(),
		WithSampler(&fakeSampler{err: errors.New("no /proc")}))

	snap := sv.Collect(context.Background())
	assert.Nil(t, snap.Resources)
}

func TestSupervisor_PersistSwallowsErrors(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	sv := NewSupervisor(NewMonitor(10), SupervisorConfig{}, zap.NewNop(), WithSnapshotStore(store))

	assert.NotPanics(t, func() { sv.Persist(context.Background(), Snapshot{}) })
}

func TestSupervisor_ShutdownSequence(t *testing.T) {
	dir := t.TempDir()
	m := NewMonitor(10)
	m.Record(StageProcessing, time.Second)
	store := &fakeStore{}
	var out bytes.Buffer

	sv := NewSupervisor(m, SupervisorConfig{
		ReportInterval:  time.Hour,
		PersistInterval: time.Hour,
		ExportDir:       dir,
		Thresholds:      DefaultThresholds(),
	}, zap.NewNop(), WithSnapshotStore(store), WithOutput(&out))
	require.NoError(t, sv.Start())

	sv.Shutdown(context.Background())
	sv.Shutdown(context.Background())

	assert.Contains(t, out.String(), "Messages processed: 1")
	assert.Equal(t, 1, store.count())

	files, err := filepath.Glob(filepath.Join(dir, "performance_stats_*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total_messages_processed": 1`)
}

func TestSupervisor_PeriodicPersist(t *testing.T) {
	store := &fakeStore{}
	sv := NewSupervisor(NewMonitor(10), SupervisorConfig{
		ReportInterval:  20 * time.Millisecond,
		PersistInterval: 20 * time.Millisecond,
	}, zap.NewNop(), WithSnapshotStore(store), WithOutput(&bytes.Buffer{}))
	require.NoError(t, sv.Start())
	defer sv.Shutdown(context.Background())

	assert.Eventually(t, func() bool { return store.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestPromObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObserver(reg)
	m := NewMonitor(10, obs)

	m.Record(StageClassification, 10*time.Millisecond)
	_ = m.RecordError(errors.New("x"))

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.errors))
	assert.Equal(t, 1, testutil.CollectAndCount(obs.stageDuration))
}
