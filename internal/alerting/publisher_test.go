package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/protocol"
	"github.com/smukkama/airquality-pipeline/internal/telemetry"
)

type memStates struct {
	states   map[string]*AlertState
	claimErr error
}

func newMemStates() *memStates {
	return &memStates{states: make(map[string]*AlertState)}
}

func (m *memStates) GetState(_ context.Context, code string) (*AlertState, error) {
	if state, ok := m.states[code]; ok {
		return state, nil
	}
	return &AlertState{Status: StatusClear}, nil
}

func (m *memStates) Claim(_ context.Context, code string, state *AlertState, _ time.Duration) (bool, error) {
	if m.claimErr != nil {
		return false, m.claimErr
	}
	if _, ok := m.states[code]; ok {
		return false, nil
	}
	m.states[code] = state
	return true, nil
}

func (m *memStates) Release(_ context.Context, code string) (bool, error) {
	_, ok := m.states[code]
	delete(m.states, code)
	return ok, nil
}

func (m *memStates) Active(context.Context) ([]string, error) {
	var codes []string
	for code := range m.states {
		codes = append(codes, code)
	}
	return codes, nil
}

type recordingProducer struct {
	sent []*protocol.AlertNotification
	keys []string
	err  error
}

func (r *recordingProducer) Publish(_ context.Context, key string, value []byte) error {
	if r.err != nil {
		return r.err
	}
	n, err := protocol.DecodeAlertNotification(value)
	if err != nil {
		return err
	}
	r.keys = append(r.keys, key)
	r.sent = append(r.sent, n)
	return nil
}

var errorRateAlert = telemetry.Alert{
	Code:      telemetry.AlertErrorRate,
	Severity:  telemetry.SeverityCritical,
	Message:   "Error rate is 6.0% (> 5%)",
	Value:     6,
	Threshold: 5,
}

func newTestPublisher() (*Publisher, *memStates, *recordingProducer) {
	states := newMemStates()
	producer := &recordingProducer{}
	p := NewPublisher(states, producer, "sensor-host", time.Hour, zap.NewNop())
	p.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return p, states, producer
}

func TestPublisher_RaisesOncePerCooldown(t *testing.T) {
	p, states, producer := newTestPublisher()
	ctx := context.Background()

	require.NoError(t, p.Notify(ctx, []telemetry.Alert{errorRateAlert}))
	require.NoError(t, p.Notify(ctx, []telemetry.Alert{errorRateAlert}))

	require.Len(t, producer.sent, 1)
	n := producer.sent[0]
	assert.Equal(t, protocol.AlertRaised, n.Type)
	assert.Equal(t, telemetry.AlertErrorRate, n.Code)
	assert.Equal(t, "CRITICAL", n.Severity)
	assert.Equal(t, "sensor-host", n.Host)
	assert.Equal(t, 6.0, n.Value)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, []string{telemetry.AlertErrorRate}, producer.keys)

	assert.Equal(t, n.ID, states.states[telemetry.AlertErrorRate].NotificationID)
}

func TestPublisher_ClearsMissingAlerts(t *testing.T) {
	p, states, producer := newTestPublisher()
	ctx := context.Background()

	require.NoError(t, p.Notify(ctx, []telemetry.Alert{errorRateAlert}))
	require.NoError(t, p.Notify(ctx, nil))
	require.NoError(t, p.Notify(ctx, nil))

	require.Len(t, producer.sent, 2)
	assert.Equal(t, protocol.AlertCleared, producer.sent[1].Type)
	assert.Equal(t, telemetry.AlertErrorRate, producer.sent[1].Code)
	assert.Equal(t, "CRITICAL", producer.sent[1].Severity)
	assert.Equal(t, 6.0, producer.sent[1].Value)
	assert.Empty(t, states.states)
}

func TestPublisher_JoinsErrors(t *testing.T) {
	p, states, _ := newTestPublisher()
	states.claimErr = errors.New("redis down")

	err := p.Notify(context.Background(), []telemetry.Alert{errorRateAlert})
	assert.ErrorContains(t, err, "redis down")
	assert.ErrorContains(t, err, telemetry.AlertErrorRate)
}

func TestPublisher_ProducerFailure(t *testing.T) {
	p, _, producer := newTestPublisher()
	producer.err = errors.New("broker unavailable")

	err := p.Notify(context.Background(), []telemetry.Alert{errorRateAlert})
	assert.Error(t, err)
}

func TestStateManager_Key(t *testing.T) {
	sm := NewStateManager(nil, "sensor-host")
	assert.Equal(t, "alert_state:sensor-host:error_rate", sm.key(telemetry.AlertErrorRate))
}
