package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/protocol"
	"github.com/smukkama/airquality-pipeline/internal/telemetry"
)

// States is the alert state store used by the Publisher.
type States interface {
	GetState(ctx context.Context, code string) (*AlertState, error)
	Claim(ctx context.Context, code string, state *AlertState, cooldown time.Duration) (bool, error)
	Release(ctx context.Context, code string) (bool, error)
	Active(ctx context.Context) ([]string, error)
}

type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Publisher forwards telemetry alerts to the alerts topic. A raised alert is
// published at most once per cooldown; an alert missing from a later report
// is published as cleared.
type Publisher struct {
	states   States
	producer Producer
	host     string
	cooldown time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewPublisher creates a publisher announcing alerts as host
func NewPublisher(states States, producer Producer, host string, cooldown time.Duration, logger *zap.Logger) *Publisher {
	return &Publisher{
		states:   states,
		producer: producer,
		host:     host,
		cooldown: cooldown,
		logger:   logger,
		now:      time.Now,
	}
}

// Notify implements telemetry.AlertSink.
func (p *Publisher) Notify(ctx context.Context, alerts []telemetry.Alert) error {
	var errs []error
	current := make(map[string]bool, len(alerts))

	for _, a := range alerts {
		current[a.Code] = true
		if err := p.raise(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", a.Code, err))
		}
	}

	active, err := p.states.Active(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, code := range active {
		if current[code] {
			continue
		}
		if err := p.clear(ctx, code); err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", code, err))
		}
	}

	return errors.Join(errs...)
}

func (p *Publisher) raise(ctx context.Context, a telemetry.Alert) error {
	id := uuid.NewString()
	raisedAt := p.now().UTC()

	claimed, err := p.states.Claim(ctx, a.Code, &AlertState{
		Status:         StatusActive,
		Severity:       string(a.Severity),
		RaisedAt:       raisedAt,
		Value:          a.Value,
		NotificationID: id,
	}, p.cooldown)
	if err != nil {
		return err
	}
	if !claimed {
		p.logger.Debug("alert already announced", zap.String("code", a.Code))
		return nil
	}

	return p.publish(ctx, &protocol.AlertNotification{
		ID:        id,
		Type:      protocol.AlertRaised,
		Code:      a.Code,
		Severity:  string(a.Severity),
		Message:   a.Message,
		Value:     a.Value,
		Threshold: a.Threshold,
		Host:      p.host,
		RaisedAt:  raisedAt,
	})
}

// clear announces the end of an alert with the severity and value it was
// raised with.
func (p *Publisher) clear(ctx context.Context, code string) error {
	raised, err := p.states.GetState(ctx, code)
	if err != nil {
		return err
	}
	released, err := p.states.Release(ctx, code)
	if err != nil {
		return err
	}
	if !released {
		return nil
	}

	return p.publish(ctx, &protocol.AlertNotification{
		ID:       uuid.NewString(),
		Type:     protocol.AlertCleared,
		Code:     code,
		Severity: raised.Severity,
		Message:  fmt.Sprintf("%s has cleared", code),
		Value:    raised.Value,
		Host:     p.host,
		RaisedAt: p.now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, n *protocol.AlertNotification) error {
	data, err := protocol.EncodeAlertNotification(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := p.producer.Publish(ctx, n.Code, data); err != nil {
		return err
	}

	p.logger.Info("alert published",
		zap.String("id", n.ID),
		zap.String("type", n.Type),
		zap.String("code", n.Code),
	)
	return nil
}
