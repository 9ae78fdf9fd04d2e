package classification

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/features"
	"github.com/smukkama/airquality-pipeline/internal/model"
	"github.com/smukkama/airquality-pipeline/internal/protocol"
	"github.com/smukkama/airquality-pipeline/internal/telemetry"
)

// Error wraps any failure to classify a reading.
type Error struct {
	Location string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("classify reading for %s: %v", e.Location, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Stage scales a reading's measurements and asks the classifier for its class.
type Stage struct {
	scaler     *features.Scaler
	classifier model.Classifier
	monitor    *telemetry.Monitor
}

// NewStage creates a classification stage. The scaler must cover all seven parameters.
func NewStage(scaler *features.Scaler, classifier model.Classifier, monitor *telemetry.Monitor) (*Stage, error) {
	if scaler.Columns() != len(protocol.Parameters) {
		return nil, fmt.Errorf("classifier scaler has %d columns, want %d", scaler.Columns(), len(protocol.Parameters))
	}
	return &Stage{scaler: scaler, classifier: classifier, monitor: monitor}, nil
}

// Classify returns the reading with its class attached. Failures are counted
// once in the monitor and returned as *Error.
func (s *Stage) Classify(ctx context.Context, r protocol.Reading) (protocol.ClassifiedReading, error) {
	start := time.Now()

	scaled, err := s.scaler.Transform(r.Features())
	if err != nil {
		return protocol.ClassifiedReading{}, s.fail(r, err)
	}

	class, err := s.classifier.Classify(ctx, scaled)
	if err != nil {
		return protocol.ClassifiedReading{}, s.fail(r, err)
	}
	if class < 0 {
		return protocol.ClassifiedReading{}, s.fail(r, fmt.Errorf("negative class id %d", class))
	}

	s.monitor.Since(telemetry.StageClassification, start)
	return protocol.ClassifiedReading{Reading: r, AirQuality: class}, nil
}

func (s *Stage) fail(r protocol.Reading, err error) error {
	return s.monitor.RecordError(&Error{Location: r.Location, Err: err})
}
