package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
)

// Classifier maps scaled features to an air-quality class.
type Classifier interface {
	Classify(ctx context.Context, features []float64) (int, error)
}

// Sequence predicts the next scaled temperature from a window of rows.
type Sequence interface {
	Step(ctx context.Context, window [][]float64) (float64, error)
}

// RemoteClassifier serves Classifier from a softmax model.
type RemoteClassifier struct {
	client *Client
	name   string
}

// NewRemoteClassifier creates a classifier backed by the named served model
func NewRemoteClassifier(client *Client, name string) *RemoteClassifier {
	return &RemoteClassifier{client: client, name: name}
}

// Classify returns the index of the highest class probability.
func (c *RemoteClassifier) Classify(ctx context.Context, features []float64) (int, error) {
	preds, err := c.client.Predict(ctx, c.name, [][]float64{features})
	if err != nil {
		return 0, err
	}

	var probs []float64
	if err := json.Unmarshal(preds[0], &probs); err != nil {
		return 0, fmt.Errorf("malformed prediction from %s: %w", c.name, err)
	}
	return Argmax(probs)
}

// Argmax returns the index of the largest value. Non-finite values make the
// result meaningless and are rejected.
func Argmax(values []float64) (int, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("empty class probabilities")
	}
	best := 0
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("non-finite probability at class %d", i)
		}
		if v > values[best] {
			best = i
		}
	}
	return best, nil
}

// RemoteSequence serves Sequence from a single-output recurrent model.
type RemoteSequence struct {
	client *Client
	name   string
}

// NewRemoteSequence creates a sequence model backed by the named served model
func NewRemoteSequence(client *Client, name string) *RemoteSequence {
	return &RemoteSequence{client: client, name: name}
}

// Step predicts the next scaled temperature from window.
func (s *RemoteSequence) Step(ctx context.Context, window [][]float64) (float64, error) {
	preds, err := s.client.Predict(ctx, s.name, [][][]float64{window})
	if err != nil {
		return 0, err
	}

	// The output is either [v] or a bare v depending on how the model was exported.
	var v float64
	if err := json.Unmarshal(preds[0], &v); err != nil {
		var vec []float64
		if err := json.Unmarshal(preds[0], &vec); err != nil || len(vec) == 0 {
			return 0, fmt.Errorf("malformed prediction from %s: %s", s.name, preds[0])
		}
		v = vec[0]
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite prediction from %s", s.name)
	}
	return v, nil
}
