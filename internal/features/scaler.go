package features

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	KindStandard = "standard"
	KindMinMax   = "minmax"
)

// ScalerParams is the on-disk description of a fitted scaler.
//
// A standard scaler maps x to (x - mean) / scale. A min-max scaler maps x to
// x*scale + min, matching the fitted attributes exported from training.
type ScalerParams struct {
	Kind  string    `json:"kind"`
	Mean  []float64 `json:"mean,omitempty"`
	Min   []float64 `json:"min,omitempty"`
	Scale []float64 `json:"scale"`
}

// Scaler is an immutable per-column affine transform. It is never refit.
type Scaler struct {
	kind   string
	offset []float64
	scale  []float64
}

// NewScaler validates params and builds a Scaler.
func NewScaler(p ScalerParams) (*Scaler, error) {
	if len(p.Scale) == 0 {
		return nil, fmt.Errorf("scaler has no columns")
	}

	var offset []float64
	switch p.Kind {
	case KindStandard:
		offset = p.Mean
	case KindMinMax:
		offset = p.Min
	default:
		return nil, fmt.Errorf("unknown scaler kind %q", p.Kind)
	}
	if len(offset) != len(p.Scale) {
		return nil, fmt.Errorf("%s scaler: %d offsets for %d scales", p.Kind, len(offset), len(p.Scale))
	}
	for i, s := range p.Scale {
		if s == 0 {
			return nil, fmt.Errorf("%s scaler: zero scale in column %d", p.Kind, i)
		}
	}

	return &Scaler{
		kind:   p.Kind,
		offset: append([]float64(nil), offset...),
		scale:  append([]float64(nil), p.Scale...),
	}, nil
}

// LoadScaler reads scaler params from a JSON file.
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scaler %s: %w", path, err)
	}

	var p ScalerParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode scaler %s: %w", path, err)
	}

	s, err := NewScaler(p)
	if err != nil {
		return nil, fmt.Errorf("invalid scaler %s: %w", path, err)
	}
	return s, nil
}

// Columns is the number of features the scaler was fit on.
func (s *Scaler) Columns() int { return len(s.scale) }

// TransformValue scales a single value of column col.
func (s *Scaler) TransformValue(col int, x float64) float64 {
	if s.kind == KindStandard {
		return (x - s.offset[col]) / s.scale[col]
	}
	return x*s.scale[col] + s.offset[col]
}

// InverseValue undoes TransformValue for column col.
func (s *Scaler) InverseValue(col int, y float64) float64 {
	if s.kind == KindStandard {
		return y*s.scale[col] + s.offset[col]
	}
	return (y - s.offset[col]) / s.scale[col]
}

// Transform scales a full row.
func (s *Scaler) Transform(row []float64) ([]float64, error) {
	if len(row) != len(s.scale) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.scale), len(row))
	}
	out := make([]float64, len(row))
	for i, x := range row {
		out[i] = s.TransformValue(i, x)
	}
	return out, nil
}
