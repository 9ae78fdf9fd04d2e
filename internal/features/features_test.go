package features

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTime_UnitCircle(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 500; i++ {
		ts := start.Add(time.Duration(i) * 7 * time.Hour).Add(time.Duration(i*13) * time.Second)
		c := EncodeTime(ts)

		for _, v := range c.Slice() {
			assert.LessOrEqual(t, v, 1.0)
			assert.GreaterOrEqual(t, v, -1.0)
		}
		assert.InDelta(t, 1.0, c.DaySin*c.DaySin+c.DayCos*c.DayCos, 1e-12)
		assert.InDelta(t, 1.0, c.YearSin*c.YearSin+c.YearCos*c.YearCos, 1e-12)
	}
}

func TestEncodeTime_DailyPeriod(t *testing.T) {
	ts := time.Date(2024, 6, 1, 13, 45, 0, 0, time.UTC)
	a := EncodeTime(ts)
	b := EncodeTime(ts.Add(24 * time.Hour))

	assert.InDelta(t, a.DaySin, b.DaySin, 1e-9)
	assert.InDelta(t, a.DayCos, b.DayCos, 1e-9)
	assert.NotEqual(t, a.YearSin, b.YearSin)
}

func TestEncodeTime_Epoch(t *testing.T) {
	c := EncodeTime(time.Unix(0, 0))
	assert.Equal(t, Cyclical{DaySin: 0, DayCos: 1, YearSin: 0, YearCos: 1}, c)

	// Six hours is a quarter of a day.
	q := EncodeTime(time.Unix(6*3600, 0))
	assert.InDelta(t, 1.0, q.DaySin, 1e-12)
	assert.InDelta(t, 0.0, q.DayCos, 1e-12)
}

func TestEncodeTime_IgnoresZone(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	ts := time.Date(2024, 3, 10, 8, 0, 0, 0, loc)
	assert.Equal(t, EncodeTime(ts.UTC()), EncodeTime(ts))
}

func TestScaler_StandardRoundTrip(t *testing.T) {
	s, err := NewScaler(ScalerParams{Kind: KindStandard, Mean: []float64{27.3}, Scale: []float64{3.1}})
	require.NoError(t, err)

	for _, x := range []float64{-10, 0, 18.25, 27.3, 41.7} {
		y := s.TransformValue(0, x)
		assert.InDelta(t, x, s.InverseValue(0, y), 1e-12)
	}
	assert.Equal(t, 0.0, s.TransformValue(0, 27.3))
}

func TestScaler_MinMaxRoundTrip(t *testing.T) {
	// Fit on [10, 40]: scale = 1/30, min = -10/30.
	s, err := NewScaler(ScalerParams{Kind: KindMinMax, Min: []float64{-10.0 / 30}, Scale: []float64{1.0 / 30}})
	require.NoError(t, err)

	assert.InDelta(t, 0.0, s.TransformValue(0, 10), 1e-12)
	assert.InDelta(t, 1.0, s.TransformValue(0, 40), 1e-12)
	for _, x := range []float64{5, 10, 22.5, 40, 55} {
		assert.InDelta(t, x, s.InverseValue(0, s.TransformValue(0, x)), 1e-12)
	}
}

func TestScaler_TransformRow(t *testing.T) {
	s, err := NewScaler(ScalerParams{
		Kind:  KindStandard,
		Mean:  []float64{1, 2},
		Scale: []float64{2, 4},
	})
	require.NoError(t, err)

	out, err := s.Transform([]float64{3, 10})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, out)

	_, err = s.Transform([]float64{1})
	assert.Error(t, err)
}

func TestNewScaler_Invalid(t *testing.T) {
	tests := []struct {
		name string
		p    ScalerParams
	}{
		{"no columns", ScalerParams{Kind: KindStandard}},
		{"unknown kind", ScalerParams{Kind: "robust", Scale: []float64{1}}},
		{"length mismatch", ScalerParams{Kind: KindMinMax, Min: []float64{0, 1}, Scale: []float64{1}}},
		{"zero scale", ScalerParams{Kind: KindStandard, Mean: []float64{0}, Scale: []float64{0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScaler(tt.p)
			assert.Error(t, err)
		})
	}
}

func TestLoadScaler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scaler.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"standard","mean":[20],"scale":[5]}`), 0o644))

	s, err := LoadScaler(path)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Columns())
	assert.Equal(t, 1.0, s.TransformValue(0, 25))

	_, err = LoadScaler(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"kind":`), 0o644))
	_, err = LoadScaler(bad)
	assert.Error(t, err)
	assert.False(t, math.IsNaN(s.InverseValue(0, 0)))
}
