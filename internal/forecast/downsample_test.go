package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func predictions(start time.Time, step time.Duration, temps ...float64) []Prediction {
	out := make([]Prediction, len(temps))
	for i, temp := range temps {
		out[i] = Prediction{Timestamp: start.Add(time.Duration(i) * step), Temperature: temp}
	}
	return out
}

func TestDownsampleBatch_SingleHour(t *testing.T) {
	batch := predictions(baseTime, 15*time.Minute, 10, 20, 30, 40)

	got := DownsampleBatch(batch)
	require.Len(t, got, 1)
	assert.True(t, baseTime.Equal(got[0].Hour))
	assert.Equal(t, 25.0, got[0].Mean())
	assert.Equal(t, 4, got[0].Count)
}

func TestDownsampleBatch_FloorsToHour(t *testing.T) {
	batch := predictions(baseTime.Add(45*time.Minute), 15*time.Minute, 1, 2, 3)

	got := DownsampleBatch(batch)
	require.Len(t, got, 2)
	assert.Equal(t, 8, got[0].Hour.Hour())
	assert.Equal(t, 1.0, got[0].Mean())
	assert.Equal(t, 9, got[1].Hour.Hour())
	assert.Equal(t, 2.5, got[1].Mean())
}

func TestDownsample_MergesSplitHour(t *testing.T) {
	// 08:00..09:45 in batches of 3 splits 08:xx as 3+1.
	preds := predictions(baseTime, 15*time.Minute, 1, 2, 3, 4, 5, 6, 7, 8)

	got := Downsample("hanoi", preds, 3)
	require.Len(t, got, 2)
	assert.Equal(t, 2.5, got[0].Temperature)
	assert.Equal(t, 6.5, got[1].Temperature)
	assert.Equal(t, "hanoi", got[0].Location)

	assert.Equal(t, Downsample("hanoi", preds, 96), got)
}

func TestDownsample_Empty(t *testing.T) {
	assert.Empty(t, Downsample("hanoi", nil, 96))
}
