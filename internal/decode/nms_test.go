package decode

import (
	"testing"

	"github.com/MeKo-Tech/fournet/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulticlassNMSEmpty(t *testing.T) {
	assert.Nil(t, MulticlassNMS(nil, nil, nil, nil, NMSConfig{}))
}

func TestMulticlassNMSBackgroundColumnIgnored(t *testing.T) {
	boxes := []geometry.Box{geometry.NewBox(0, 0, 10, 10)}
	// Huge background score, tiny class score below threshold.
	scores := [][]float64{{0.99, 0.01}}
	masks := [][]geometry.Point{nil}

	got := MulticlassNMS(boxes, scores, masks, nil, NMSConfig{ScoreThreshold: 0.05})
	assert.Empty(t, got)
}

func TestMulticlassNMSSuppression(t *testing.T) {
	boxes := []geometry.Box{
		geometry.NewBox(0, 0, 10, 10),
		geometry.NewBox(1, 1, 11, 11), // heavy overlap with first
		geometry.NewBox(50, 50, 60, 60),
	}
	scores := [][]float64{
		{0, 0.9},
		{0, 0.8},
		{0, 0.7},
	}
	masks := make([][]geometry.Point, 3)

	got := MulticlassNMS(boxes, scores, masks, nil, NMSConfig{
		ScoreThreshold: 0.1,
		IoUThreshold:   0.5,
	})
	require.Len(t, got, 2)
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
	assert.InDelta(t, 0.7, got[1].Score, 1e-9)
	assert.Equal(t, 1, got[0].Label)
}

func TestMulticlassNMSPerClassIndependence(t *testing.T) {
	// Same box, two classes: no cross-class suppression.
	boxes := []geometry.Box{
		geometry.NewBox(0, 0, 10, 10),
		geometry.NewBox(0, 0, 10, 10),
	}
	scores := [][]float64{
		{0, 0.9, 0},
		{0, 0, 0.8},
	}
	masks := make([][]geometry.Point, 2)

	got := MulticlassNMS(boxes, scores, masks, nil, NMSConfig{
		ScoreThreshold: 0.1,
		IoUThreshold:   0.5,
	})
	require.Len(t, got, 2)
	labels := []int{got[0].Label, got[1].Label}
	assert.ElementsMatch(t, []int{1, 2}, labels)
}

func TestMulticlassNMSScoreFactors(t *testing.T) {
	boxes := []geometry.Box{
		geometry.NewBox(0, 0, 10, 10),
		geometry.NewBox(50, 50, 60, 60),
	}
	scores := [][]float64{
		{0, 0.9},
		{0, 0.9},
	}
	masks := make([][]geometry.Point, 2)
	factors := []float64{1.0, 0.01} // second candidate pushed below threshold

	got := MulticlassNMS(boxes, scores, masks, factors, NMSConfig{ScoreThreshold: 0.1})
	require.Len(t, got, 1)
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
}

func TestMulticlassNMSMaxDetections(t *testing.T) {
	boxes := []geometry.Box{
		geometry.NewBox(0, 0, 10, 10),
		geometry.NewBox(50, 50, 60, 60),
		geometry.NewBox(100, 100, 110, 110),
	}
	scores := [][]float64{
		{0, 0.5},
		{0, 0.9},
		{0, 0.7},
	}
	masks := make([][]geometry.Point, 3)

	got := MulticlassNMS(boxes, scores, masks, nil, NMSConfig{
		ScoreThreshold: 0.1,
		IoUThreshold:   0.5,
		MaxDetections:  2,
	})
	require.Len(t, got, 2)
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
	assert.InDelta(t, 0.7, got[1].Score, 1e-9)
}
