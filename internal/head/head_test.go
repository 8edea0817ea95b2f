package head

import (
	"math"
	"testing"

	"github.com/MeKo-Tech/fournet/internal/assign"
	"github.com/MeKo-Tech/fournet/internal/decode"
	"github.com/MeKo-Tech/fournet/internal/fourier"
	"github.com/MeKo-Tech/fournet/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Simple reference losses for exercising the plumbing.
func testLosses() LossFuncs {
	return LossFuncs{
		Classification: func(logits [][]float64, labels []int, avgFactor float64) float64 {
			sum := 0.0
			for i, row := range logits {
				for c, v := range row {
					target := 0.0
					if labels[i] == c+1 {
						target = 1.0
					}
					sum += math.Abs(sigmoid(v) - target)
				}
			}
			return sum / avgFactor
		},
		Box: func(preds, targets [][]float64, weights []float64, avgFactor float64) float64 {
			sum := 0.0
			for i := range preds {
				rowSum := 0.0
				for j := range preds[i] {
					rowSum += math.Abs(preds[i][j] - targets[i][j])
				}
				if weights != nil {
					rowSum *= weights[i]
				}
				sum += rowSum
			}
			return sum / math.Max(avgFactor, 1e-6)
		},
		Mask: func(preds, targets [][]float64, weights []float64, avgFactor float64) float64 {
			sum := 0.0
			for i := range preds {
				rowSum := 0.0
				for j := range preds[i] {
					rowSum += math.Abs(preds[i][j] - targets[i][j])
				}
				if weights != nil {
					rowSum *= weights[i]
				}
				sum += rowSum
			}
			return sum / math.Max(avgFactor, 1e-6)
		},
		Centerness: func(logits, targets []float64) float64 {
			sum := 0.0
			for i := range logits {
				sum += math.Abs(sigmoid(logits[i]) - targets[i])
			}
			return sum / float64(len(logits))
		},
	}
}

func rawTestConfig() Config {
	return Config{
		NumClasses:     2,
		ContourPoints:  36,
		Strides:        []int{8},
		Representation: RepresentationRaw,
		BoxSource:      BoxFromRegression,
		RegressRanges:  []assign.RegressRange{{Min: -1, Max: math.MaxFloat64}},
		ScoreThreshold: 0.3,
		IoUThreshold:   0.5,
		MaxDetections:  10,
	}
}

// constLevel builds one 4x4 level whose every channel is filled with
// the given constants.
func constLevel(cfg Config, clsLogit, boxDist, ctrLogit, maskVal float64) LevelPrediction {
	const hw = 4
	n := hw * hw
	p := LevelPrediction{
		Height:     hw,
		Width:      hw,
		ClsScores:  make([]float64, n*cfg.NumClasses),
		BoxPreds:   make([]float64, n*4),
		Centerness: make([]float64, n),
		MaskPreds:  make([]float64, n*cfg.MaskChannels()),
	}
	for i := range p.ClsScores {
		p.ClsScores[i] = clsLogit
	}
	for i := range p.BoxPreds {
		p.BoxPreds[i] = boxDist
	}
	for i := range p.Centerness {
		p.Centerness[i] = ctrLogit
	}
	for i := range p.MaskPreds {
		p.MaskPreds[i] = maskVal
	}
	return p
}

func circle(center geometry.Point, r float64, steps int) []geometry.Point {
	pts := make([]geometry.Point, 0, steps)
	for i := range steps {
		a := 2 * math.Pi * float64(i) / float64(steps)
		pts = append(pts, geometry.Point{X: center.X + r*math.Cos(a), Y: center.Y + r*math.Sin(a)})
	}
	return pts
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero classes", func(c *Config) { c.NumClasses = 0 }},
		{"bad contour points", func(c *Config) { c.ContourPoints = 100 }},
		{"no strides", func(c *Config) { c.Strides = nil }},
		{"range count mismatch", func(c *Config) { c.Strides = []int{8, 16} }},
		{"coe loss without fourier", func(c *Config) { c.LossOnCoefficients = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := rawTestConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, testLosses())
			assert.Error(t, err)
		})
	}
}

func TestNewFourierCoefficientValidation(t *testing.T) {
	cfg := rawTestConfig()
	cfg.Representation = RepresentationFourier
	cfg.NumCoefficients = 19 // 36/2+1 = 19 is the limit
	cfg.VisualizeCoefficients = 19
	_, err := New(cfg, testLosses())
	require.NoError(t, err)

	cfg.NumCoefficients = 20
	_, err = New(cfg, testLosses())
	assert.Error(t, err)
}

func TestComputeLossZeroGroundTruth(t *testing.T) {
	h, err := New(rawTestConfig(), testLosses())
	require.NoError(t, err)

	preds := [][]LevelPrediction{{constLevel(h.Config(), -5, 1, 0, 1)}}
	losses, err := h.ComputeLoss(preds, [][]assign.Instance{nil})
	require.NoError(t, err)

	assert.Zero(t, losses.NumPositive)
	assert.False(t, math.IsNaN(losses.Cls))
	assert.False(t, math.IsInf(losses.Cls, 0))
	assert.Zero(t, losses.Box)
	assert.Zero(t, losses.Mask)
	assert.Zero(t, losses.Centerness)
}

func TestComputeLossPositives(t *testing.T) {
	h, err := New(rawTestConfig(), testLosses())
	require.NoError(t, err)

	inst := assign.Instance{
		Label:   1,
		Box:     geometry.NewBox(0, 0, 32, 32),
		Contour: circle(geometry.Point{X: 16, Y: 16}, 14, 720),
		Center:  geometry.Point{X: 16, Y: 16},
	}
	preds := [][]LevelPrediction{{constLevel(h.Config(), 1, 10, 0, 12)}}
	losses, err := h.ComputeLoss(preds, [][]assign.Instance{{inst}})
	require.NoError(t, err)

	assert.Positive(t, losses.NumPositive)
	for _, v := range []float64{losses.Cls, losses.Box, losses.Mask, losses.Centerness} {
		assert.False(t, math.IsNaN(v))
		assert.False(t, math.IsInf(v, 0))
	}
	assert.Positive(t, losses.Box)
	assert.Positive(t, losses.Centerness)
}

func TestComputeLossOnCoefficients(t *testing.T) {
	cfg := rawTestConfig()
	cfg.Representation = RepresentationFourier
	cfg.NumCoefficients = 8
	cfg.VisualizeCoefficients = 8
	cfg.LossOnCoefficients = true

	var maskRowWidth int
	losses := testLosses()
	inner := losses.Mask
	losses.Mask = func(preds, targets [][]float64, weights []float64, avgFactor float64) float64 {
		if len(preds) > 0 {
			maskRowWidth = len(preds[0])
			// Target rows must be in the same (coefficient-pair) domain.
			if len(targets[0]) != len(preds[0]) {
				panic("mask domain mismatch")
			}
		}
		return inner(preds, targets, weights, avgFactor)
	}

	h, err := New(cfg, losses)
	require.NoError(t, err)

	inst := assign.Instance{
		Label:   1,
		Box:     geometry.NewBox(0, 0, 32, 32),
		Contour: circle(geometry.Point{X: 16, Y: 16}, 14, 720),
		Center:  geometry.Point{X: 16, Y: 16},
	}
	preds := [][]LevelPrediction{{constLevel(h.Config(), 1, 10, 0, 0.1)}}
	out, err := h.ComputeLoss(preds, [][]assign.Instance{{inst}})
	require.NoError(t, err)
	require.Positive(t, out.NumPositive)
	assert.Equal(t, 16, maskRowWidth) // 2 * NumCoefficients
}

func TestComputeLossShapeMismatch(t *testing.T) {
	h, err := New(rawTestConfig(), testLosses())
	require.NoError(t, err)

	bad := constLevel(h.Config(), 0, 1, 0, 1)
	bad.ClsScores = bad.ClsScores[:len(bad.ClsScores)-1]
	_, err = h.ComputeLoss([][]LevelPrediction{{bad}}, [][]assign.Instance{nil})
	assert.Error(t, err)
}

func TestComputeLossRequiresLossFuncs(t *testing.T) {
	h, err := New(rawTestConfig(), LossFuncs{})
	require.NoError(t, err)
	_, err = h.ComputeLoss([][]LevelPrediction{{constLevel(h.Config(), 0, 1, 0, 1)}}, [][]assign.Instance{nil})
	assert.Error(t, err)
}

func onePositiveLevel(cfg Config, hot int, maskVal float64) LevelPrediction {
	p := constLevel(cfg, -10, 4, -10, maskVal)
	p.ClsScores[hot*cfg.NumClasses] = 10 // class 1 at the hot point
	p.Centerness[hot] = 10
	return p
}

func TestDecodeSingleDetection(t *testing.T) {
	h, err := New(rawTestConfig(), testLosses())
	require.NoError(t, err)

	// Hot point index 5 on a 4x4 stride-8 grid is (12,12).
	preds := []LevelPrediction{onePositiveLevel(h.Config(), 5, 6)}
	dets, err := h.Decode(preds, ImageMeta{Width: 64, Height: 64})
	require.NoError(t, err)
	require.Len(t, dets, 1)

	d := dets[0]
	assert.Equal(t, 1, d.Label)
	assert.Greater(t, d.Score, 0.9)
	// Box regression distance 4 around (12,12).
	assert.Equal(t, geometry.Box{MinX: 8, MinY: 8, MaxX: 16, MaxY: 16}, d.Box)
	// Constant distance 6 polygon around (12,12).
	require.Len(t, d.Polygon, 36)
	for _, pt := range d.Polygon {
		assert.InDelta(t, 6.0, math.Hypot(pt.X-12, pt.Y-12), 1e-9)
	}
}

func TestDecodeBoxFromMask(t *testing.T) {
	cfg := rawTestConfig()
	cfg.BoxSource = BoxFromMask
	h, err := New(cfg, testLosses())
	require.NoError(t, err)

	preds := []LevelPrediction{onePositiveLevel(h.Config(), 5, 6)}
	dets, err := h.Decode(preds, ImageMeta{Width: 64, Height: 64})
	require.NoError(t, err)
	require.Len(t, dets, 1)

	// The box is the tight envelope of the decoded polygon.
	want := decode.MaskBox(dets[0].Polygon)
	assert.Equal(t, want, dets[0].Box)
	assert.InDelta(t, 6.0, dets[0].Box.MaxX-12, 1e-9)
}

func TestDecodeRescale(t *testing.T) {
	h, err := New(rawTestConfig(), testLosses())
	require.NoError(t, err)

	preds := []LevelPrediction{onePositiveLevel(h.Config(), 5, 6)}
	dets, err := h.Decode(preds, ImageMeta{Width: 64, Height: 64, ScaleX: 2, ScaleY: 2})
	require.NoError(t, err)
	require.Len(t, dets, 1)

	assert.Equal(t, geometry.Box{MinX: 4, MinY: 4, MaxX: 8, MaxY: 8}, dets[0].Box)
	for _, pt := range dets[0].Polygon {
		assert.InDelta(t, 3.0, math.Hypot(pt.X-6, pt.Y-6), 1e-9)
	}
}

func TestDecodeFourierRepresentation(t *testing.T) {
	cfg := rawTestConfig()
	cfg.Representation = RepresentationFourier
	cfg.NumCoefficients = 19
	cfg.VisualizeCoefficients = 19
	h, err := New(cfg, testLosses())
	require.NoError(t, err)

	// Coefficient pairs of a constant log-distance signal.
	codec, err := fourier.NewCodec(36, 19)
	require.NoError(t, err)
	logs := make([]float64, 36)
	for i := range logs {
		logs[i] = math.Log(6)
	}
	coeffs, err := codec.Forward(logs)
	require.NoError(t, err)
	pairs := fourier.ComplexToPairs(coeffs)

	p := constLevel(cfg, -10, 4, -10, 0)
	copy(p.MaskPreds[5*cfg.MaskChannels():], pairs)
	p.ClsScores[5*cfg.NumClasses] = 10
	p.Centerness[5] = 10

	dets, err := h.Decode([]LevelPrediction{p}, ImageMeta{Width: 64, Height: 64})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	for _, pt := range dets[0].Polygon {
		assert.InDelta(t, 6.0, math.Hypot(pt.X-12, pt.Y-12), 1e-6)
	}
}

func TestDecodeTopK(t *testing.T) {
	cfg := rawTestConfig()
	cfg.TopK = 1
	cfg.IoUThreshold = 0.99 // effectively no suppression
	h, err := New(cfg, testLosses())
	require.NoError(t, err)

	// Two hot points; top-k 1 keeps only the stronger one.
	p := onePositiveLevel(h.Config(), 5, 6)
	p.ClsScores[10*cfg.NumClasses] = 5
	p.Centerness[10] = 5

	dets, err := h.Decode([]LevelPrediction{p}, ImageMeta{Width: 64, Height: 64})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, geometry.Box{MinX: 8, MinY: 8, MaxX: 16, MaxY: 16}, dets[0].Box)
}

func TestDecodeVisualizerHook(t *testing.T) {
	h, err := New(rawTestConfig(), testLosses())
	require.NoError(t, err)

	called := 0
	h.SetVisualizer(func(meta ImageMeta, dets []decode.Detection) {
		called++
		assert.Equal(t, 64, meta.Width)
		assert.Len(t, dets, 1)
	})

	preds := []LevelPrediction{onePositiveLevel(h.Config(), 5, 6)}
	_, err = h.Decode(preds, ImageMeta{Width: 64, Height: 64})
	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestDecodeShapeMismatch(t *testing.T) {
	h, err := New(rawTestConfig(), testLosses())
	require.NoError(t, err)

	bad := constLevel(h.Config(), 0, 1, 0, 1)
	bad.Centerness = bad.Centerness[:3]
	_, err = h.Decode([]LevelPrediction{bad}, ImageMeta{Width: 64, Height: 64})
	assert.Error(t, err)
}

func TestMaskNMSUsesPolygonEnvelopes(t *testing.T) {
	cfg := rawTestConfig()
	cfg.MaskNMS = true
	h, err := New(cfg, testLosses())
	require.NoError(t, err)

	var seenBoxes []geometry.Box
	h.SetNMS(func(boxes []geometry.Box, scores [][]float64, masks [][]geometry.Point,
		factors []float64, nmsCfg decode.NMSConfig,
	) []decode.Detection {
		seenBoxes = append(seenBoxes, boxes...)
		return decode.MulticlassNMS(boxes, scores, masks, factors, nmsCfg)
	})

	preds := []LevelPrediction{onePositiveLevel(h.Config(), 5, 6)}
	_, err = h.Decode(preds, ImageMeta{Width: 64, Height: 64})
	require.NoError(t, err)

	// The hot point's NMS box is the polygon envelope (radius 6), not
	// the regressed distance-4 box.
	hot := seenBoxes[5]
	assert.InDelta(t, 6.0, 12-hot.MinX, 1e-9)
}
