package head

import (
	"fmt"

	"github.com/MeKo-Tech/fournet/internal/assign"
	"github.com/MeKo-Tech/fournet/internal/decode"
	"github.com/MeKo-Tech/fournet/internal/fourier"
	"github.com/MeKo-Tech/fournet/internal/grid"
)

// LevelPrediction carries the raw per-point outputs of one pyramid
// level for one image, flattened point-major: element p*channels+c is
// channel c of the point at row-major spatial index p.
//
// ClsScores and Centerness hold logits. BoxPreds holds already
// exponentiated edge distances, as the network's box branch emits them.
// MaskPreds holds exponentiated distances for the raw representation or
// interleaved coefficient pairs for the Fourier one.
type LevelPrediction struct {
	Height     int
	Width      int
	ClsScores  []float64
	BoxPreds   []float64
	Centerness []float64
	MaskPreds  []float64
}

// ImageMeta describes the decode target image. Scale factors map
// original-image coordinates to network-input coordinates; decoded
// outputs are divided by them. Zero values mean no rescaling.
type ImageMeta struct {
	Width  int
	Height int
	ScaleX float64
	ScaleY float64
}

// Losses is the named scalar loss set for one batch.
type Losses struct {
	Cls         float64
	Box         float64
	Mask        float64
	Centerness  float64
	NumPositive int
}

// ClassificationLoss scores per-point class logits against integer
// labels (0 = background) with an explicit averaging factor.
type ClassificationLoss func(logits [][]float64, labels []int, avgFactor float64) float64

// RegressionLoss scores row-wise predictions against targets with
// optional per-row weights and an averaging factor.
type RegressionLoss func(preds, targets [][]float64, weights []float64, avgFactor float64) float64

// CenternessLoss scores centerness logits against targets in (0,1].
type CenternessLoss func(logits, targets []float64) float64

// LossFuncs bundles the four independently pluggable loss callables.
type LossFuncs struct {
	Classification ClassificationLoss
	Box            RegressionLoss
	Mask           RegressionLoss
	Centerness     CenternessLoss
}

// VisualizeFunc receives each image's final detections; the head invokes
// it from Decode when set. It replaces any internal debug state.
type VisualizeFunc func(meta ImageMeta, dets []decode.Detection)

// Head glues assignment, coding, and decoding into the training and
// inference entrypoints. The representation and box-source variants are
// resolved into fixed collaborators at construction.
type Head struct {
	cfg       Config
	assigner  *assign.Assigner
	decoder   *decode.Decoder
	codec     *fourier.Codec // nil for the raw representation
	nms       decode.NMSFunc
	losses    LossFuncs
	visualize VisualizeFunc
}

// New builds a head. The loss callables may be zero-valued if only
// Decode is used; ComputeLoss checks for them.
func New(cfg Config, losses LossFuncs) (*Head, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	assigner, err := assign.New(assign.Config{
		ContourPoints:        cfg.ContourPoints,
		RegressRanges:        cfg.RegressRanges,
		CenterSample:         cfg.CenterSample,
		UseMaskCenter:        cfg.UseMaskCenter,
		Radius:               cfg.Radius,
		NormalizedCenterness: cfg.NormalizedCenterness,
		Workers:              cfg.Workers,
	})
	if err != nil {
		return nil, err
	}
	var codec *fourier.Codec
	if cfg.Representation == RepresentationFourier {
		codec, err = fourier.NewCodec(cfg.ContourPoints, cfg.NumCoefficients)
		if err != nil {
			return nil, err
		}
	}
	decoder, err := decode.NewDecoder(cfg.ContourPoints, codec, cfg.VisualizeCoefficients)
	if err != nil {
		return nil, err
	}
	return &Head{
		cfg:      cfg,
		assigner: assigner,
		decoder:  decoder,
		codec:    codec,
		nms:      decode.MulticlassNMS,
		losses:   losses,
	}, nil
}

// Config returns the head's resolved configuration.
func (h *Head) Config() Config { return h.cfg }

// SetNMS replaces the default NMS implementation.
func (h *Head) SetNMS(f decode.NMSFunc) {
	if f != nil {
		h.nms = f
	}
}

// SetVisualizer installs the decode-time visualization hook.
func (h *Head) SetVisualizer(f VisualizeFunc) { h.visualize = f }

// buildGrid derives the point grid from one image's level sizes.
func (h *Head) buildGrid(preds []LevelPrediction) (*grid.Grid, error) {
	if len(preds) != len(h.cfg.Strides) {
		return nil, fmt.Errorf("head: %d prediction levels, config has %d strides",
			len(preds), len(h.cfg.Strides))
	}
	levels := make([]grid.Level, len(preds))
	for i, p := range preds {
		levels[i] = grid.Level{Height: p.Height, Width: p.Width, Stride: h.cfg.Strides[i]}
	}
	return grid.New(levels)
}

// checkShapes verifies one image's tensors against their level sizes.
func (h *Head) checkShapes(preds []LevelPrediction) error {
	maskCh := h.cfg.MaskChannels()
	for li, p := range preds {
		n := p.Height * p.Width
		if len(p.ClsScores) != n*h.cfg.NumClasses {
			return fmt.Errorf("head: level %d class scores have %d values, want %d",
				li, len(p.ClsScores), n*h.cfg.NumClasses)
		}
		if len(p.BoxPreds) != n*4 {
			return fmt.Errorf("head: level %d box predictions have %d values, want %d",
				li, len(p.BoxPreds), n*4)
		}
		if len(p.Centerness) != n {
			return fmt.Errorf("head: level %d centerness has %d values, want %d",
				li, len(p.Centerness), n)
		}
		if len(p.MaskPreds) != n*maskCh {
			return fmt.Errorf("head: level %d mask predictions have %d values, want %d",
				li, len(p.MaskPreds), n*maskCh)
		}
	}
	return nil
}
