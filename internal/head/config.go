// Package head orchestrates the FourierNet output head: it turns
// per-level prediction tensors plus ground truth into named scalar
// losses at training time, and into decoded detections at inference.
// The learned feature extraction that produces the tensors lives
// outside this module.
package head

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/fournet/internal/assign"
)

// Representation selects how mask predictions and targets are encoded.
// It is resolved once at construction; each variant maps to a fixed
// pipeline rather than per-call branching.
type Representation int

const (
	// RepresentationRaw regresses one distance per angle bin directly.
	RepresentationRaw Representation = iota
	// RepresentationFourier regresses truncated real-FFT coefficient
	// pairs of the log-distance signal.
	RepresentationFourier
)

// BoxSource selects where predicted boxes come from.
type BoxSource int

const (
	// BoxFromRegression uses the dedicated 4-channel box branch.
	BoxFromRegression BoxSource = iota
	// BoxFromMask derives boxes as envelopes of the decoded polygons.
	BoxFromMask
)

// Config fixes the head's behavior. Malformed configurations are
// rejected once at construction, never per call.
type Config struct {
	NumClasses    int   // foreground class count (background is implicit)
	ContourPoints int   // angle bins N
	Strides       []int // one per pyramid level

	Representation        Representation
	NumCoefficients       int // retained coefficients K (Fourier only)
	VisualizeCoefficients int // coefficients used at inference, 0 = all

	BoxSource      BoxSource
	MaskNMS        bool // run NMS on polygon envelopes instead of predicted boxes
	ClampMaskToBox bool // clamp decoded polygons to the predicted box

	LossOnCoefficients bool // mask loss in the coefficient domain

	RegressRanges        []assign.RegressRange
	CenterSample         bool
	UseMaskCenter        bool
	Radius               float64
	NormalizedCenterness bool
	CenternessFactor     float64 // additive score offset at NMS time

	TopK           int // pre-NMS candidates per level, 0 = all
	ScoreThreshold float64
	IoUThreshold   float64
	MaxDetections  int

	Workers int // assignment worker count, 0 = GOMAXPROCS
}

// DefaultConfig mirrors the standard five-level FPN setup.
func DefaultConfig() Config {
	return Config{
		NumClasses:            80,
		ContourPoints:         360,
		Strides:               []int{4, 8, 16, 32, 64},
		Representation:        RepresentationFourier,
		NumCoefficients:       36,
		VisualizeCoefficients: 36,
		BoxSource:             BoxFromRegression,
		RegressRanges: []assign.RegressRange{
			{Min: -1, Max: 64},
			{Min: 64, Max: 128},
			{Min: 128, Max: 256},
			{Min: 256, Max: 512},
			{Min: 512, Max: math.MaxFloat64},
		},
		CenterSample:     true,
		UseMaskCenter:    true,
		Radius:           1.5,
		CenternessFactor: 0.5,
		TopK:             1000,
		ScoreThreshold:   0.05,
		IoUThreshold:     0.5,
		MaxDetections:    100,
	}
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	if c.NumClasses <= 0 {
		return fmt.Errorf("head: class count %d must be positive", c.NumClasses)
	}
	if c.ContourPoints <= 0 || 360%c.ContourPoints != 0 {
		return fmt.Errorf("head: contour points %d must be a positive divisor of 360", c.ContourPoints)
	}
	if len(c.Strides) == 0 {
		return fmt.Errorf("head: no strides configured")
	}
	if len(c.RegressRanges) != len(c.Strides) {
		return fmt.Errorf("head: %d regression ranges for %d strides", len(c.RegressRanges), len(c.Strides))
	}
	if c.Representation == RepresentationFourier {
		if c.NumCoefficients <= 0 || c.NumCoefficients > c.ContourPoints/2+1 {
			return fmt.Errorf("head: coefficient count %d out of range [1,%d]",
				c.NumCoefficients, c.ContourPoints/2+1)
		}
		if c.VisualizeCoefficients < 0 || c.VisualizeCoefficients > c.NumCoefficients {
			return fmt.Errorf("head: visualization coefficients %d out of range [0,%d]",
				c.VisualizeCoefficients, c.NumCoefficients)
		}
	} else if c.LossOnCoefficients {
		return fmt.Errorf("head: coefficient-domain loss requires the Fourier representation")
	}
	return nil
}

// MaskChannels returns the per-point width of the mask prediction:
// N distances for the raw representation, 2K interleaved pairs for the
// Fourier one.
func (c Config) MaskChannels() int {
	if c.Representation == RepresentationFourier {
		return 2 * c.NumCoefficients
	}
	return c.ContourPoints
}
