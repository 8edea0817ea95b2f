// Package config defines the application configuration and loads it
// from files, environment variables, and flags.
package config

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/fournet/internal/assign"
	"github.com/MeKo-Tech/fournet/internal/head"
	"github.com/MeKo-Tech/fournet/internal/infer"
)

// Mask representation and box source names accepted in config files.
const (
	RepresentationRaw     = "raw"
	RepresentationFourier = "fourier"

	BoxSourceRegression = "regression"
	BoxSourceMask       = "mask"
)

// Config represents the complete configuration for the fournet
// application. It supports loading from configuration files,
// environment variables, and command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose"   yaml:"verbose"   json:"verbose"`

	Head    HeadConfig   `mapstructure:"head"    yaml:"head"    json:"head"`
	Session infer.Config `mapstructure:"session" yaml:"session" json:"session"`
	Output  OutputConfig `mapstructure:"output"  yaml:"output"  json:"output"`
}

// HeadConfig mirrors head.Config with file-friendly field types.
type HeadConfig struct {
	NumClasses    int   `mapstructure:"num_classes"    yaml:"num_classes"    json:"num_classes"`
	ContourPoints int   `mapstructure:"contour_points" yaml:"contour_points" json:"contour_points"`
	Strides       []int `mapstructure:"strides"        yaml:"strides"        json:"strides"`

	Representation        string `mapstructure:"representation"         yaml:"representation"         json:"representation"`
	NumCoefficients       int    `mapstructure:"num_coefficients"       yaml:"num_coefficients"       json:"num_coefficients"`
	VisualizeCoefficients int    `mapstructure:"visualize_coefficients" yaml:"visualize_coefficients" json:"visualize_coefficients"`

	BoxSource      string `mapstructure:"box_source"        yaml:"box_source"        json:"box_source"`
	MaskNMS        bool   `mapstructure:"mask_nms"          yaml:"mask_nms"          json:"mask_nms"`
	ClampMaskToBox bool   `mapstructure:"clamp_mask_to_box" yaml:"clamp_mask_to_box" json:"clamp_mask_to_box"`

	LossOnCoefficients bool `mapstructure:"loss_on_coefficients" yaml:"loss_on_coefficients" json:"loss_on_coefficients"`

	// RegressRanges holds [min, max] pairs, one per stride. A max of -1
	// stands for unbounded.
	RegressRanges        [][2]float64 `mapstructure:"regress_ranges"        yaml:"regress_ranges"        json:"regress_ranges"`
	CenterSample         bool         `mapstructure:"center_sample"         yaml:"center_sample"         json:"center_sample"`
	UseMaskCenter        bool         `mapstructure:"use_mask_center"       yaml:"use_mask_center"       json:"use_mask_center"`
	Radius               float64      `mapstructure:"radius"                yaml:"radius"                json:"radius"`
	NormalizedCenterness bool         `mapstructure:"normalized_centerness" yaml:"normalized_centerness" json:"normalized_centerness"`
	CenternessFactor     float64      `mapstructure:"centerness_factor"     yaml:"centerness_factor"     json:"centerness_factor"`

	TopK           int     `mapstructure:"top_k"           yaml:"top_k"           json:"top_k"`
	ScoreThreshold float64 `mapstructure:"score_threshold" yaml:"score_threshold" json:"score_threshold"`
	IoUThreshold   float64 `mapstructure:"iou_threshold"   yaml:"iou_threshold"   json:"iou_threshold"`
	MaxDetections  int     `mapstructure:"max_detections"  yaml:"max_detections"  json:"max_detections"`

	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
}

// OutputConfig controls where results are written.
type OutputConfig struct {
	Format      string `mapstructure:"format"       yaml:"format"       json:"format"`
	OutputDir   string `mapstructure:"output_dir"   yaml:"output_dir"   json:"output_dir"`
	OverlayDir  string `mapstructure:"overlay_dir"  yaml:"overlay_dir"  json:"overlay_dir"`
	SaveOverlay bool   `mapstructure:"save_overlay" yaml:"save_overlay" json:"save_overlay"`
}

// DefaultConfig returns the application defaults.
func DefaultConfig() Config {
	hd := head.DefaultConfig()
	ranges := make([][2]float64, len(hd.RegressRanges))
	for i, r := range hd.RegressRanges {
		maxVal := r.Max
		if maxVal == math.MaxFloat64 {
			maxVal = -1
		}
		ranges[i] = [2]float64{r.Min, maxVal}
	}
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Head: HeadConfig{
			NumClasses:            hd.NumClasses,
			ContourPoints:         hd.ContourPoints,
			Strides:               hd.Strides,
			Representation:        RepresentationFourier,
			NumCoefficients:       hd.NumCoefficients,
			VisualizeCoefficients: hd.VisualizeCoefficients,
			BoxSource:             BoxSourceRegression,
			MaskNMS:               hd.MaskNMS,
			ClampMaskToBox:        hd.ClampMaskToBox,
			LossOnCoefficients:    hd.LossOnCoefficients,
			RegressRanges:         ranges,
			CenterSample:          hd.CenterSample,
			UseMaskCenter:         hd.UseMaskCenter,
			Radius:                hd.Radius,
			NormalizedCenterness:  hd.NormalizedCenterness,
			CenternessFactor:      hd.CenternessFactor,
			TopK:                  hd.TopK,
			ScoreThreshold:        hd.ScoreThreshold,
			IoUThreshold:          hd.IoUThreshold,
			MaxDetections:         hd.MaxDetections,
			Workers:               hd.Workers,
		},
		Session: infer.DefaultConfig(),
		Output: OutputConfig{
			Format:      "json",
			OutputDir:   ".",
			SaveOverlay: false,
		},
	}
}

// ToHeadConfig converts the file representation into the head's
// config type.
func (h HeadConfig) ToHeadConfig() (head.Config, error) {
	cfg := head.Config{
		NumClasses:            h.NumClasses,
		ContourPoints:         h.ContourPoints,
		Strides:               h.Strides,
		NumCoefficients:       h.NumCoefficients,
		VisualizeCoefficients: h.VisualizeCoefficients,
		MaskNMS:               h.MaskNMS,
		ClampMaskToBox:        h.ClampMaskToBox,
		LossOnCoefficients:    h.LossOnCoefficients,
		CenterSample:          h.CenterSample,
		UseMaskCenter:         h.UseMaskCenter,
		Radius:                h.Radius,
		NormalizedCenterness:  h.NormalizedCenterness,
		CenternessFactor:      h.CenternessFactor,
		TopK:                  h.TopK,
		ScoreThreshold:        h.ScoreThreshold,
		IoUThreshold:          h.IoUThreshold,
		MaxDetections:         h.MaxDetections,
		Workers:               h.Workers,
	}

	switch h.Representation {
	case RepresentationRaw:
		cfg.Representation = head.RepresentationRaw
	case RepresentationFourier, "":
		cfg.Representation = head.RepresentationFourier
	default:
		return head.Config{}, fmt.Errorf("unknown representation %q", h.Representation)
	}

	switch h.BoxSource {
	case BoxSourceRegression, "":
		cfg.BoxSource = head.BoxFromRegression
	case BoxSourceMask:
		cfg.BoxSource = head.BoxFromMask
	default:
		return head.Config{}, fmt.Errorf("unknown box source %q", h.BoxSource)
	}

	cfg.RegressRanges = make([]assign.RegressRange, len(h.RegressRanges))
	for i, r := range h.RegressRanges {
		maxVal := r[1]
		if maxVal < 0 {
			maxVal = math.MaxFloat64
		}
		cfg.RegressRanges[i] = assign.RegressRange{Min: r[0], Max: maxVal}
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}

	headCfg, err := c.Head.ToHeadConfig()
	if err != nil {
		return fmt.Errorf("head configuration: %w", err)
	}
	if err := headCfg.Validate(); err != nil {
		return fmt.Errorf("head configuration: %w", err)
	}

	switch c.Output.Format {
	case "json", "csv":
	default:
		return fmt.Errorf("invalid output format %q", c.Output.Format)
	}

	// The session is only validated when a model path is set, so that
	// commands not touching ONNX work without one.
	if c.Session.ModelPath != "" {
		if err := c.Session.Validate(); err != nil {
			return fmt.Errorf("session configuration: %w", err)
		}
	}
	return nil
}
