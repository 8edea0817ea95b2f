package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "fournet"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "FOURNET"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader over the global viper instance so flag
// bindings made by the command layer take effect.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// Load loads configuration from files, environment variables, and
// defaults, then validates it.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.load("")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFile loads configuration from a specific file path. An empty
// path falls back to the regular search paths.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
	}
	cfg, err := l.load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) load(configFile string) (*Config, error) {
	if configFile != "" {
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Missing config file is fine, defaults and env vars apply.
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// addConfigPaths registers the file search locations.
func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}

	l.v.AddConfigPath("/etc/fournet")

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		l.v.AddConfigPath(filepath.Join(configDir, "fournet"))
	} else if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "fournet"))
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	l.v.SetDefault("head.num_classes", defaults.Head.NumClasses)
	l.v.SetDefault("head.contour_points", defaults.Head.ContourPoints)
	l.v.SetDefault("head.strides", defaults.Head.Strides)
	l.v.SetDefault("head.representation", defaults.Head.Representation)
	l.v.SetDefault("head.num_coefficients", defaults.Head.NumCoefficients)
	l.v.SetDefault("head.visualize_coefficients", defaults.Head.VisualizeCoefficients)
	l.v.SetDefault("head.box_source", defaults.Head.BoxSource)
	l.v.SetDefault("head.mask_nms", defaults.Head.MaskNMS)
	l.v.SetDefault("head.clamp_mask_to_box", defaults.Head.ClampMaskToBox)
	l.v.SetDefault("head.loss_on_coefficients", defaults.Head.LossOnCoefficients)
	l.v.SetDefault("head.regress_ranges", defaults.Head.RegressRanges)
	l.v.SetDefault("head.center_sample", defaults.Head.CenterSample)
	l.v.SetDefault("head.use_mask_center", defaults.Head.UseMaskCenter)
	l.v.SetDefault("head.radius", defaults.Head.Radius)
	l.v.SetDefault("head.normalized_centerness", defaults.Head.NormalizedCenterness)
	l.v.SetDefault("head.centerness_factor", defaults.Head.CenternessFactor)
	l.v.SetDefault("head.top_k", defaults.Head.TopK)
	l.v.SetDefault("head.score_threshold", defaults.Head.ScoreThreshold)
	l.v.SetDefault("head.iou_threshold", defaults.Head.IoUThreshold)
	l.v.SetDefault("head.max_detections", defaults.Head.MaxDetections)
	l.v.SetDefault("head.workers", defaults.Head.Workers)

	l.v.SetDefault("session.num_threads", defaults.Session.NumThreads)
	l.v.SetDefault("session.num_levels", defaults.Session.NumLevels)
	l.v.SetDefault("session.max_side", defaults.Session.MaxSide)
	l.v.SetDefault("session.gpu.use_gpu", defaults.Session.GPU.UseGPU)
	l.v.SetDefault("session.gpu.device_id", defaults.Session.GPU.DeviceID)
	l.v.SetDefault("session.gpu.gpu_mem_limit", defaults.Session.GPU.GPUMemLimit)

	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.output_dir", defaults.Output.OutputDir)
	l.v.SetDefault("output.overlay_dir", defaults.Output.OverlayDir)
	l.v.SetDefault("output.save_overlay", defaults.Output.SaveOverlay)
}
