package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fournet/internal/head"
)

// freshLoader avoids the shared global viper so tests stay isolated.
func freshLoader() *Loader {
	return &Loader{v: viper.New()}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfigUnboundedTopRange(t *testing.T) {
	cfg := DefaultConfig()
	last := cfg.Head.RegressRanges[len(cfg.Head.RegressRanges)-1]
	assert.Equal(t, -1.0, last[1])
}

func TestToHeadConfig(t *testing.T) {
	cfg := DefaultConfig()
	headCfg, err := cfg.Head.ToHeadConfig()
	require.NoError(t, err)

	assert.Equal(t, head.RepresentationFourier, headCfg.Representation)
	assert.Equal(t, head.BoxFromRegression, headCfg.BoxSource)
	require.Len(t, headCfg.RegressRanges, len(cfg.Head.Strides))
	assert.Equal(t, math.MaxFloat64, headCfg.RegressRanges[len(headCfg.RegressRanges)-1].Max)
}

func TestToHeadConfigVariants(t *testing.T) {
	hc := DefaultConfig().Head
	hc.Representation = RepresentationRaw
	hc.BoxSource = BoxSourceMask

	headCfg, err := hc.ToHeadConfig()
	require.NoError(t, err)
	assert.Equal(t, head.RepresentationRaw, headCfg.Representation)
	assert.Equal(t, head.BoxFromMask, headCfg.BoxSource)
}

func TestToHeadConfigRejectsUnknownNames(t *testing.T) {
	hc := DefaultConfig().Head
	hc.Representation = "polar"
	_, err := hc.ToHeadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown representation")

	hc = DefaultConfig().Head
	hc.BoxSource = "oracle"
	_, err = hc.ToHeadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown box source")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "log level",
		},
		{
			name:    "bad output format",
			mutate:  func(c *Config) { c.Output.Format = "xml" },
			wantErr: "output format",
		},
		{
			name:    "bad head config",
			mutate:  func(c *Config) { c.Head.ContourPoints = 7 },
			wantErr: "head configuration",
		},
		{
			name: "bad session when model set",
			mutate: func(c *Config) {
				c.Session.ModelPath = "model.onnx"
				c.Session.NumLevels = 0
			},
			wantErr: "session configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	tmpDir := t.TempDir()
	originalWd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(originalWd) }()
	require.NoError(t, os.Chdir(tmpDir))

	loader := freshLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 360, cfg.Head.ContourPoints)
}

func TestLoadWithFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "fournet.yaml")
	content := `
log_level: debug
head:
  num_classes: 3
  representation: raw
output:
  format: csv
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader := freshLoader()
	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Head.NumClasses)
	assert.Equal(t, RepresentationRaw, cfg.Head.Representation)
	assert.Equal(t, "csv", cfg.Output.Format)
	// Unset fields keep their defaults.
	assert.Equal(t, 360, cfg.Head.ContourPoints)
}

func TestLoadWithMissingFile(t *testing.T) {
	loader := freshLoader()
	_, err := loader.LoadWithFile("/nonexistent/fournet.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoadEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	originalWd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(originalWd) }()
	require.NoError(t, os.Chdir(tmpDir))

	t.Setenv("FOURNET_LOG_LEVEL", "warn")

	loader := freshLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadInvalidFileFails(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "fournet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("head:\n  contour_points: 7\n"), 0o600))

	loader := freshLoader()
	_, err := loader.LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}
