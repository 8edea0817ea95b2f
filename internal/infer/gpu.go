package infer

import (
	"fmt"
	"strconv"

	"github.com/yalue/onnxruntime_go"
)

// GPUConfig holds configuration for GPU acceleration using CUDA.
type GPUConfig struct {
	UseGPU      bool   `mapstructure:"use_gpu"      json:"use_gpu"      yaml:"use_gpu"`
	DeviceID    int    `mapstructure:"device_id"    json:"device_id"    yaml:"device_id"`
	GPUMemLimit uint64 `mapstructure:"gpu_mem_limit" json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
}

// DefaultGPUConfig returns the CPU-only default.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		UseGPU:      false,
		DeviceID:    0,
		GPUMemLimit: 0,
	}
}

// Validate checks GPU configuration values.
func (c GPUConfig) Validate() error {
	if c.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", c.DeviceID)
	}
	return nil
}

// configureSessionForGPU appends the CUDA execution provider when GPU
// use is requested. With UseGPU false it leaves the session CPU-only.
func configureSessionForGPU(opts *onnxruntime_go.SessionOptions, cfg GPUConfig) error {
	if !cfg.UseGPU {
		return nil
	}

	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if destroyErr := cudaOpts.Destroy(); destroyErr != nil {
			fmt.Printf("Warning: failed to destroy CUDA provider options: %v\n", destroyErr)
		}
	}()

	settings := map[string]string{
		"device_id": strconv.Itoa(cfg.DeviceID),
	}
	if cfg.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(cfg.GPUMemLimit, 10)
	}

	if err := cudaOpts.Update(settings); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}
