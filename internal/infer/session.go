package infer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/fournet/internal/head"
)

// Outputs per pyramid level: classification, box regression,
// centerness, mask coefficients, in that order.
const outputsPerLevel = 4

// Config holds session configuration.
type Config struct {
	ModelPath  string    `mapstructure:"model_path"  json:"model_path"  yaml:"model_path"`
	NumThreads int       `mapstructure:"num_threads" json:"num_threads" yaml:"num_threads"`
	NumLevels  int       `mapstructure:"num_levels"  json:"num_levels"  yaml:"num_levels"`
	MaxSide    int       `mapstructure:"max_side"    json:"max_side"    yaml:"max_side"`
	GPU        GPUConfig `mapstructure:"gpu"         json:"gpu"         yaml:"gpu"`
}

// DefaultConfig returns session defaults for a five level pyramid.
func DefaultConfig() Config {
	return Config{
		NumThreads: 0,
		NumLevels:  5,
		MaxSide:    1333,
		GPU:        DefaultGPUConfig(),
	}
}

// Validate checks session configuration values.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("thread count must be non-negative, got %d", c.NumThreads)
	}
	if c.NumLevels <= 0 {
		return fmt.Errorf("level count must be positive, got %d", c.NumLevels)
	}
	if c.MaxSide < 0 {
		return fmt.Errorf("max side must be non-negative, got %d", c.MaxSide)
	}
	return c.GPU.Validate()
}

// Session wraps an ONNX Runtime session for a head model exporting
// four output tensors per pyramid level.
type Session struct {
	mu          sync.RWMutex
	config      Config
	session     *onnxruntime_go.DynamicAdvancedSession
	inputName   string
	outputNames []string
}

// NewSession loads the model, validates its input and output surface
// and creates the runtime session.
func NewSession(config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := validateModelFile(config.ModelPath); err != nil {
		return nil, err
	}

	slog.Debug("Initializing inference session",
		"model_path", config.ModelPath,
		"gpu_enabled", config.GPU.UseGPU,
		"num_levels", config.NumLevels)

	if err := setupEnvironment(config.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputName, outputNames, err := validateModelInfo(config.ModelPath, config.NumLevels)
	if err != nil {
		return nil, err
	}

	session, err := createSession(config, inputName, outputNames)
	if err != nil {
		return nil, err
	}

	slog.Debug("Inference session initialized", "outputs", len(outputNames))
	return &Session{
		config:      config,
		session:     session,
		inputName:   inputName,
		outputNames: outputNames,
	}, nil
}

func validateModelFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("model file not accessible: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("model path is a directory: %s", path)
	}
	return nil
}

// validateModelInfo checks the model exposes one image input and four
// outputs per level, returning their names in model order.
func validateModelInfo(modelPath string, numLevels int) (string, []string, error) {
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read model info: %w", err)
	}
	if len(inputs) != 1 {
		return "", nil, fmt.Errorf("expected 1 model input, got %d", len(inputs))
	}
	want := numLevels * outputsPerLevel
	if len(outputs) != want {
		return "", nil, fmt.Errorf("expected %d model outputs for %d levels, got %d",
			want, numLevels, len(outputs))
	}
	names := make([]string, len(outputs))
	for i, out := range outputs {
		names[i] = out.Name
	}
	return inputs[0].Name, names, nil
}

func createSession(config Config, inputName string, outputNames []string,
) (*onnxruntime_go.DynamicAdvancedSession, error) {
	sessionOptions, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := sessionOptions.Destroy(); err != nil {
			fmt.Printf("Failed to destroy session options: %v", err)
		}
	}()

	if err := configureSessionForGPU(sessionOptions, config.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}

	if config.NumThreads > 0 {
		if err = sessionOptions.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(config.ModelPath,
		[]string{inputName}, outputNames, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}

// Config returns a copy of the session configuration.
func (s *Session) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Run executes the model on a prepared image and converts the raw
// output tensors into per-level predictions.
func (s *Session) Run(prepared *PreparedImage) ([]head.LevelPrediction, error) {
	if prepared == nil || prepared.Data == nil {
		return nil, errors.New("prepared image is nil")
	}

	s.mu.RLock()
	session := s.session
	numLevels := s.config.NumLevels
	s.mu.RUnlock()
	if session == nil {
		return nil, errors.New("session is closed")
	}

	inputShape := onnxruntime_go.NewShape(1, 3, int64(prepared.Height), int64(prepared.Width))
	inputTensor, err := onnxruntime_go.NewTensor(inputShape, prepared.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := inputTensor.Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "Error destroying input tensor: %v\n", err)
		}
	}()

	outputs := make([]onnxruntime_go.Value, numLevels*outputsPerLevel)
	if err := session.Run([]onnxruntime_go.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out == nil {
				continue
			}
			if err := out.Destroy(); err != nil {
				fmt.Fprintf(os.Stderr, "Error destroying output tensor: %v\n", err)
			}
		}
	}()

	return convertOutputs(outputs, numLevels)
}

// convertOutputs turns the flat output tensor list into per-level
// predictions, moving data from NCHW float32 to point-major float64.
func convertOutputs(outputs []onnxruntime_go.Value, numLevels int) ([]head.LevelPrediction, error) {
	preds := make([]head.LevelPrediction, numLevels)
	for li := range numLevels {
		base := li * outputsPerLevel
		cls, h, w, err := tensorPointMajor(outputs[base], "classification", li)
		if err != nil {
			return nil, err
		}
		box, bh, bw, err := tensorPointMajor(outputs[base+1], "box", li)
		if err != nil {
			return nil, err
		}
		ctr, ch, cw, err := tensorPointMajor(outputs[base+2], "centerness", li)
		if err != nil {
			return nil, err
		}
		mask, mh, mw, err := tensorPointMajor(outputs[base+3], "mask", li)
		if err != nil {
			return nil, err
		}
		if bh != h || bw != w || ch != h || cw != w || mh != h || mw != w {
			return nil, fmt.Errorf("level %d output tensors disagree on spatial size", li)
		}
		if len(ctr) != h*w {
			return nil, fmt.Errorf("level %d centerness tensor has %d channels, expected 1",
				li, len(ctr)/(h*w))
		}
		preds[li] = head.LevelPrediction{
			Height:     h,
			Width:      w,
			ClsScores:  cls,
			BoxPreds:   box,
			Centerness: ctr,
			MaskPreds:  mask,
		}
	}
	return preds, nil
}

// tensorPointMajor reads a [1, C, H, W] float32 tensor into a flat
// point-major float64 slice with C values per point.
func tensorPointMajor(value onnxruntime_go.Value, kind string, level int) ([]float64, int, int, error) {
	if value == nil {
		return nil, 0, 0, fmt.Errorf("missing %s output for level %d", kind, level)
	}
	floatTensor, ok := value.(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, 0, 0, fmt.Errorf("expected float32 %s tensor for level %d, got %T", kind, level, value)
	}
	shape := floatTensor.GetShape()
	if len(shape) != 4 || shape[0] != 1 {
		return nil, 0, 0, fmt.Errorf("expected [1,C,H,W] %s tensor for level %d, got %v", kind, level, shape)
	}
	channels := int(shape[1])
	h := int(shape[2])
	w := int(shape[3])
	data := floatTensor.GetData()
	if len(data) != channels*h*w {
		return nil, 0, 0, fmt.Errorf("%s tensor data length %d does not match shape %v", kind, len(data), shape)
	}

	plane := h * w
	out := make([]float64, channels*plane)
	for p := range plane {
		for c := range channels {
			out[p*channels+c] = float64(data[c*plane+p])
		}
	}
	return out, h, w, nil
}

// Close releases the underlying runtime session. The global runtime
// environment stays alive for other sessions.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			fmt.Printf("Failed to destroy inference session: %v", err)
		}
		s.session = nil
	}
	return nil
}
