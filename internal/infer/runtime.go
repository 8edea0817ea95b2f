// Package infer runs an exported head model through ONNX Runtime and
// converts its raw per-level output tensors into the flattened
// prediction layout the head decodes.
package infer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/yalue/onnxruntime_go"
)

const (
	osLinux    = "linux"
	osDarwin   = "darwin"
	osWindows  = "windows"
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"
)

// setupEnvironment resolves the shared library and initializes the
// ONNX Runtime environment once.
func setupEnvironment(useGPU bool) error {
	if err := setLibraryPath(useGPU); err != nil {
		return fmt.Errorf("failed to set ONNX Runtime library path: %w", err)
	}
	if !onnxruntime_go.IsInitialized() {
		if err := onnxruntime_go.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
		}
	}
	return nil
}

// setLibraryPath points onnxruntime_go at a shared library, preferring
// system locations and falling back to an onnxruntime/ directory under
// the project root.
func setLibraryPath(useGPU bool) error {
	for _, path := range systemLibraryPaths(useGPU) {
		if trySetLibraryPath(path) {
			return nil
		}
	}

	projectRoot, err := findProjectRoot()
	if err != nil {
		return err
	}
	libName, err := libraryName()
	if err != nil {
		return err
	}
	if useGPU {
		if trySetLibraryPath(filepath.Join(projectRoot, "onnxruntime", "gpu", "lib", libName)) {
			return nil
		}
	}
	libPath := filepath.Join(projectRoot, "onnxruntime", "lib", libName)
	if !trySetLibraryPath(libPath) {
		return fmt.Errorf("ONNX Runtime library not found at %s", libPath)
	}
	return nil
}

func systemLibraryPaths(useGPU bool) []string {
	if useGPU {
		return []string{
			"/opt/onnxruntime/gpu/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
		}
	}
	return []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	}
}

func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	root := cwd
	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			return root, nil
		}
		parent := filepath.Dir(root)
		if parent == root {
			return "", errors.New("could not find project root")
		}
		root = parent
	}
}

func libraryName() (string, error) {
	switch runtime.GOOS {
	case osLinux:
		return libLinux, nil
	case osDarwin:
		return libDarwin, nil
	case osWindows:
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

func trySetLibraryPath(path string) bool {
	if _, err := os.Stat(path); err == nil {
		onnxruntime_go.SetSharedLibraryPath(path)
		return true
	}
	return false
}
