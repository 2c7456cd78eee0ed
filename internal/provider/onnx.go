package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/inference"
)

// ONNXProvider runs a VLA policy exported to ONNX in-process. The model takes
// a 1x3xSxS image and 1xL token ids and produces a 1x7 action.
type ONNXProvider struct {
	cfg     config.ONNXConfig
	session *ort.AdvancedSession

	pixels *ort.Tensor[float32]
	tokens *ort.Tensor[int64]
	output *ort.Tensor[float32]

	mu sync.Mutex
}

// NewONNX loads the model and allocates the fixed input/output tensors.
func NewONNX(cfg config.ONNXConfig) (*ONNXProvider, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("inference.onnx.model_path is empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", cfg.ModelPath, err)
	}
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = 224
	}
	if cfg.SeqLen <= 0 {
		cfg.SeqLen = 64
	}

	libPath := resolveSharedLibraryPath(cfg.SharedLibraryPath, filepath.Dir(cfg.ModelPath))
	if libPath == "" {
		return nil, fmt.Errorf("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or inference.onnx.shared_library_path")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	size := int64(cfg.ImageSize)
	pixels, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("allocate %s tensor: %w", cfg.ImageInput, err)
	}
	tokens, err := ort.NewEmptyTensor[int64](ort.NewShape(1, int64(cfg.SeqLen)))
	if err != nil {
		pixels.Destroy()
		return nil, fmt.Errorf("allocate %s tensor: %w", cfg.TokenInput, err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, inference.ActionDims))
	if err != nil {
		pixels.Destroy()
		tokens.Destroy()
		return nil, fmt.Errorf("allocate %s tensor: %w", cfg.ActionOutput, err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.ImageInput, cfg.TokenInput},
		[]string{cfg.ActionOutput},
		[]ort.Value{pixels, tokens},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		pixels.Destroy()
		tokens.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXProvider{
		cfg:     cfg,
		session: session,
		pixels:  pixels,
		tokens:  tokens,
		output:  output,
	}, nil
}

func (p *ONNXProvider) Name() string { return "onnx" }

// Infer runs one forward pass. Runs are serialized because the session binds
// a single set of tensors.
func (p *ONNXProvider) Infer(ctx context.Context, req *inference.Request) ([]float64, error) {
	if p == nil || p.session == nil {
		return nil, &InferenceError{Provider: "onnx", Err: errors.New("onnx model not initialized")}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, asInferenceError(p.Name(), err)
	}
	if err := imageTensor(req.Image, p.cfg.ImageSize, p.pixels.GetData()); err != nil {
		return nil, &InferenceError{Provider: p.Name(), Err: err}
	}
	byteTokens(req.Context.Instruction, p.cfg.SeqLen, p.tokens.GetData())

	if err := p.session.Run(); err != nil {
		return nil, &InferenceError{Provider: p.Name(), Retryable: true, Err: fmt.Errorf("onnx run: %w", err)}
	}

	raw := make([]float32, inference.ActionDims)
	copy(raw, p.output.GetData())
	return unnormalize(raw, p.cfg.ActionLow, p.cfg.ActionHigh), nil
}

// Close releases the session and its tensors.
func (p *ONNXProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.session != nil {
		errs = append(errs, p.session.Destroy())
		p.session = nil
	}
	for _, t := range []interface{ Destroy() error }{p.pixels, p.tokens, p.output} {
		if t != nil {
			errs = append(errs, t.Destroy())
		}
	}
	return errors.Join(errs...)
}

// resolveSharedLibraryPath locates the onnxruntime shared library. An explicit
// path wins, then ONNXRUNTIME_SHARED_LIBRARY_PATH, then common locations.
func resolveSharedLibraryPath(explicit, modelDir string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.so",
		"libonnxruntime.dylib",
		"onnxruntime.dll",
	}
	dirs := []string{
		modelDir,
		filepath.Join(modelDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
