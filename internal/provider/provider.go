package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/inference"
)

// Provider is the interface for VLA inference backends. Infer returns the raw
// predicted components; shape and finiteness are checked by the caller.
type Provider interface {
	Name() string
	Infer(ctx context.Context, req *inference.Request) ([]float64, error)
}

// InferenceError reports a failed or timed-out inference call.
type InferenceError struct {
	Provider   string
	Timeout    bool
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *InferenceError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("inference %s: timed out: %v", e.Provider, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("inference %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("inference %s: %v", e.Provider, e.Err)
	}
}

func (e *InferenceError) Unwrap() error { return e.Err }

// asInferenceError wraps err unless it already is an *InferenceError.
func asInferenceError(name string, err error) *InferenceError {
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie
	}
	return &InferenceError{
		Provider:  name,
		Timeout:   errors.Is(err, context.DeadlineExceeded),
		Retryable: !errors.Is(err, context.Canceled),
		Err:       err,
	}
}

// New builds the provider selected by inference.type, wrapped with the
// configured per-attempt timeout and retry budget.
func New(cfg config.InferenceConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "http":
		apiKey := ""
		if cfg.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.APIKeyEnv)
		}
		p = NewHTTP(cfg.BaseURL, apiKey, cfg.MaxResponseBytes)
	case "onnx":
		p, err = NewONNX(cfg.ONNX)
	case "fake", "":
		p = NewFake(cfg.Fake.Action)
	default:
		return nil, fmt.Errorf("unknown inference type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return NewBounded(p, cfg.Timeout, cfg.MaxRetries), nil
}
