package provider

import (
	"context"
	"sync/atomic"

	"github.com/straja-ai/vlaguard/internal/inference"
)

// defaultFakeAction is a resting pose with a half-open gripper.
var defaultFakeAction = []float64{0, 0, 0.1, 0, 0, 0, 0.5}

// FakeProvider returns a fixed action, or the result of Func when set.
type FakeProvider struct {
	Action []float64
	Error  error
	Func   func(ctx context.Context, req *inference.Request) ([]float64, error)

	calls atomic.Int64
}

func NewFake(action []float64) *FakeProvider {
	if len(action) == 0 {
		action = defaultFakeAction
	}
	out := make([]float64, len(action))
	copy(out, action)
	return &FakeProvider{Action: out}
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Infer(ctx context.Context, req *inference.Request) ([]float64, error) {
	f.calls.Add(1)
	if f.Func != nil {
		return f.Func(ctx, req)
	}
	if f.Error != nil {
		return nil, f.Error
	}
	out := make([]float64, len(f.Action))
	copy(out, f.Action)
	return out, nil
}

// Calls reports how many times Infer ran.
func (f *FakeProvider) Calls() int64 { return f.calls.Load() }
