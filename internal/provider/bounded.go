package provider

import (
	"context"
	"time"

	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/redact"
)

// Bounded wraps a provider with a per-attempt timeout and a retry budget.
// Inference is treated as idempotent, so failed attempts are simply repeated.
type Bounded struct {
	next       Provider
	timeout    time.Duration
	maxRetries int
}

// NewBounded wraps next. timeout <= 0 leaves attempts bounded only by ctx.
func NewBounded(next Provider, timeout time.Duration, maxRetries int) *Bounded {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Bounded{next: next, timeout: timeout, maxRetries: maxRetries}
}

func (b *Bounded) Name() string { return b.next.Name() }

// Unwrap returns the wrapped provider.
func (b *Bounded) Unwrap() Provider { return b.next }

// Infer returns an *InferenceError on failure. A timeout is flagged as such
// even when the retry also failed differently, if the last attempt timed out.
func (b *Bounded) Infer(ctx context.Context, req *inference.Request) ([]float64, error) {
	var last *InferenceError
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return nil, last
			}
			return nil, asInferenceError(b.Name(), err)
		}

		action, err := b.attempt(ctx, req)
		if err == nil {
			return action, nil
		}
		last = asInferenceError(b.Name(), err)
		if !last.Retryable {
			break
		}
		if attempt < b.maxRetries {
			redact.Logf("inference: %s attempt %d failed, retrying: %v", b.Name(), attempt+1, last)
		}
	}
	return nil, last
}

func (b *Bounded) attempt(ctx context.Context, req *inference.Request) ([]float64, error) {
	if b.timeout <= 0 {
		return b.next.Infer(ctx, req)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		action []float64
		err    error
	}
	done := make(chan result, 1)
	go func() {
		a, err := b.next.Infer(attemptCtx, req)
		done <- result{a, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &InferenceError{Provider: b.Name(), Timeout: true, Retryable: true, Err: context.DeadlineExceeded}
		}
		return r.action, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, &InferenceError{Provider: b.Name(), Err: ctx.Err()}
		}
		return nil, &InferenceError{Provider: b.Name(), Timeout: true, Retryable: true, Err: context.DeadlineExceeded}
	}
}
