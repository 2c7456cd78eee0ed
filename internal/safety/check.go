package safety

import (
	"errors"
	"fmt"
	"sync"

	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/robot"
)

// Check is one alignment check. Evaluate must be free of side effects;
// the evaluator may call it from several goroutines at once.
type Check interface {
	Name() string
	Evaluate(action inference.ActionVector, profile robot.Profile, ctx inference.Context) Verdict
}

// Enveloper is implemented by checks whose violations can be repaired by
// axis-wise clipping. Envelope returns the allowed interval per action axis.
type Enveloper interface {
	Envelope(profile robot.Profile, ctx inference.Context) Box
}

// Box maps action axis indices to allowed intervals. Axes not present are
// unconstrained.
type Box map[int]robot.Interval

// CheckFunc adapts a plain function into a Check.
type CheckFunc func(action inference.ActionVector, profile robot.Profile, ctx inference.Context) Verdict

type funcCheck struct {
	name string
	fn   CheckFunc
}

// NewFuncCheck wraps fn as a named Check.
func NewFuncCheck(name string, fn CheckFunc) Check {
	return funcCheck{name: name, fn: fn}
}

func (f funcCheck) Name() string { return f.name }

func (f funcCheck) Evaluate(action inference.ActionVector, profile robot.Profile, ctx inference.Context) Verdict {
	return f.fn(action, profile, ctx)
}

// Registry is the ordered set of checks an Evaluator runs.
type Registry struct {
	mu     sync.RWMutex
	checks []Check
	names  map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register appends a check. Names must be unique.
func (r *Registry) Register(c Check) error {
	if c == nil {
		return errors.New("safety: nil check")
	}
	name := c.Name()
	if name == "" {
		return errors.New("safety: check name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("safety: check %q already registered", name)
	}
	r.names[name] = struct{}{}
	r.checks = append(r.checks, c)
	return nil
}

// Checks returns a snapshot of the registered checks in registration order.
func (r *Registry) Checks() []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Check, len(r.checks))
	copy(out, r.checks)
	return out
}

// Names lists registered check names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.checks))
	for _, c := range r.checks {
		out = append(out, c.Name())
	}
	return out
}
