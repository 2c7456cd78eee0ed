package safety

import (
	"fmt"
	"math"
	"sync"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/robot"
)

// Decision is what happens to a predicted action.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionClamp  Decision = "clamp"
	DecisionReject Decision = "reject"
)

// Result is the full outcome of one evaluation.
type Result struct {
	Decision Decision
	Score    float64
	// Clamped is set only when Decision is clamp. It has passed the checks
	// again, apart from failures below the reject severity in checks that
	// cannot clamp.
	Clamped  *inference.ActionVector
	Verdicts []Verdict
}

// Failed returns the verdicts that did not pass, in check order.
func (r Result) Failed() []Verdict {
	var out []Verdict
	for _, v := range r.Verdicts {
		if !v.Passed {
			out = append(out, v)
		}
	}
	return out
}

// MaxSeverity is the worst severity across all verdicts.
func (r Result) MaxSeverity() Severity {
	max := SeverityNone
	for _, v := range r.Verdicts {
		if !v.Passed && v.Severity > max {
			max = v.Severity
		}
	}
	return max
}

// Clean reports an allow with no failed verdicts at all.
func (r Result) Clean() bool {
	return r.Decision == DecisionAllow && len(r.Failed()) == 0
}

// Evaluator runs every registered check and turns the verdicts into a
// decision. It keeps no state between calls.
type Evaluator struct {
	registry        *Registry
	clampThreshold  float64
	rejectThreshold float64
	rejectSeverity  Severity
	weights         map[string]float64
	penalties       [SeverityCritical + 1]float64
}

// NewEvaluator builds an evaluator over registry using the safety config.
func NewEvaluator(cfg config.SafetyConfig, registry *Registry) (*Evaluator, error) {
	if registry == nil {
		return nil, fmt.Errorf("safety: registry is nil")
	}
	rejectSev, err := ParseSeverity(cfg.RejectSeverity)
	if err != nil {
		return nil, fmt.Errorf("safety: reject_severity: %w", err)
	}
	if rejectSev < SeverityLow || rejectSev > SeverityHigh {
		return nil, fmt.Errorf("safety: reject_severity must be low, medium or high, got %q", cfg.RejectSeverity)
	}
	e := &Evaluator{
		registry:        registry,
		clampThreshold:  cfg.ClampThreshold,
		rejectThreshold: cfg.RejectThreshold,
		rejectSeverity:  rejectSev,
		weights:         make(map[string]float64, len(cfg.Weights)),
	}
	for name, w := range cfg.Weights {
		e.weights[name] = w
	}
	for name, p := range cfg.Penalties {
		sev, err := ParseSeverity(name)
		if err != nil {
			return nil, fmt.Errorf("safety: penalties: %w", err)
		}
		e.penalties[sev] = p
	}
	return e, nil
}

// Registry exposes the check list so callers can register custom checks.
func (e *Evaluator) Registry() *Registry {
	return e.registry
}

// Evaluate runs all checks against action and decides allow, clamp or reject.
func (e *Evaluator) Evaluate(action inference.ActionVector, profile robot.Profile, ctx inference.Context) Result {
	verdicts := e.runChecks(action, profile, ctx)
	res := Result{
		Score:    e.score(verdicts),
		Verdicts: verdicts,
	}

	switch {
	case e.mustReject(verdicts):
		res.Decision = DecisionReject
	case res.Score < e.rejectThreshold:
		res.Decision = DecisionReject
	case res.Score < e.clampThreshold:
		e.settleClamp(&res, action, profile, ctx)
	default:
		res.Decision = DecisionAllow
	}
	return res
}

// settleClamp verifies the clamped action before it is released. Clipping
// can move a position into a keep-out zone, or leave an axis unfixed when two
// envelopes do not overlap, so the checks run again on the clamped action.
// It is rejected when a check fails at or above the reject severity, when an
// enveloping check still fails, or when a check that passed before now fails.
// A clamp that changes nothing is reported as allow; the failed verdicts stay
// on the result as warnings.
func (e *Evaluator) settleClamp(res *Result, action inference.ActionVector, profile robot.Profile, ctx inference.Context) {
	clamped := e.Clamp(action, profile, ctx)
	if clamped == action {
		if e.residualViolation(res.Verdicts, res.Verdicts) {
			res.Decision = DecisionReject
			return
		}
		res.Decision = DecisionAllow
		return
	}

	after := e.runChecks(clamped, profile, ctx)
	if e.residualViolation(res.Verdicts, after) {
		res.Verdicts = mergeResidual(res.Verdicts, after)
		res.Score = e.score(res.Verdicts)
		res.Decision = DecisionReject
		return
	}
	res.Decision = DecisionClamp
	res.Clamped = &clamped
}

func (e *Evaluator) residualViolation(before, after []Verdict) bool {
	enveloping := e.envelopingChecks()
	for i, v := range after {
		if v.Passed {
			continue
		}
		switch {
		case v.Severity >= e.rejectSeverity:
			return true
		case enveloping[v.CheckName]:
			return true
		case i < len(before) && before[i].Passed:
			return true
		}
	}
	return false
}

// mergeResidual keeps the verdicts of the raw action and swaps in failures
// that only appeared on the clamped action, so the incident names them.
func mergeResidual(before, after []Verdict) []Verdict {
	out := make([]Verdict, len(before))
	copy(out, before)
	for i, v := range after {
		if i < len(out) && out[i].Passed && !v.Passed {
			v.Explanation = "after clamp: " + v.Explanation
			out[i] = v
		}
	}
	return out
}

func (e *Evaluator) envelopingChecks() map[string]bool {
	out := make(map[string]bool)
	for _, c := range e.registry.Checks() {
		if _, ok := c.(Enveloper); ok {
			out[checkName(c)] = true
		}
	}
	return out
}

// Clamp clips action axis-wise into the intersection of every enveloping
// check's box. The box does not depend on the action, so Clamp is idempotent.
func (e *Evaluator) Clamp(action inference.ActionVector, profile robot.Profile, ctx inference.Context) inference.ActionVector {
	box := e.envelope(profile, ctx)
	out := action
	for axis, iv := range box {
		if axis >= 0 && axis < inference.ActionDims {
			out[axis] = iv.Clip(out[axis])
		}
	}
	return out
}

// Score computes the composite score for a set of verdicts.
func (e *Evaluator) Score(verdicts []Verdict) float64 {
	return e.score(verdicts)
}

func (e *Evaluator) mustReject(verdicts []Verdict) bool {
	for _, v := range verdicts {
		if v.Passed {
			continue
		}
		if v.Severity == SeverityCritical || v.Severity >= e.rejectSeverity {
			return true
		}
	}
	return false
}

// score is the weighted mean of per-check terms. A passed check contributes 1,
// a failed one 1 - confidence*penalty(severity).
func (e *Evaluator) score(verdicts []Verdict) float64 {
	if len(verdicts) == 0 {
		return 1
	}
	var sum, total float64
	for _, v := range verdicts {
		w := e.weight(v.CheckName)
		term := 1.0
		if !v.Passed {
			term = 1 - v.Confidence*e.penalties[v.Severity]
			term = math.Max(0, math.Min(1, term))
		}
		sum += w * term
		total += w
	}
	if total == 0 {
		return 1
	}
	return math.Max(0, math.Min(1, sum/total))
}

func (e *Evaluator) weight(name string) float64 {
	if w, ok := e.weights[name]; ok && w > 0 {
		return w
	}
	return 1
}

func (e *Evaluator) envelope(profile robot.Profile, ctx inference.Context) Box {
	out := Box{}
	for _, c := range e.registry.Checks() {
		env, ok := c.(Enveloper)
		if !ok {
			continue
		}
		for axis, iv := range safeEnvelope(env, profile, ctx) {
			cur, seen := out[axis]
			if !seen {
				out[axis] = iv
				continue
			}
			merged := robot.Interval{Min: math.Max(cur.Min, iv.Min), Max: math.Min(cur.Max, iv.Max)}
			if merged.Min <= merged.Max {
				out[axis] = merged
			}
		}
	}
	return out
}

func (e *Evaluator) runChecks(action inference.ActionVector, profile robot.Profile, ctx inference.Context) []Verdict {
	checks := e.registry.Checks()
	verdicts := make([]Verdict, len(checks))

	var wg sync.WaitGroup
	wg.Add(len(checks))
	for i, c := range checks {
		go func() {
			defer wg.Done()
			verdicts[i] = runCheck(c, action, profile, ctx)
		}()
	}
	wg.Wait()
	return verdicts
}

// runCheck evaluates one check and fails closed if it panics.
func runCheck(c Check, action inference.ActionVector, profile robot.Profile, ctx inference.Context) (v Verdict) {
	name := checkName(c)
	defer func() {
		if r := recover(); r != nil {
			v = Fail(name, SeverityCritical, 1, fmt.Sprintf("check panicked: %v", r))
		}
	}()
	return c.Evaluate(action, profile, ctx).normalize(name)
}

func safeEnvelope(env Enveloper, profile robot.Profile, ctx inference.Context) (box Box) {
	defer func() {
		if recover() != nil {
			box = nil
		}
	}()
	return env.Envelope(profile, ctx)
}

func checkName(c Check) (name string) {
	defer func() {
		if recover() != nil {
			name = fmt.Sprintf("%T", c)
		}
	}()
	return c.Name()
}
