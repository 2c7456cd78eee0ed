// Package pipeline runs a request through the quality gate, model inference
// and safety evaluation, and releases, clamps or rejects the action.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/straja-ai/vlaguard/internal/activation"
	"github.com/straja-ai/vlaguard/internal/incident"
	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/provider"
	"github.com/straja-ai/vlaguard/internal/qualitygate"
	"github.com/straja-ai/vlaguard/internal/redact"
	"github.com/straja-ai/vlaguard/internal/robot"
	"github.com/straja-ai/vlaguard/internal/safety"
	"github.com/straja-ai/vlaguard/internal/session"
	"github.com/straja-ai/vlaguard/internal/telemetry"
)

const defaultIncidentTimeout = 5 * time.Second

// Profiles resolves robot profiles.
type Profiles interface {
	Lookup(robotType string) (robot.Profile, error)
}

// EventSink receives decision log events. activation.Emitter satisfies it.
type EventSink interface {
	Emit(ev *activation.Event)
}

// Options wires a Pipeline. Gate, Provider, Profiles and Evaluator are
// required; the rest fall back to no-ops.
type Options struct {
	Gate      *qualitygate.Gate
	Provider  provider.Provider
	Profiles  Profiles
	Evaluator *safety.Evaluator
	Sessions  session.Store
	Recorder  incident.Recorder
	Events    EventSink
	Telemetry *telemetry.Provider

	// StaleAfter drops a session's previous command older than this.
	StaleAfter time.Duration
	// IncidentTimeout bounds the detached session and incident writes.
	IncidentTimeout time.Duration
	LoggingLevel    string
	Now             func() time.Time
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	gate            *qualitygate.Gate
	provider        provider.Provider
	profiles        Profiles
	evaluator       *safety.Evaluator
	sessions        session.Store
	recorder        incident.Recorder
	events          EventSink
	tel             *telemetry.Provider
	staleAfter      time.Duration
	incidentTimeout time.Duration
	loggingLevel    string
	now             func() time.Time
}

// Response is a released action.
type Response struct {
	RequestID  string
	Action     inference.ActionVector
	RawAction  inference.ActionVector
	Decision   safety.Decision
	Score      float64
	Warnings   []string
	IncidentID string
	Verdicts   []safety.Verdict
}

func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Gate == nil:
		return nil, errors.New("pipeline: quality gate is required")
	case opts.Provider == nil:
		return nil, errors.New("pipeline: provider is required")
	case opts.Profiles == nil:
		return nil, errors.New("pipeline: robot profiles are required")
	case opts.Evaluator == nil:
		return nil, errors.New("pipeline: evaluator is required")
	}
	p := &Pipeline{
		gate:            opts.Gate,
		provider:        opts.Provider,
		profiles:        opts.Profiles,
		evaluator:       opts.Evaluator,
		sessions:        opts.Sessions,
		recorder:        opts.Recorder,
		events:          opts.Events,
		tel:             opts.Telemetry,
		staleAfter:      opts.StaleAfter,
		incidentTimeout: opts.IncidentTimeout,
		loggingLevel:    opts.LoggingLevel,
		now:             opts.Now,
	}
	if p.recorder == nil {
		p.recorder = incident.Discard{}
	}
	if p.tel == nil {
		p.tel = telemetry.NewNoop()
	}
	if p.incidentTimeout <= 0 {
		p.incidentTimeout = defaultIncidentTimeout
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Handle gates one request. Errors are *qualitygate.Error,
// *provider.InferenceError, *SafetyRejectError, *SessionError or
// *robot.UnknownRobotError.
func (p *Pipeline) Handle(ctx context.Context, req *inference.Request) (*Response, error) {
	start := p.now()
	if req.Context.RequestID == "" {
		req.Context.RequestID = uuid.NewString()
	}
	if req.Timings == nil {
		req.Timings = &inference.Timings{}
	}

	ctx, span := p.tel.StartSpan(ctx, telemetry.SpanHandle, map[string]any{
		"vlaguard.request_id":  req.Context.RequestID,
		"vlaguard.customer_id": req.Context.CustomerID,
		"vlaguard.robot_type":  req.Context.RobotType,
	})
	defer span.End()

	t0 := p.now()
	err := p.gate.ValidateRequest(req)
	req.Timings.QualityGate = p.now().Sub(t0)
	if err != nil {
		p.finish(ctx, req, start, activation.DecisionQualityGate, reasonOf(err), nil, nil, "")
		span.SetStatus(codes.Error, "quality_gate")
		return nil, err
	}

	raw, err := p.infer(ctx, req)
	if err != nil {
		redact.Logf("pipeline: inference failed request_id=%s err=%v", req.Context.RequestID, err)
		p.finish(ctx, req, start, activation.DecisionInferenceError, inferenceReason(err), nil, nil, "")
		span.SetStatus(codes.Error, "inference_error")
		return nil, err
	}

	action, err := p.gate.ValidateAction(raw)
	if err != nil {
		p.finish(ctx, req, start, activation.DecisionQualityGate, reasonOf(err), nil, nil, "")
		span.SetStatus(codes.Error, "quality_gate")
		return nil, err
	}

	profile, err := p.profiles.Lookup(req.Context.RobotType)
	if err != nil {
		p.finish(ctx, req, start, activation.DecisionQualityGate, "robot_type_unregistered", nil, nil, "")
		return nil, err
	}

	// Once an action exists the decision is carried through even if the
	// caller goes away, so the session and incident trail stay consistent.
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.incidentTimeout)
	defer cancel()

	t0 = p.now()
	res, err := p.evaluate(detached, req, action, profile)
	req.Timings.Evaluation = p.now().Sub(t0)
	if err != nil {
		redact.Logf("pipeline: session update failed request_id=%s err=%v", req.Context.RequestID, err)
		p.finish(ctx, req, start, activation.DecisionInternalError, "session_store", nil, nil, "")
		span.SetStatus(codes.Error, "session_store")
		return nil, err
	}
	span.SetAttributes(telemetry.SafeAttributes(map[string]any{
		"vlaguard.decision":     string(res.Decision),
		"vlaguard.safety_score": res.Score,
	})...)

	warnings := failedNames(res)
	incidentID := ""
	if !res.Clean() {
		t0 = p.now()
		incidentID = p.record(detached, req, action, res)
		req.Timings.Incident = p.now().Sub(t0)
	}

	switch res.Decision {
	case safety.DecisionReject:
		p.finish(ctx, req, start, activation.DecisionReject, "", &res, warnings, incidentID)
		return nil, &SafetyRejectError{
			RequestID:  req.Context.RequestID,
			Score:      res.Score,
			Severity:   res.MaxSeverity(),
			Violated:   res.Failed(),
			IncidentID: incidentID,
		}
	case safety.DecisionClamp:
		p.finish(ctx, req, start, activation.DecisionClamp, "", &res, warnings, incidentID)
		return &Response{
			RequestID:  req.Context.RequestID,
			Action:     *res.Clamped,
			RawAction:  action,
			Decision:   res.Decision,
			Score:      res.Score,
			Warnings:   warnings,
			IncidentID: incidentID,
			Verdicts:   res.Verdicts,
		}, nil
	default:
		p.finish(ctx, req, start, activation.DecisionAllow, "", &res, warnings, incidentID)
		return &Response{
			RequestID:  req.Context.RequestID,
			Action:     action,
			RawAction:  action,
			Decision:   res.Decision,
			Score:      res.Score,
			Warnings:   warnings,
			IncidentID: incidentID,
			Verdicts:   res.Verdicts,
		}, nil
	}
}

// Evaluator exposes the safety evaluator for offline use.
func (p *Pipeline) Evaluator() *safety.Evaluator { return p.evaluator }

func (p *Pipeline) infer(ctx context.Context, req *inference.Request) ([]float64, error) {
	ctx, span := p.tel.StartSpan(ctx, telemetry.SpanInference, map[string]any{
		"vlaguard.provider": p.provider.Name(),
	})
	defer span.End()

	t0 := p.now()
	raw, err := p.provider.Infer(ctx, req)
	req.Timings.Inference = p.now().Sub(t0)
	p.tel.RecordInference(ctx, p.provider.Name(), durationMillis(req.Timings.Inference), err != nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return raw, err
}

// evaluate runs the evaluator, inside the session's exclusive section when
// the request names a session. Rejected actions are never stored.
func (p *Pipeline) evaluate(ctx context.Context, req *inference.Request, action inference.ActionVector, profile robot.Profile) (safety.Result, error) {
	_, span := p.tel.StartSpan(ctx, telemetry.SpanEvaluate, map[string]any{
		"vlaguard.robot_type": profile.Type,
	})
	defer span.End()

	sessionID := req.Context.SessionID
	if sessionID == "" || p.sessions == nil {
		return p.evaluator.Evaluate(action, profile, req.Context), nil
	}

	var res safety.Result
	err := p.sessions.Update(ctx, sessionID, func(prev *inference.PreviousCommand) (*inference.PreviousCommand, error) {
		now := p.now()
		c := req.Context
		c.Previous = safety.FreshPrevious(prev, now, p.staleAfter)
		res = p.evaluator.Evaluate(action, profile, c)

		released := action
		switch res.Decision {
		case safety.DecisionReject:
			return nil, nil
		case safety.DecisionClamp:
			released = *res.Clamped
		}
		return &inference.PreviousCommand{
			Position:  released.Position(),
			IssuedAt:  now,
			RequestID: req.Context.RequestID,
		}, nil
	})
	if err != nil {
		return safety.Result{}, &SessionError{SessionID: sessionID, Err: err}
	}
	return res, nil
}

// record persists the incident and returns its id, or "" when the write
// failed. Failures never change the response.
func (p *Pipeline) record(ctx context.Context, req *inference.Request, action inference.ActionVector, res safety.Result) string {
	inc := incident.Incident{
		RequestID:       req.Context.RequestID,
		CustomerID:      req.Context.CustomerID,
		RobotType:       req.Context.RobotType,
		EnvironmentType: req.Context.EnvironmentType,
		SessionID:       req.Context.SessionID,
		Severity:        res.MaxSeverity().String(),
		ActionTaken:     string(res.Decision),
		SafetyScore:     res.Score,
		RawAction:       action.Slice(),
	}
	for _, v := range res.Failed() {
		inc.ViolatedChecks = append(inc.ViolatedChecks, incident.ViolatedCheck{
			Name:        v.CheckName,
			Severity:    v.Severity.String(),
			Confidence:  v.Confidence,
			Explanation: v.Explanation,
		})
	}
	if res.Clamped != nil {
		inc.ClampedAction = res.Clamped.Slice()
	}
	if err := inc.Prepare(p.now()); err != nil {
		p.storageFailure(ctx, req, &incident.StorageError{Op: "prepare", Err: err})
		return ""
	}

	if err := p.recorder.Record(ctx, inc); err != nil {
		var se *incident.StorageError
		if !errors.As(err, &se) {
			se = &incident.StorageError{Op: "record", Err: err}
		}
		p.storageFailure(ctx, req, se)
		return ""
	}
	return inc.ID
}

func (p *Pipeline) storageFailure(ctx context.Context, req *inference.Request, err *incident.StorageError) {
	redact.Logf("pipeline: incident write failed request_id=%s op=%s err=%v", req.Context.RequestID, err.Op, err.Err)
	p.tel.RecordIncidentWriteFailure(ctx, err.Op)
}

// finish emits the decision log event and request metrics.
func (p *Pipeline) finish(ctx context.Context, req *inference.Request, start time.Time, decision activation.Decision, reason string, res *safety.Result, warnings []string, incidentID string) {
	total := p.now().Sub(start)
	score := -1.0
	if res != nil {
		score = res.Score
	}
	p.tel.RecordRequest(ctx, string(decision), req.Context.RobotType, req.Context.CustomerID, score, durationMillis(total))

	if p.events == nil {
		return
	}
	p.events.Emit(activation.BuildEvent(activation.BuildParams{
		Request:      req,
		Decision:     decision,
		Reason:       reason,
		Result:       res,
		Warnings:     warnings,
		IncidentID:   incidentID,
		LoggingLevel: p.loggingLevel,
		Total:        total,
	}))
}

func failedNames(res safety.Result) []string {
	failed := res.Failed()
	if len(failed) == 0 {
		return nil
	}
	out := make([]string, 0, len(failed))
	for _, v := range failed {
		out = append(out, v.CheckName)
	}
	return out
}

func reasonOf(err error) string {
	var qe *qualitygate.Error
	if errors.As(err, &qe) {
		return string(qe.Reason)
	}
	return err.Error()
}

func inferenceReason(err error) string {
	var ie *provider.InferenceError
	if errors.As(err, &ie) {
		if ie.Timeout {
			return "inference_timeout"
		}
		if ie.StatusCode != 0 {
			return fmt.Sprintf("upstream_status_%d", ie.StatusCode)
		}
	}
	return "inference_error"
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
