package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/straja-ai/vlaguard/internal/activation"
	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/incident"
	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/provider"
	"github.com/straja-ai/vlaguard/internal/qualitygate"
	"github.com/straja-ai/vlaguard/internal/robot"
	"github.com/straja-ai/vlaguard/internal/safety"
	"github.com/straja-ai/vlaguard/internal/session"
)

type memRecorder struct {
	mu        sync.Mutex
	incidents []incident.Incident
	ctxErrs   []error
	err       error
}

func (r *memRecorder) Record(ctx context.Context, inc incident.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	if r.err != nil {
		return r.err
	}
	r.incidents = append(r.incidents, inc)
	return nil
}

func (r *memRecorder) all() []incident.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]incident.Incident(nil), r.incidents...)
}

type eventLog struct {
	mu     sync.Mutex
	events []*activation.Event
}

func (l *eventLog) Emit(ev *activation.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) last() *activation.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return nil
	}
	return l.events[len(l.events)-1]
}

type harness struct {
	pipeline *Pipeline
	model    *provider.FakeProvider
	recorder *memRecorder
	events   *eventLog
	checks   *atomic.Int64
	sessions *session.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

func newHarnessWith(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	var envs []string
	for _, e := range cfg.Environments {
		envs = append(envs, e.Name)
	}

	profiles, err := robot.NewRegistry(cfg.Robots)
	require.NoError(t, err)

	reg, err := safety.NewDefaultRegistry(cfg.Safety, cfg.Environments)
	require.NoError(t, err)
	var checks atomic.Int64
	require.NoError(t, reg.Register(safety.NewFuncCheck("call_counter", func(inference.ActionVector, robot.Profile, inference.Context) safety.Verdict {
		checks.Add(1)
		return safety.Pass("call_counter", "counted")
	})))
	eval, err := safety.NewEvaluator(cfg.Safety, reg)
	require.NoError(t, err)

	h := &harness{
		model:    provider.NewFake(nil),
		recorder: &memRecorder{},
		events:   &eventLog{},
		checks:   &checks,
		sessions: session.NewMemoryStore(time.Minute),
	}
	h.pipeline, err = New(Options{
		Gate:       qualitygate.New(cfg.QualityGate, profiles, envs),
		Provider:   h.model,
		Profiles:   profiles,
		Evaluator:  eval,
		Sessions:   h.sessions,
		Recorder:   h.recorder,
		Events:     h.events,
		StaleAfter: cfg.Safety.Velocity.StaleAfter,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) respond(action ...float64) {
	h.model.Func = func(context.Context, *inference.Request) ([]float64, error) {
		return append([]float64(nil), action...), nil
	}
}

func frame(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32))))
	return buf.Bytes()
}

func request(t *testing.T, sessionID string) *inference.Request {
	return &inference.Request{
		Context: inference.Context{
			CustomerID:  "acme",
			RobotType:   "franka_panda",
			Instruction: "pick up the red block",
			SessionID:   sessionID,
		},
		Image: frame(t),
	}
}

func TestInBoundsActionIsReleased(t *testing.T) {
	h := newHarness(t)
	h.respond(0.1, 0.1, 0.1, 0, 0, 0, 0.5)

	resp, err := h.pipeline.Handle(context.Background(), request(t, ""))
	require.NoError(t, err)
	require.Equal(t, safety.DecisionAllow, resp.Decision)
	require.Equal(t, 1.0, resp.Score)
	require.Equal(t, inference.ActionVector{0.1, 0.1, 0.1, 0, 0, 0, 0.5}, resp.Action)
	require.Empty(t, resp.Warnings)
	require.Empty(t, h.recorder.all(), "clean allow must not record an incident")

	ev := h.events.last()
	require.NotNil(t, ev)
	require.Equal(t, activation.DecisionAllow, ev.Decision)
	require.NotNil(t, ev.SafetyScore)
	require.Equal(t, resp.RequestID, ev.RequestID)
}

func TestFarOutsideWorkspaceIsRejected(t *testing.T) {
	h := newHarness(t)
	h.respond(2.0, 0, 0, 0, 0, 0, 0.5)

	resp, err := h.pipeline.Handle(context.Background(), request(t, ""))
	require.Nil(t, resp)
	var rej *SafetyRejectError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, []string{safety.WorkspaceBoundsName}, rej.CheckNames())
	require.Equal(t, safety.SeverityHigh, rej.Severity)

	incs := h.recorder.all()
	require.Len(t, incs, 1)
	require.Equal(t, rej.IncidentID, incs[0].ID)
	require.Equal(t, []string{safety.WorkspaceBoundsName}, incs[0].CheckNames())
	require.Equal(t, "high", incs[0].Severity)
	require.Equal(t, incident.ActionReject, incs[0].ActionTaken)
	require.Equal(t, []float64{2.0, 0, 0, 0, 0, 0, 0.5}, incs[0].RawAction)
	require.Nil(t, incs[0].ClampedAction)

	ev := h.events.last()
	require.Equal(t, activation.DecisionReject, ev.Decision)
	require.Equal(t, rej.IncidentID, ev.IncidentID)
}

func TestMarginalOverageIsClamped(t *testing.T) {
	h := newHarness(t)
	h.respond(0.61, 0, 0, 0, 0, 0, 0.5)

	resp, err := h.pipeline.Handle(context.Background(), request(t, ""))
	require.NoError(t, err)
	require.Equal(t, safety.DecisionClamp, resp.Decision)
	require.Equal(t, 0.6, resp.Action[inference.AxisX])
	require.Equal(t, 0.61, resp.RawAction[inference.AxisX])
	require.Equal(t, []string{safety.WorkspaceBoundsName}, resp.Warnings)
	require.Less(t, resp.Score, 1.0)

	incs := h.recorder.all()
	require.Len(t, incs, 1)
	require.Equal(t, incident.ActionClamp, incs[0].ActionTaken)
	require.Equal(t, 0.6, incs[0].ClampedAction[0])
	require.Equal(t, resp.IncidentID, incs[0].ID)
}

func TestClampIntoKeepOutZoneIsRejected(t *testing.T) {
	h := newHarnessWith(t, func(cfg *config.Config) {
		cfg.Environments = []config.EnvironmentConfig{{
			Name: "bench",
			KeepOut: []config.KeepOutConfig{
				{Name: "fixture", Min: []float64{0.55, -0.1, -0.1}, Max: []float64{0.60, 0.1, 0.1}},
			},
		}}
	})
	h.respond(0.61, 0, 0, 0, 0, 0, 0.5)
	req := request(t, "arm-1")
	req.Context.EnvironmentType = "bench"

	_, err := h.pipeline.Handle(context.Background(), req)
	var rej *SafetyRejectError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, []string{safety.WorkspaceBoundsName, safety.CollisionHeuristicName}, rej.CheckNames())

	incs := h.recorder.all()
	require.Len(t, incs, 1)
	require.Equal(t, incident.ActionReject, incs[0].ActionTaken)
	require.Empty(t, incs[0].ClampedAction)

	prev, err := h.sessions.Get(context.Background(), "arm-1")
	require.NoError(t, err)
	require.Nil(t, prev, "nothing was released")
}

func TestGripperOutOfRangeIsCritical(t *testing.T) {
	h := newHarness(t)
	h.respond(0.1, 0.1, 0.1, 0, 0, 0, 1.5)

	_, err := h.pipeline.Handle(context.Background(), request(t, ""))
	var rej *SafetyRejectError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, safety.SeverityCritical, rej.Severity)
	require.Contains(t, rej.CheckNames(), safety.GripperRangeName)
}

func TestNonFiniteActionStopsAtQualityGate(t *testing.T) {
	h := newHarness(t)
	h.respond(0.1, math.NaN(), 0.1, 0, 0, 0, 0.5)

	_, err := h.pipeline.Handle(context.Background(), request(t, ""))
	var qe *qualitygate.Error
	require.ErrorAs(t, err, &qe)
	require.Equal(t, qualitygate.StageResponse, qe.Stage)
	require.Equal(t, qualitygate.ReasonActionNonFinite, qe.Reason)
	require.Zero(t, h.checks.Load(), "evaluator must not run")
	require.Empty(t, h.recorder.all())

	ev := h.events.last()
	require.Equal(t, activation.DecisionQualityGate, ev.Decision)
	require.Equal(t, string(qualitygate.ReasonActionNonFinite), ev.Reason)
	require.Nil(t, ev.SafetyScore)
}

func TestUnknownRobotSkipsInferenceAndChecks(t *testing.T) {
	h := newHarness(t)
	req := request(t, "")
	req.Context.RobotType = "unknown"

	_, err := h.pipeline.Handle(context.Background(), req)
	var qe *qualitygate.Error
	require.ErrorAs(t, err, &qe)
	require.Equal(t, qualitygate.ReasonRobotTypeUnknown, qe.Reason)
	require.Zero(t, h.model.Calls())
	require.Zero(t, h.checks.Load())
}

func TestInferenceFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.model.Func = func(context.Context, *inference.Request) ([]float64, error) {
		return nil, &provider.InferenceError{Provider: "fake", Timeout: true, Err: context.DeadlineExceeded}
	}

	_, err := h.pipeline.Handle(context.Background(), request(t, ""))
	var ie *provider.InferenceError
	require.ErrorAs(t, err, &ie)
	require.True(t, ie.Timeout)
	require.Zero(t, h.checks.Load())

	ev := h.events.last()
	require.Equal(t, activation.DecisionInferenceError, ev.Decision)
	require.Equal(t, "inference_timeout", ev.Reason)
}

func TestSessionTracksReleasedPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.respond(0.1, 0.1, 0.1, 0, 0, 0, 0.5)
	_, err := h.pipeline.Handle(ctx, request(t, "arm-1"))
	require.NoError(t, err)

	// 0.4 m in one 10 Hz tick is 4 m/s against a 1 m/s limit.
	h.respond(0.5, 0.1, 0.1, 0, 0, 0, 0.5)
	_, err = h.pipeline.Handle(ctx, request(t, "arm-1"))
	var rej *SafetyRejectError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, []string{safety.VelocityLimitName}, rej.CheckNames())

	// The rejected command was not stored, so the next step is measured
	// from the last released position.
	prev, err := h.sessions.Get(ctx, "arm-1")
	require.NoError(t, err)
	require.Equal(t, inference.Position{0.1, 0.1, 0.1}, prev.Position)

	h.respond(0.15, 0.1, 0.1, 0, 0, 0, 0.5)
	resp, err := h.pipeline.Handle(ctx, request(t, "arm-1"))
	require.NoError(t, err)
	require.Equal(t, safety.DecisionAllow, resp.Decision)

	// Other sessions are unaffected.
	h.respond(0.5, 0.1, 0.1, 0, 0, 0, 0.5)
	_, err = h.pipeline.Handle(ctx, request(t, "arm-2"))
	require.NoError(t, err)
}

func TestIncidentFailureDoesNotChangeResponse(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = errors.New("disk full")
	h.respond(0.61, 0, 0, 0, 0, 0, 0.5)

	resp, err := h.pipeline.Handle(context.Background(), request(t, ""))
	require.NoError(t, err)
	require.Equal(t, safety.DecisionClamp, resp.Decision)
	require.Empty(t, resp.IncidentID)

	h.respond(2.0, 0, 0, 0, 0, 0, 0.5)
	_, err = h.pipeline.Handle(context.Background(), request(t, ""))
	var rej *SafetyRejectError
	require.ErrorAs(t, err, &rej)
	require.Empty(t, rej.IncidentID)
}

func TestCallerCancellationStillRecordsIncident(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.model.Func = func(context.Context, *inference.Request) ([]float64, error) {
		cancel()
		return []float64{2.0, 0, 0, 0, 0, 0, 0.5}, nil
	}

	_, err := h.pipeline.Handle(ctx, request(t, "arm-9"))
	var rej *SafetyRejectError
	require.ErrorAs(t, err, &rej)
	require.Len(t, h.recorder.all(), 1)
	require.NoError(t, h.recorder.ctxErrs[0], "incident write must not see the caller's cancellation")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
