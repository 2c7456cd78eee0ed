package activation

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/redact"
	"github.com/straja-ai/vlaguard/internal/safety"
)

// Decision is the outcome of a request from the gateway's perspective.
type Decision string

const (
	DecisionAllow          Decision = "allow"
	DecisionClamp          Decision = "clamp"
	DecisionReject         Decision = "reject"
	DecisionQualityGate    Decision = "quality_gate"
	DecisionInferenceError Decision = "inference_error"
	DecisionInternalError  Decision = "internal_error"
)

const eventVersion = "1"

const previewLimit = 200

// VerdictSummary is one check outcome as logged.
type VerdictSummary struct {
	Check      string  `json:"check"`
	Passed     bool    `json:"passed"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
}

type Preview struct {
	Instruction string `json:"instruction"`
}

type TimingMs struct {
	QualityGate float64 `json:"quality_gate"`
	Inference   float64 `json:"inference"`
	Evaluation  float64 `json:"evaluation"`
	Incident    float64 `json:"incident"`
	Total       float64 `json:"total"`
}

// Event is the decision log entry emitted for every handled request.
type Event struct {
	Version         string           `json:"version"`
	Timestamp       time.Time        `json:"timestamp"`
	RequestID       string           `json:"request_id"`
	CustomerID      string           `json:"customer_id,omitempty"`
	RobotType       string           `json:"robot_type,omitempty"`
	EnvironmentType string           `json:"environment_type,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
	Decision        Decision         `json:"decision"`
	Reason          string           `json:"reason,omitempty"`
	SafetyScore     *float64         `json:"safety_score"`
	Verdicts        []VerdictSummary `json:"verdicts,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`
	IncidentID      string           `json:"incident_id,omitempty"`
	Preview         *Preview         `json:"preview,omitempty"`
	TimingMs        TimingMs         `json:"timing_ms"`
}

// BuildParams collects inputs needed to assemble a decision log event.
type BuildParams struct {
	Request      *inference.Request
	Decision     Decision
	Reason       string
	Result       *safety.Result
	Warnings     []string
	IncidentID   string
	LoggingLevel string
	Total        time.Duration
}

// BuildEvent creates a decision log event. The safety score is attached
// whenever an evaluation ran, whatever the decision.
func BuildEvent(params BuildParams) *Event {
	if params.Request == nil {
		return nil
	}
	c := params.Request.Context

	ev := &Event{
		Version:         eventVersion,
		Timestamp:       time.Now().UTC(),
		RequestID:       ensureRequestID(c.RequestID),
		CustomerID:      c.CustomerID,
		RobotType:       c.RobotType,
		EnvironmentType: c.EnvironmentType,
		SessionID:       c.SessionID,
		Decision:        params.Decision,
		Reason:          params.Reason,
		Warnings:        cloneStrings(params.Warnings),
		IncidentID:      params.IncidentID,
		Preview:         buildPreview(params.LoggingLevel, c.Instruction),
		TimingMs:        buildTimings(params.Request.Timings, params.Total),
	}
	if params.Result != nil {
		score := params.Result.Score
		ev.SafetyScore = &score
		ev.Verdicts = summarize(params.Result.Verdicts)
	}
	return ev
}

// LogEvent prints a redacted JSON representation of the event.
func LogEvent(ev *Event) {
	if ev == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		redact.Logf("activation: failed to marshal event: %v", err)
		return
	}
	redact.Logf("activation: %s", string(data))
}

func ensureRequestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func summarize(verdicts []safety.Verdict) []VerdictSummary {
	if len(verdicts) == 0 {
		return nil
	}
	out := make([]VerdictSummary, 0, len(verdicts))
	for _, v := range verdicts {
		out = append(out, VerdictSummary{
			Check:      v.CheckName,
			Passed:     v.Passed,
			Severity:   v.Severity.String(),
			Confidence: v.Confidence,
		})
	}
	return out
}

func buildTimings(t *inference.Timings, total time.Duration) TimingMs {
	out := TimingMs{Total: durationMillis(total)}
	if t == nil {
		return out
	}
	out.QualityGate = durationMillis(t.QualityGate)
	out.Inference = durationMillis(t.Inference)
	out.Evaluation = durationMillis(t.Evaluation)
	out.Incident = durationMillis(t.Incident)
	return out
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// buildPreview includes the instruction only at the "full" logging level.
func buildPreview(level, instruction string) *Preview {
	if strings.ToLower(strings.TrimSpace(level)) != "full" || instruction == "" {
		return nil
	}
	return &Preview{Instruction: redact.String(truncate(instruction, previewLimit))}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
