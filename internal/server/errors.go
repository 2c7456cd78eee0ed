package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/straja-ai/vlaguard/internal/pipeline"
	"github.com/straja-ai/vlaguard/internal/provider"
	"github.com/straja-ai/vlaguard/internal/qualitygate"
	"github.com/straja-ai/vlaguard/internal/redact"
	"github.com/straja-ai/vlaguard/internal/robot"
)

// Error kinds on the wire.
const (
	errQualityGate      = "quality_gate"
	errSafetyReject     = "safety_reject"
	errInference        = "inference_error"
	errInferenceTimeout = "inference_timeout"
	errAuthentication   = "authentication_error"
	errRequest          = "request_error"
	errInternal         = "internal_error"
)

type errorBody struct {
	Error     string `json:"error"`
	Reason    string `json:"reason"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type violatedCheck struct {
	Name        string  `json:"name"`
	Severity    string  `json:"severity"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

type rejectDetails struct {
	SafetyScore    float64         `json:"safety_score"`
	Severity       string          `json:"severity"`
	ViolatedChecks []violatedCheck `json:"violated_checks"`
	IncidentID     string          `json:"incident_id,omitempty"`
}

type inferenceDetails struct {
	Provider   string `json:"provider"`
	StatusCode int    `json:"status_code,omitempty"`
}

// writePipelineError maps a Handle error to its status and body.
func writePipelineError(w http.ResponseWriter, err error, requestID string) {
	var (
		qe  *qualitygate.Error
		rej *pipeline.SafetyRejectError
		ie  *provider.InferenceError
		ure *robot.UnknownRobotError
		se  *pipeline.SessionError
	)
	switch {
	case errors.As(err, &qe):
		writeError(w, http.StatusBadRequest, errorBody{Error: errQualityGate, Reason: string(qe.Reason), Details: qe, RequestID: requestID})
	case errors.As(err, &rej):
		d := rejectDetails{
			SafetyScore: rej.Score,
			Severity:    rej.Severity.String(),
			IncidentID:  rej.IncidentID,
		}
		for _, v := range rej.Violated {
			d.ViolatedChecks = append(d.ViolatedChecks, violatedCheck{
				Name:        v.CheckName,
				Severity:    v.Severity.String(),
				Confidence:  v.Confidence,
				Explanation: v.Explanation,
			})
		}
		writeError(w, http.StatusForbidden, errorBody{Error: errSafetyReject, Reason: "unsafe_action", Details: d, RequestID: requestID})
	case errors.As(err, &ie):
		status, kind, reason := http.StatusBadGateway, errInference, "upstream_failed"
		if ie.Timeout {
			status, kind, reason = http.StatusGatewayTimeout, errInferenceTimeout, "upstream_timeout"
		}
		writeError(w, status, errorBody{Error: kind, Reason: reason, Details: inferenceDetails{Provider: ie.Provider, StatusCode: ie.StatusCode}, RequestID: requestID})
	case errors.As(err, &ure):
		writeError(w, http.StatusBadRequest, errorBody{Error: errQualityGate, Reason: string(qualitygate.ReasonRobotTypeUnregistered), RequestID: requestID})
	case errors.As(err, &se):
		redact.Logf("server: session store error request_id=%s err=%v", requestID, err)
		writeError(w, http.StatusInternalServerError, errorBody{Error: errInternal, Reason: "session_store", RequestID: requestID})
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusInternalServerError, errorBody{Error: errInternal, Reason: "request_cancelled", RequestID: requestID})
	default:
		redact.Logf("server: unexpected error request_id=%s err=%v", requestID, err)
		writeError(w, http.StatusInternalServerError, errorBody{Error: errInternal, Reason: "internal", RequestID: requestID})
	}
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		redact.Logf("server: failed to write response: %v", err)
	}
}
