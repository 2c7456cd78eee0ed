package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/straja-ai/vlaguard/internal/inference"
	"github.com/straja-ai/vlaguard/internal/qualitygate"
)

type actRequest struct {
	CustomerID         string  `json:"customer_id"`
	SessionID          string  `json:"session_id"`
	RobotType          string  `json:"robot_type"`
	EnvironmentType    string  `json:"environment_type"`
	Instruction        string  `json:"instruction"`
	Image              string  `json:"image"`
	ControlFrequencyHz float64 `json:"control_frequency_hz"`
}

type actResponse struct {
	RequestID   string    `json:"request_id"`
	Action      []float64 `json:"action"`
	SafetyScore float64   `json:"safety_score"`
	Decision    string    `json:"decision"`
	Warnings    []string  `json:"warnings"`
	IncidentID  string    `json:"incident_id,omitempty"`
}

func (s *Server) handleAct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, errorBody{Error: errRequest, Reason: "method_not_allowed"})
		return
	}

	customerID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxRequestBodyBytes)
	var body actRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errorBody{Error: errRequest, Reason: "body_too_large"})
			return
		}
		writeError(w, http.StatusBadRequest, errorBody{Error: errRequest, Reason: "invalid_json"})
		return
	}

	if customerID != "" {
		if body.CustomerID != "" && body.CustomerID != customerID {
			writeError(w, http.StatusUnauthorized, errorBody{Error: errAuthentication, Reason: "customer_mismatch"})
			return
		}
		body.CustomerID = customerID
	}

	requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
	if requestID == "" || len(requestID) > 128 {
		requestID = uuid.NewString()
	}

	image, err := decodeImage(body.Image)
	if err != nil {
		writePipelineError(w, &qualitygate.Error{
			Stage:  qualitygate.StageRequest,
			Reason: qualitygate.ReasonImageUndecodable,
			Field:  "image",
			Detail: "image must be base64-encoded PNG or JPEG",
		}, requestID)
		return
	}

	req := &inference.Request{
		Context: inference.Context{
			RequestID:          requestID,
			CustomerID:         body.CustomerID,
			SessionID:          body.SessionID,
			RobotType:          body.RobotType,
			EnvironmentType:    body.EnvironmentType,
			Instruction:        body.Instruction,
			ControlFrequencyHz: body.ControlFrequencyHz,
		},
		Image:   image,
		Timings: &inference.Timings{},
	}

	resp, err := s.pipeline.Handle(r.Context(), req)
	if err != nil {
		writePipelineError(w, err, requestID)
		return
	}

	warnings := resp.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, actResponse{
		RequestID:   resp.RequestID,
		Action:      resp.Action.Slice(),
		SafetyScore: resp.Score,
		Decision:    string(resp.Decision),
		Warnings:    warnings,
		IncidentID:  resp.IncidentID,
	})
}

// decodeImage accepts plain base64 or a data URL. An empty string decodes to
// nil so the quality gate reports image_missing.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
