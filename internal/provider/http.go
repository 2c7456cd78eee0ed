package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/straja-ai/vlaguard/internal/inference"
)

// httpProvider calls a remote VLA runtime over JSON/HTTP.
type httpProvider struct {
	baseURL          string
	apiKey           string
	client           *http.Client
	maxResponseBytes int64
}

// NewHTTP creates a provider for a runtime exposing POST {baseURL}/v1/infer.
// Timeouts come from the request context; see Bounded.
func NewHTTP(baseURL, apiKey string, maxResponseBytes int64) Provider {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:9000"
	}
	if maxResponseBytes <= 0 {
		maxResponseBytes = 64 * 1024
	}
	return &httpProvider{
		baseURL:          strings.TrimRight(baseURL, "/"),
		apiKey:           apiKey,
		maxResponseBytes: maxResponseBytes,
		client:           &http.Client{},
	}
}

type inferRequest struct {
	Image              string  `json:"image"`
	Instruction        string  `json:"instruction"`
	RobotType          string  `json:"robot_type"`
	EnvironmentType    string  `json:"environment_type,omitempty"`
	ControlFrequencyHz float64 `json:"control_frequency_hz,omitempty"`
}

type inferResponse struct {
	Action []float64 `json:"action"`
}

type inferErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *httpProvider) Name() string { return "http" }

func (p *httpProvider) Infer(ctx context.Context, req *inference.Request) ([]float64, error) {
	body, err := json.Marshal(inferRequest{
		Image:              base64.StdEncoding.EncodeToString(req.Image),
		Instruction:        req.Context.Instruction,
		RobotType:          req.Context.RobotType,
		EnvironmentType:    req.Context.EnvironmentType,
		ControlFrequencyHz: req.Context.ControlFrequencyHz,
	})
	if err != nil {
		return nil, &InferenceError{Provider: p.Name(), Err: fmt.Errorf("marshal infer request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/infer", bytes.NewReader(body))
	if err != nil {
		return nil, &InferenceError{Provider: p.Name(), Err: fmt.Errorf("create infer request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if req.Context.RequestID != "" {
		httpReq.Header.Set("X-Request-Id", req.Context.RequestID)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &InferenceError{
			Provider:  p.Name(),
			Timeout:   errors.Is(err, context.DeadlineExceeded),
			Retryable: !errors.Is(err, context.Canceled),
			Err:       fmt.Errorf("call vla runtime: %w", err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, p.maxResponseBytes+1))
	if err != nil {
		return nil, &InferenceError{Provider: p.Name(), Retryable: true, Err: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(respBody)) > p.maxResponseBytes {
		return nil, &InferenceError{Provider: p.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("response exceeded limit (%d bytes)", p.maxResponseBytes)}
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(respBody))
		var errBody inferErrorResponse
		if json.Unmarshal(respBody, &errBody) == nil && errBody.Error.Message != "" {
			msg = errBody.Error.Message
		}
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return nil, &InferenceError{
			Provider:   p.Name(),
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:        errors.New(msg),
		}
	}

	action, err := decodeAction(respBody)
	if err != nil {
		return nil, &InferenceError{Provider: p.Name(), StatusCode: resp.StatusCode, Err: err}
	}
	return action, nil
}

// nonFiniteRe matches bare NaN/Infinity literals that Python JSON encoders
// emit by default. They are not valid JSON.
var nonFiniteRe = regexp.MustCompile(`([\[,:]\s*)(-?Infinity|NaN)(\s*[\],}])`)

// decodeAction parses {"action": [...]}. Non-finite literals are accepted so
// the caller can reject them as a malformed model output instead of a
// transport failure.
func decodeAction(body []byte) ([]float64, error) {
	var out inferResponse
	if err := json.Unmarshal(body, &out); err == nil {
		if out.Action == nil {
			return nil, errors.New("response had no action")
		}
		return out.Action, nil
	}

	var loose struct {
		Action []any `json:"action"`
	}
	quoted := nonFiniteRe.ReplaceAll(body, []byte(`$1"$2"$3`))
	// Adjacent literals share a delimiter, so a second pass catches them.
	quoted = nonFiniteRe.ReplaceAll(quoted, []byte(`$1"$2"$3`))
	if err := json.Unmarshal(quoted, &loose); err != nil {
		return nil, fmt.Errorf("decode infer response: %w", err)
	}
	if loose.Action == nil {
		return nil, errors.New("response had no action")
	}
	action := make([]float64, len(loose.Action))
	for i, v := range loose.Action {
		switch t := v.(type) {
		case float64:
			action[i] = t
		case string:
			f, ok := parseNonFinite(t)
			if !ok {
				return nil, fmt.Errorf("action[%d]: unexpected string %q", i, t)
			}
			action[i] = f
		default:
			return nil, fmt.Errorf("action[%d]: unexpected %T", i, v)
		}
	}
	return action, nil
}
