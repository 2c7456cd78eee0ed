package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
)

var severityNames = []string{"none", "low", "medium", "high", "critical"}

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}

	if err := validateInferenceConfig(cfg.Inference); err != nil {
		return err
	}

	if err := validateSafetyConfig(cfg.Safety); err != nil {
		return err
	}

	if len(cfg.Robots) == 0 {
		return errors.New("at least one robot profile must be configured")
	}
	seenRobots := make(map[string]struct{}, len(cfg.Robots))
	for i, r := range cfg.Robots {
		if err := validateRobotConfig(i, r); err != nil {
			return err
		}
		key := strings.ToLower(strings.TrimSpace(r.Type))
		if _, dup := seenRobots[key]; dup {
			return fmt.Errorf("robots[%d]: duplicate type %q", i, r.Type)
		}
		seenRobots[key] = struct{}{}
	}

	seenEnvs := make(map[string]struct{}, len(cfg.Environments))
	for i, e := range cfg.Environments {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" {
			return fmt.Errorf("environments[%d]: name must be set", i)
		}
		if _, dup := seenEnvs[name]; dup {
			return fmt.Errorf("environments[%d]: duplicate name %q", i, e.Name)
		}
		seenEnvs[name] = struct{}{}
		for j, box := range e.KeepOut {
			field := fmt.Sprintf("environments[%d].keep_out[%d]", i, j)
			if err := validateBox(field, box.Min, box.Max); err != nil {
				return err
			}
		}
	}

	if err := validateSessionConfig(cfg.Sessions); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Incidents.SQLitePath) == "" && strings.TrimSpace(cfg.Incidents.JSONLPath) == "" {
		return errors.New("incidents: sqlite_path or jsonl_path must be set")
	}

	seenKeys := make(map[string]string)
	for i, c := range cfg.Customers {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("customers[%d]: id must be set", i)
		}
		if len(c.APIKeys) == 0 {
			return fmt.Errorf("customer %q must define at least one api_keys entry", c.ID)
		}
		for _, k := range c.APIKeys {
			if owner, dup := seenKeys[k]; dup && owner != c.ID {
				return fmt.Errorf("customer %q reuses an api key already assigned to %q", c.ID, owner)
			}
			seenKeys[k] = c.ID
		}
	}

	if err := validateActivationConfig(cfg.Activation); err != nil {
		return err
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.ActivationLevel)) {
	case "", "metadata", "full":
	default:
		return fmt.Errorf("logging.activation_level must be metadata or full, got %q", cfg.Logging.ActivationLevel)
	}

	return nil
}

func validateInferenceConfig(c InferenceConfig) error {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "http":
		if strings.TrimSpace(c.BaseURL) == "" {
			return errors.New("inference.base_url must be set for type http")
		}
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("inference.base_url is invalid")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("inference.base_url must be http or https")
		}
	case "onnx":
		if strings.TrimSpace(c.ONNX.ModelPath) == "" {
			return errors.New("inference.onnx.model_path must be set for type onnx")
		}
		if len(c.ONNX.ActionLow) != len(c.ONNX.ActionHigh) {
			return errors.New("inference.onnx.action_low and action_high must have the same length")
		}
		if n := len(c.ONNX.ActionLow); n != 0 && n != 7 {
			return fmt.Errorf("inference.onnx.action_low must have 7 entries, got %d", n)
		}
	case "fake":
		if n := len(c.Fake.Action); n != 0 && n != 7 {
			return fmt.Errorf("inference.fake.action must have 7 entries, got %d", n)
		}
	default:
		return fmt.Errorf("inference.type must be http, onnx or fake, got %q", c.Type)
	}
	if c.MaxRetries > 1 {
		return fmt.Errorf("inference.max_retries must be 0 or 1, got %d", c.MaxRetries)
	}
	return nil
}

func validateSafetyConfig(s SafetyConfig) error {
	if s.RejectThreshold < 0 || s.RejectThreshold > 1 {
		return fmt.Errorf("safety.reject_threshold must be within [0,1], got %v", s.RejectThreshold)
	}
	if s.ClampThreshold < 0 || s.ClampThreshold > 1 {
		return fmt.Errorf("safety.clamp_threshold must be within [0,1], got %v", s.ClampThreshold)
	}
	if s.RejectThreshold > s.ClampThreshold {
		return errors.New("safety.reject_threshold must not exceed safety.clamp_threshold")
	}
	// Workspace overshoot past the hard limit is high and must always reject.
	switch strings.ToLower(strings.TrimSpace(s.RejectSeverity)) {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("safety.reject_severity must be low, medium or high, got %q", s.RejectSeverity)
	}
	for name, w := range s.Weights {
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("safety.weights.%s must be positive, got %v", name, w)
		}
	}
	prev := -1.0
	for _, sev := range severityNames {
		p, ok := s.Penalties[sev]
		if !ok {
			continue
		}
		if p < 0 || p > 1 {
			return fmt.Errorf("safety.penalties.%s must be within [0,1], got %v", sev, p)
		}
		if p < prev {
			return fmt.Errorf("safety.penalties.%s must not be lower than the penalty of a milder severity", sev)
		}
		prev = p
	}
	for sev := range s.Penalties {
		if !knownSeverity(sev) {
			return fmt.Errorf("safety.penalties has unknown severity %q", sev)
		}
	}
	if s.Workspace.LowMargin > s.Workspace.MediumMargin {
		return errors.New("safety.workspace.low_margin must not exceed medium_margin")
	}
	if s.Velocity.LowRatio < 1 || s.Velocity.LowRatio > s.Velocity.MediumRatio {
		return errors.New("safety.velocity ratios must satisfy 1 <= low_ratio <= medium_ratio")
	}
	return nil
}

func validateRobotConfig(i int, r RobotConfig) error {
	typ := strings.ToLower(strings.TrimSpace(r.Type))
	if typ == "" || typ == "unknown" {
		return fmt.Errorf("robots[%d]: type must be set and not %q", i, "unknown")
	}
	if err := validateBox(fmt.Sprintf("robots[%d].workspace", i), r.Workspace.Min, r.Workspace.Max); err != nil {
		return err
	}
	if len(r.VelocityLimits) != 3 {
		return fmt.Errorf("robots[%d].velocity_limits must have 3 entries, got %d", i, len(r.VelocityLimits))
	}
	for axis, v := range r.VelocityLimits {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("robots[%d].velocity_limits[%d] must be positive", i, axis)
		}
	}
	if r.Gripper.Min < 0 || r.Gripper.Max > 1 || r.Gripper.Min >= r.Gripper.Max {
		return fmt.Errorf("robots[%d].gripper must satisfy 0 <= min < max <= 1", i)
	}
	if !(r.ControlFrequencyHz > 0) || math.IsInf(r.ControlFrequencyHz, 0) {
		return fmt.Errorf("robots[%d].control_frequency_hz must be positive", i)
	}
	return nil
}

func validateBox(field string, lo, hi []float64) error {
	if len(lo) != 3 || len(hi) != 3 {
		return fmt.Errorf("%s: min and max must have 3 entries", field)
	}
	for axis := 0; axis < 3; axis++ {
		if math.IsNaN(lo[axis]) || math.IsNaN(hi[axis]) || math.IsInf(lo[axis], 0) || math.IsInf(hi[axis], 0) {
			return fmt.Errorf("%s: bounds must be finite", field)
		}
		if lo[axis] >= hi[axis] {
			return fmt.Errorf("%s: min[%d] must be lower than max[%d]", field, axis, axis)
		}
	}
	return nil
}

func validateSessionConfig(s SessionConfig) error {
	switch strings.ToLower(strings.TrimSpace(s.Backend)) {
	case "", "memory":
		return nil
	case "redis":
		if strings.TrimSpace(s.RedisAddr) == "" {
			return errors.New("sessions.redis_addr must be set for backend redis")
		}
		return nil
	default:
		return fmt.Errorf("sessions.backend must be memory or redis, got %q", s.Backend)
	}
}

func validateActivationConfig(a ActivationConfig) error {
	if len(a.Sinks) == 0 {
		return nil
	}
	for i, s := range a.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("activation sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("activation sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("activation sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("activation sink %d (webhook) url must be http or https", i)
			}
		default:
			return fmt.Errorf("activation sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	if t.Protocol != "" {
		switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
		}
	}
	return nil
}

func knownSeverity(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, name := range severityNames {
		if s == name {
			return true
		}
	}
	return false
}
