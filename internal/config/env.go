package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the settings operators commonly inject per deployment.
type envOverrides struct {
	Addr              string        `env:"VLAGUARD_ADDR"`
	InferenceType     string        `env:"VLAGUARD_INFERENCE_TYPE"`
	InferenceBaseURL  string        `env:"VLAGUARD_INFERENCE_BASE_URL"`
	InferenceTimeout  time.Duration `env:"VLAGUARD_INFERENCE_TIMEOUT"`
	ONNXModelPath     string        `env:"VLAGUARD_ONNX_MODEL_PATH"`
	SessionBackend    string        `env:"VLAGUARD_SESSION_BACKEND"`
	RedisAddr         string        `env:"VLAGUARD_REDIS_ADDR"`
	IncidentDB        string        `env:"VLAGUARD_INCIDENT_DB"`
	TelemetryEnabled  string        `env:"VLAGUARD_TELEMETRY_ENABLED"`
	TelemetryEndpoint string        `env:"VLAGUARD_TELEMETRY_ENDPOINT"`
	ActivationLevel   string        `env:"VLAGUARD_ACTIVATION_LEVEL"`
}

// ApplyEnv overlays VLAGUARD_* environment variables onto cfg. Unset variables
// leave the file value untouched.
func ApplyEnv(cfg *Config) error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.Server.Addr, ov.Addr)
	setString(&cfg.Inference.Type, ov.InferenceType)
	setString(&cfg.Inference.BaseURL, ov.InferenceBaseURL)
	if ov.InferenceTimeout > 0 {
		cfg.Inference.Timeout = ov.InferenceTimeout
	}
	setString(&cfg.Inference.ONNX.ModelPath, ov.ONNXModelPath)
	setString(&cfg.Sessions.Backend, ov.SessionBackend)
	setString(&cfg.Sessions.RedisAddr, ov.RedisAddr)
	setString(&cfg.Incidents.SQLitePath, ov.IncidentDB)
	setString(&cfg.Telemetry.Endpoint, ov.TelemetryEndpoint)
	setString(&cfg.Logging.ActivationLevel, ov.ActivationLevel)

	if v := strings.TrimSpace(ov.TelemetryEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VLAGUARD_TELEMETRY_ENABLED: %w", err)
		}
		cfg.Telemetry.Enabled = enabled
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
