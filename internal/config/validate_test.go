package config

import (
	"strings"
	"testing"
)

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing server addr",
			mutate: func(c *Config) { c.Server.Addr = "" },
			want:   "server.addr",
		},
		{
			name:   "unknown inference type",
			mutate: func(c *Config) { c.Inference.Type = "grpc" },
			want:   "inference.type",
		},
		{
			name: "http inference without base url",
			mutate: func(c *Config) {
				c.Inference.Type = "http"
				c.Inference.BaseURL = ""
			},
			want: "inference.base_url",
		},
		{
			name: "http inference with bad scheme",
			mutate: func(c *Config) {
				c.Inference.Type = "http"
				c.Inference.BaseURL = "ftp://vla:9000"
			},
			want: "http or https",
		},
		{
			name:   "onnx without model path",
			mutate: func(c *Config) { c.Inference.Type = "onnx" },
			want:   "model_path",
		},
		{
			name:   "fake action wrong length",
			mutate: func(c *Config) { c.Inference.Fake.Action = []float64{0, 0, 0} },
			want:   "7 entries",
		},
		{
			name:   "too many retries",
			mutate: func(c *Config) { c.Inference.MaxRetries = 3 },
			want:   "max_retries",
		},
		{
			name: "reject above clamp threshold",
			mutate: func(c *Config) {
				c.Safety.RejectThreshold = 0.9
				c.Safety.ClampThreshold = 0.5
			},
			want: "must not exceed",
		},
		{
			name:   "reject severity none",
			mutate: func(c *Config) { c.Safety.RejectSeverity = "none" },
			want:   "reject_severity",
		},
		{
			name:   "reject severity critical",
			mutate: func(c *Config) { c.Safety.RejectSeverity = "critical" },
			want:   "reject_severity must be low, medium or high",
		},
		{
			name:   "non-monotonic penalties",
			mutate: func(c *Config) { c.Safety.Penalties["high"] = 0.05 },
			want:   "penalties.high",
		},
		{
			name:   "unknown penalty severity",
			mutate: func(c *Config) { c.Safety.Penalties["fatal"] = 1 },
			want:   "unknown severity",
		},
		{
			name:   "negative weight",
			mutate: func(c *Config) { c.Safety.Weights["workspace_bounds"] = -1 },
			want:   "weights.workspace_bounds",
		},
		{
			name:   "no robots",
			mutate: func(c *Config) { c.Robots = nil },
			want:   "robot profile",
		},
		{
			name:   "robot named unknown",
			mutate: func(c *Config) { c.Robots[0].Type = "unknown" },
			want:   "robots[0]",
		},
		{
			name:   "duplicate robot",
			mutate: func(c *Config) { c.Robots[1].Type = c.Robots[0].Type },
			want:   "duplicate type",
		},
		{
			name:   "inverted workspace",
			mutate: func(c *Config) { c.Robots[0].Workspace.Min[0] = 1 },
			want:   "min[0]",
		},
		{
			name:   "velocity limits wrong length",
			mutate: func(c *Config) { c.Robots[0].VelocityLimits = []float64{1} },
			want:   "velocity_limits",
		},
		{
			name:   "gripper outside unit range",
			mutate: func(c *Config) { c.Robots[0].Gripper.Max = 1.2 },
			want:   "gripper",
		},
		{
			name: "keep-out box inverted",
			mutate: func(c *Config) {
				c.Environments = []EnvironmentConfig{{
					Name:    "kitchen",
					KeepOut: []KeepOutConfig{{Name: "stove", Min: []float64{0, 0, 0}, Max: []float64{0, 1, 1}}},
				}}
			},
			want: "keep_out[0]",
		},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.Sessions.Backend = "redis"
				c.Sessions.RedisAddr = ""
			},
			want: "redis_addr",
		},
		{
			name:   "customer without keys",
			mutate: func(c *Config) { c.Customers = []CustomerConfig{{ID: "acme"}} },
			want:   "api_keys",
		},
		{
			name: "api key shared across customers",
			mutate: func(c *Config) {
				c.Customers = []CustomerConfig{
					{ID: "acme", APIKeys: []string{"k1"}},
					{ID: "globex", APIKeys: []string{"k1"}},
				}
			},
			want: "reuses an api key",
		},
		{
			name: "webhook sink invalid url",
			mutate: func(c *Config) {
				c.Activation.Sinks = []ActivationSinkConfig{{Type: "webhook", URL: "::://bad"}}
			},
			want: "invalid url",
		},
		{
			name: "telemetry without endpoint",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Endpoint = ""
			},
			want: "endpoint",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			} else if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not contain %q", err.Error(), tc.want)
			}
		})
	}
}

func TestValidateOK(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}

	cfg.Inference.Type = "http"
	cfg.Inference.BaseURL = "http://10.0.0.12:9000"
	cfg.Sessions.Backend = "redis"
	cfg.Sessions.RedisAddr = "127.0.0.1:6379"
	cfg.Customers = []CustomerConfig{{ID: "acme", APIKeys: []string{"k1", "k2"}}}
	cfg.Environments = []EnvironmentConfig{{
		Name:    "kitchen",
		KeepOut: []KeepOutConfig{{Name: "stove", Min: []float64{0.2, 0.2, -0.1}, Max: []float64{0.5, 0.5, 0.3}}},
	}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected private inference runtime to be valid, got %v", err)
	}
}
