package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds vlaguard configuration.
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Inference    InferenceConfig     `yaml:"inference"`
	QualityGate  QualityGateConfig   `yaml:"quality_gate"`
	Safety       SafetyConfig        `yaml:"safety"`
	Robots       []RobotConfig       `yaml:"robots"`
	Environments []EnvironmentConfig `yaml:"environments"`
	Sessions     SessionConfig       `yaml:"sessions"`
	Incidents    IncidentConfig      `yaml:"incidents"`
	Activation   ActivationConfig    `yaml:"activation"`
	Telemetry    TelemetryConfig     `yaml:"telemetry"`
	Customers    []CustomerConfig    `yaml:"customers"`
	Logging      LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Addr                string        `yaml:"addr"` // HTTP listen address, e.g. ":8080"
	MaxRequestBodyBytes int64         `yaml:"max_request_body_bytes"`
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
}

type InferenceConfig struct {
	Type             string        `yaml:"type"`        // http | onnx | fake
	BaseURL          string        `yaml:"base_url"`    // e.g. "http://vla-runtime:9000"
	APIKeyEnv        string        `yaml:"api_key_env"` // e.g. "VLA_API_KEY"
	Timeout          time.Duration `yaml:"timeout"`     // per attempt
	MaxRetries       int           `yaml:"max_retries"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
	ONNX             ONNXConfig    `yaml:"onnx"`
	Fake             FakeConfig    `yaml:"fake"`
}

type ONNXConfig struct {
	ModelPath         string    `yaml:"model_path"`
	SharedLibraryPath string    `yaml:"shared_library_path"`
	ImageSize         int       `yaml:"image_size"`
	SeqLen            int       `yaml:"seq_len"`
	ImageInput        string    `yaml:"image_input"`
	TokenInput        string    `yaml:"token_input"`
	ActionOutput      string    `yaml:"action_output"`
	ActionLow         []float64 `yaml:"action_low"`  // unnormalization bounds, optional
	ActionHigh        []float64 `yaml:"action_high"` // unnormalization bounds, optional
}

type FakeConfig struct {
	Action []float64 `yaml:"action"`
}

type QualityGateConfig struct {
	MaxInstructionChars   int     `yaml:"max_instruction_chars"`
	MaxImageBytes         int64   `yaml:"max_image_bytes"`
	MinImageDim           int     `yaml:"min_image_dim"`
	MaxImageDim           int     `yaml:"max_image_dim"`
	MaxControlFrequencyHz float64 `yaml:"max_control_frequency_hz"`
}

type SafetyConfig struct {
	ClampThreshold  float64              `yaml:"clamp_threshold"`
	RejectThreshold float64              `yaml:"reject_threshold"`
	RejectSeverity  string               `yaml:"reject_severity"` // low | medium | high
	Weights         map[string]float64   `yaml:"weights"`         // check name -> weight
	Penalties       map[string]float64   `yaml:"penalties"`       // severity -> penalty
	Workspace       WorkspaceCheckConfig `yaml:"workspace"`
	Velocity        VelocityCheckConfig  `yaml:"velocity"`
}

// WorkspaceCheckConfig sets the distance cutoffs (meters outside the bound).
type WorkspaceCheckConfig struct {
	LowMargin    float64 `yaml:"low_margin"`
	MediumMargin float64 `yaml:"medium_margin"` // beyond this is the hard limit
}

// VelocityCheckConfig sets the overage-ratio cutoffs (implied / limit).
type VelocityCheckConfig struct {
	LowRatio    float64       `yaml:"low_ratio"`
	MediumRatio float64       `yaml:"medium_ratio"`
	StaleAfter  time.Duration `yaml:"stale_after"`
}

type RobotConfig struct {
	Type               string        `yaml:"type"`
	Workspace          BoundsConfig  `yaml:"workspace"`
	VelocityLimits     []float64     `yaml:"velocity_limits"` // m/s for x, y, z
	Gripper            GripperConfig `yaml:"gripper"`
	ControlFrequencyHz float64       `yaml:"control_frequency_hz"`
}

type BoundsConfig struct {
	Min []float64 `yaml:"min"`
	Max []float64 `yaml:"max"`
}

type GripperConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type EnvironmentConfig struct {
	Name    string          `yaml:"name"`
	KeepOut []KeepOutConfig `yaml:"keep_out"`
}

type KeepOutConfig struct {
	Name string    `yaml:"name"`
	Min  []float64 `yaml:"min"`
	Max  []float64 `yaml:"max"`
}

type SessionConfig struct {
	Backend     string        `yaml:"backend"` // memory | redis
	RedisAddr   string        `yaml:"redis_addr"`
	RedisDB     int           `yaml:"redis_db"`
	PasswordEnv string        `yaml:"password_env"`
	KeyPrefix   string        `yaml:"key_prefix"`
	TTL         time.Duration `yaml:"ttl"`
}

type IncidentConfig struct {
	SQLitePath   string        `yaml:"sqlite_path"`
	JSONLPath    string        `yaml:"jsonl_path"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ActivationConfig struct {
	Sinks     []ActivationSinkConfig `yaml:"sinks"`
	QueueSize int                    `yaml:"queue_size"`
	Workers   int                    `yaml:"workers"`
}

type ActivationSinkConfig struct {
	Type      string            `yaml:"type"` // file_jsonl | webhook
	Path      string            `yaml:"path"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	TimeoutMs int               `yaml:"timeout_ms"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Protocol    string `yaml:"protocol"` // grpc | http
	ServiceName string `yaml:"service_name"`
}

type CustomerConfig struct {
	ID      string   `yaml:"id"`
	APIKeys []string `yaml:"api_keys"`
}

type LoggingConfig struct {
	ActivationLevel string `yaml:"activation_level"` // metadata | full
}

// Load reads configuration from a YAML file, then applies environment overrides.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg := defaultConfig()
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
		applyDefaults(cfg)
		return cfg, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := defaultConfig()
	applyDefaults(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Inference: InferenceConfig{
			Type: "fake",
		},
		Robots:  defaultRobots(),
		Logging: LoggingConfig{ActivationLevel: "metadata"},
	}
}

func defaultRobots() []RobotConfig {
	return []RobotConfig{
		{
			Type:               "franka_panda",
			Workspace:          BoundsConfig{Min: []float64{-0.6, -0.6, -0.6}, Max: []float64{0.6, 0.6, 0.6}},
			VelocityLimits:     []float64{1.0, 1.0, 1.0},
			Gripper:            GripperConfig{Min: 0, Max: 1},
			ControlFrequencyHz: 10,
		},
		{
			Type:               "widowx_250",
			Workspace:          BoundsConfig{Min: []float64{0.1, -0.35, 0.0}, Max: []float64{0.5, 0.35, 0.4}},
			VelocityLimits:     []float64{0.5, 0.5, 0.5},
			Gripper:            GripperConfig{Min: 0, Max: 1},
			ControlFrequencyHz: 5,
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxRequestBodyBytes <= 0 {
		cfg.Server.MaxRequestBodyBytes = 8 << 20
	}
	if cfg.Server.ReadHeaderTimeout <= 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}

	if cfg.Inference.Type == "" {
		cfg.Inference.Type = "fake"
	}
	if cfg.Inference.Timeout <= 0 {
		cfg.Inference.Timeout = 2 * time.Second
	}
	if cfg.Inference.MaxRetries < 0 {
		cfg.Inference.MaxRetries = 0
	}
	if cfg.Inference.MaxResponseBytes <= 0 {
		cfg.Inference.MaxResponseBytes = 64 << 10
	}
	if cfg.Inference.ONNX.ImageSize <= 0 {
		cfg.Inference.ONNX.ImageSize = 224
	}
	if cfg.Inference.ONNX.SeqLen <= 0 {
		cfg.Inference.ONNX.SeqLen = 64
	}
	if cfg.Inference.ONNX.ImageInput == "" {
		cfg.Inference.ONNX.ImageInput = "pixel_values"
	}
	if cfg.Inference.ONNX.TokenInput == "" {
		cfg.Inference.ONNX.TokenInput = "input_ids"
	}
	if cfg.Inference.ONNX.ActionOutput == "" {
		cfg.Inference.ONNX.ActionOutput = "actions"
	}

	if cfg.QualityGate.MaxInstructionChars <= 0 {
		cfg.QualityGate.MaxInstructionChars = 512
	}
	if cfg.QualityGate.MaxImageBytes <= 0 {
		cfg.QualityGate.MaxImageBytes = 4 << 20
	}
	if cfg.QualityGate.MinImageDim <= 0 {
		cfg.QualityGate.MinImageDim = 16
	}
	if cfg.QualityGate.MaxImageDim <= 0 {
		cfg.QualityGate.MaxImageDim = 4096
	}
	if cfg.QualityGate.MaxControlFrequencyHz <= 0 {
		cfg.QualityGate.MaxControlFrequencyHz = 1000
	}

	applySafetyDefaults(&cfg.Safety)

	if len(cfg.Robots) == 0 {
		cfg.Robots = defaultRobots()
	}

	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "memory"
	}
	if cfg.Sessions.KeyPrefix == "" {
		cfg.Sessions.KeyPrefix = "vlaguard:session:"
	}
	if cfg.Sessions.TTL <= 0 {
		cfg.Sessions.TTL = 10 * time.Minute
	}

	if cfg.Incidents.SQLitePath == "" {
		cfg.Incidents.SQLitePath = "vlaguard-incidents.db"
	}
	if cfg.Incidents.WriteTimeout <= 0 {
		cfg.Incidents.WriteTimeout = 5 * time.Second
	}

	if cfg.Activation.QueueSize <= 0 {
		cfg.Activation.QueueSize = 1000
	}
	if cfg.Activation.Workers <= 0 {
		cfg.Activation.Workers = 1
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "vlaguard"
	}

	if cfg.Logging.ActivationLevel == "" {
		cfg.Logging.ActivationLevel = "metadata"
	}
}

func applySafetyDefaults(s *SafetyConfig) {
	if s.ClampThreshold == 0 {
		s.ClampThreshold = 1.0
	}
	if s.RejectThreshold == 0 {
		s.RejectThreshold = 0.8
	}
	if s.RejectSeverity == "" {
		s.RejectSeverity = "high"
	}
	if s.Weights == nil {
		s.Weights = map[string]float64{}
	}
	penalties := map[string]float64{
		"none":     0,
		"low":      0.1,
		"medium":   0.3,
		"high":     0.6,
		"critical": 1.0,
	}
	if s.Penalties == nil {
		s.Penalties = map[string]float64{}
	}
	for k, v := range penalties {
		if _, ok := s.Penalties[k]; !ok {
			s.Penalties[k] = v
		}
	}
	if s.Workspace.LowMargin <= 0 {
		s.Workspace.LowMargin = 0.02
	}
	if s.Workspace.MediumMargin <= 0 {
		s.Workspace.MediumMargin = 0.10
	}
	if s.Velocity.LowRatio <= 0 {
		s.Velocity.LowRatio = 1.25
	}
	if s.Velocity.MediumRatio <= 0 {
		s.Velocity.MediumRatio = 1.5
	}
	if s.Velocity.StaleAfter <= 0 {
		s.Velocity.StaleAfter = 2 * time.Second
	}
}
