package domain

import "time"

// Config holds the complete verifier configuration.
type Config struct {
	// Server settings for the verification API.
	Server ServerConfig `json:"server" mapstructure:"server"`

	// TMS describes the detection engine under test.
	TMS TMSConfig `json:"tms" mapstructure:"tms"`

	// Mock configures the bundled detection-engine stand-in.
	Mock MockConfig `json:"mock" mapstructure:"mock"`

	Scenario   ScenarioConfig   `json:"scenario" mapstructure:"scenario"`
	Simulation SimulationConfig `json:"simulation" mapstructure:"simulation"`
	LogSource  LogSourceConfig  `json:"logSource" mapstructure:"log_source"`

	// Component configurations
	History  RepositoryConfig `json:"history" mapstructure:"history"`
	Velocity VelocityConfig   `json:"velocity" mapstructure:"velocity"`
	EventBus EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds

	// AllowedOrigins limits CORS; empty echoes any origin.
	AllowedOrigins []string `json:"allowedOrigins" mapstructure:"allowed_origins"`
}

// TMSConfig points the verifier at the evaluation and confirmation endpoints.
type TMSConfig struct {
	BaseURL        string        `json:"baseUrl" mapstructure:"base_url"`
	RequestTimeout time.Duration `json:"requestTimeout" mapstructure:"request_timeout"`
	Currency       string        `json:"currency" mapstructure:"currency"`
	TenantID       string        `json:"tenantId" mapstructure:"tenant_id"`
}

// MockConfig configures the detection-engine stand-in.
type MockConfig struct {
	Server ServerConfig `json:"server" mapstructure:"server"`

	// HighValueFlag marks any single amount above it as ACTC.
	HighValueFlag float64 `json:"highValueFlag" mapstructure:"high_value_flag"`

	// LogBufferLines bounds each per-rule log ring.
	LogBufferLines int `json:"logBufferLines" mapstructure:"log_buffer_lines"`

	// PublishEvents sends structured detection events on the event bus.
	PublishEvents bool `json:"publishEvents" mapstructure:"publish_events"`

	// Embedded runs the stand-in inside the verifier process.
	Embedded bool `json:"embedded" mapstructure:"embedded"`

	// Correlation remembers submitted message id pairs for pacs.002 matching.
	Correlation CorrelationConfig `json:"correlation" mapstructure:"correlation"`
}

// VelocityConfig configures the sliding-window reference evaluator.
type VelocityConfig struct {
	Window time.Duration `json:"window" mapstructure:"window"`
	Limit  int           `json:"limit" mapstructure:"limit"`

	// Store is "memory" or "redis".
	Store         string `json:"store" mapstructure:"store"`
	RedisAddr     string `json:"redisAddr" mapstructure:"redis_addr"`
	RedisPassword string `json:"redisPassword" mapstructure:"redis_password"`
	RedisDB       int    `json:"redisDb" mapstructure:"redis_db"`
}

// ScenarioConfig holds the amount policy knobs of the scenario generator.
type ScenarioConfig struct {
	// StepRatio is the per-position amount increment as a fraction of base.
	StepRatio float64 `json:"stepRatio" mapstructure:"step_ratio"`
	// Cycle is how many positions the increment climbs before wrapping.
	Cycle int `json:"cycle" mapstructure:"cycle"`
	// JitterMin and JitterMax bound the random jitter as fractions of base.
	JitterMin float64 `json:"jitterMin" mapstructure:"jitter_min"`
	JitterMax float64 `json:"jitterMax" mapstructure:"jitter_max"`

	VelocityBase          float64 `json:"velocityBase" mapstructure:"velocity_base"`
	FanInBase             float64 `json:"fanInBase" mapstructure:"fan_in_base"`
	StructuringBase       float64 `json:"structuringBase" mapstructure:"structuring_base"`
	StructuringJitter     float64 `json:"structuringJitter" mapstructure:"structuring_jitter"`
	HighValueBaselineBase float64 `json:"highValueBaselineBase" mapstructure:"high_value_baseline_base"`
	HighValueTarget       float64 `json:"highValueTarget" mapstructure:"high_value_target"`
}

// SimulationConfig holds orchestrator timing and detection settings.
type SimulationConfig struct {
	PostBaselineDelay    time.Duration `json:"postBaselineDelay" mapstructure:"post_baseline_delay"`
	PostAttackDelay      time.Duration `json:"postAttackDelay" mapstructure:"post_attack_delay"`
	PostDetectDelay      time.Duration `json:"postDetectDelay" mapstructure:"post_detect_delay"`
	QuickStatusDelay     time.Duration `json:"quickStatusDelay" mapstructure:"quick_status_delay"`
	FullTransactionDelay time.Duration `json:"fullTransactionDelay" mapstructure:"full_transaction_delay"`

	BaselineAmount   float64 `json:"baselineAmount" mapstructure:"baseline_amount"`
	BaselineCreditor string  `json:"baselineCreditor" mapstructure:"baseline_creditor"`
	BlockCreditor    string  `json:"blockCreditor" mapstructure:"block_creditor"`
	MuleCreditor     string  `json:"muleCreditor" mapstructure:"mule_creditor"`

	DefaultAccount     string `json:"defaultAccount" mapstructure:"default_account"`
	DefaultRule        string `json:"defaultRule" mapstructure:"default_rule"`
	DefaultAttackCount int    `json:"defaultAttackCount" mapstructure:"default_attack_count"`
	MaxAttackCount     int    `json:"maxAttackCount" mapstructure:"max_attack_count"`

	// DetectMode is "logs" or "events".
	DetectMode string `json:"detectMode" mapstructure:"detect_mode"`
	LogTail    int    `json:"logTail" mapstructure:"log_tail"`
}

// LogSourceConfig selects how engine output is fetched.
type LogSourceConfig struct {
	// Type is "http" or "docker".
	Type   string `json:"type" mapstructure:"type"`
	URL    string `json:"url" mapstructure:"url"`
	Prefix string `json:"prefix" mapstructure:"prefix"`
	Suffix string `json:"suffix" mapstructure:"suffix"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 120,
		},
		TMS: TMSConfig{
			BaseURL:        "http://localhost:5000",
			RequestTimeout: 10 * time.Second,
			Currency:       "XTS",
			TenantID:       "DEFAULT",
		},
		Mock: MockConfig{
			Server: ServerConfig{
				Host:         "0.0.0.0",
				Port:         5000,
				ReadTimeout:  30,
				WriteTimeout: 30,
			},
			HighValueFlag:  1_000_000_000,
			LogBufferLines: 2000,
			PublishEvents:  true,
			Correlation: CorrelationConfig{
				Type:    "memory",
				MaxSize: 10000,
				TTL:     time.Hour,
			},
		},
		Velocity: VelocityConfig{
			Window: 60 * time.Second,
			Limit:  5,
			Store:  "memory",
		},
		Scenario: ScenarioConfig{
			StepRatio:             0.2,
			Cycle:                 6,
			JitterMin:             0.002,
			JitterMax:             0.02,
			VelocityBase:          500_000,
			FanInBase:             500_000,
			StructuringBase:       9_500_000,
			StructuringJitter:     0,
			HighValueBaselineBase: 500_000,
			HighValueTarget:       500_000_000,
		},
		Simulation: SimulationConfig{
			PostBaselineDelay:    200 * time.Millisecond,
			PostAttackDelay:      500 * time.Millisecond,
			PostDetectDelay:      200 * time.Millisecond,
			QuickStatusDelay:     300 * time.Millisecond,
			FullTransactionDelay: 500 * time.Millisecond,
			BaselineAmount:       1_000_000,
			BaselineCreditor:     "LEGIT_CREDITOR_001",
			BlockCreditor:        "BLOCKED_CREDITOR",
			MuleCreditor:         "MULE_TARGET_001",
			DefaultAccount:       "FRAUD_SIM_001",
			DefaultRule:          "rule_006",
			DefaultAttackCount:   6,
			MaxAttackCount:       20,
			DetectMode:           "logs",
			LogTail:              100,
		},
		LogSource: LogSourceConfig{
			Type:   "http",
			URL:    "http://localhost:5000",
			Prefix: "tazama-rule-",
			Suffix: "-1",
		},
		History: RepositoryConfig{
			Driver:     "memory",
			SQLitePath: "./verify.db",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "osprey-verify",
		},
	}
}
