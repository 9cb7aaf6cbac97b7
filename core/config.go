package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable for the orchestrator service. Four-layer
// priority, low to high:
//  1. DefaultConfig() values
//  2. an optional YAML file (LoadFromFile, named by CONFIG_FILE)
//  3. environment variables (LoadFromEnv)
//  4. functional options passed to NewConfig
//
// The configuration auto-detects Kubernetes vs local execution and adjusts
// the log format, development mode and CORS defaults accordingly.
type Config struct {
	Port int `json:"port" yaml:"port" env:"PORT" default:"8080"`

	Gemini      GeminiConfig      `json:"gemini" yaml:"gemini"`
	Planning    PlanningConfig    `json:"planning" yaml:"planning"`
	Executor    ExecutorConfig    `json:"executor" yaml:"executor"`
	Bridge      BridgeConfig      `json:"bridge" yaml:"bridge"`
	Redis       RedisConfig       `json:"redis" yaml:"redis"`
	HTTP        HTTPConfig        `json:"http" yaml:"http"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Tracing     TracingConfig     `json:"tracing" yaml:"tracing"`
	Development DevelopmentConfig `json:"development" yaml:"development"`

	logger Logger `json:"-" yaml:"-"`
}

// GeminiConfig controls the LLM client (C2).
type GeminiConfig struct {
	APIKey  string        `json:"-" yaml:"api_key" env:"GEMINI_API_KEY"`
	Model   string        `json:"model" yaml:"model" env:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"GEMINI_TIMEOUT_SECS" default:"30s"`
}

// PlanningConfig controls goal validation and plan generation (C1/C3).
type PlanningConfig struct {
	MaxGoalLength int           `json:"max_goal_length" yaml:"max_goal_length" env:"MAX_GOAL_LENGTH" default:"10000"`
	PlanTimeout   time.Duration `json:"plan_timeout" yaml:"plan_timeout" env:"PLAN_TIMEOUT_SECS" default:"300s"`
}

// ExecutorConfig controls DAG execution concurrency (C6).
type ExecutorConfig struct {
	MaxParallelTasks int    `json:"max_parallel_tasks" yaml:"max_parallel_tasks" env:"MAX_PARALLEL_TASKS" default:"10"`
	WorkingDir       string `json:"working_dir" yaml:"working_dir" env:"WORKING_DIR" default:"./workspace"`
}

// BridgeConfig controls the per-conversation sidecar process pool (C8/C9).
type BridgeConfig struct {
	ScriptPath string        `json:"script_path" yaml:"script_path" env:"BRIDGE_SCRIPT_PATH" default:"./bridge/chat_bridge.js"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout" env:"BRIDGE_TIMEOUT_SECS" default:"120s"`
}

// RedisConfig controls the optional durable execution/session store.
// Enabled is derived: Redis-backed storage activates only when URL is set.
type RedisConfig struct {
	URL    string `json:"url" yaml:"url" env:"REDIS_URL"`
	Prefix string `json:"prefix" yaml:"prefix" env:"REDIS_PREFIX" default:"taskgraph:"`
}

func (r RedisConfig) Enabled() bool { return r.URL != "" }

// HTTPConfig contains HTTP server timeouts and CORS settings.
type HTTPConfig struct {
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	CORS            CORSConfig    `json:"cors" yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing configuration.
// Supports wildcard domains (*.example.com) and wildcard ports (http://localhost:*).
type CORSConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled" env:"CORS_ENABLED" default:"false"`
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins" env:"CORS_ORIGINS"`
	AllowedMethods   []string `json:"allowed_methods" yaml:"allowed_methods" env:"CORS_METHODS" default:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `json:"allowed_headers" yaml:"allowed_headers" env:"CORS_HEADERS" default:"Content-Type"`
	ExposedHeaders   []string `json:"exposed_headers" yaml:"exposed_headers" env:"CORS_EXPOSED_HEADERS"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials" env:"CORS_CREDENTIALS" default:"false"`
	MaxAge           int      `json:"max_age" yaml:"max_age" env:"CORS_MAX_AGE" default:"86400"`
}

// LoggingConfig controls the structured logger's output shape.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT" default:"json"`
	Output string `json:"output" yaml:"output" env:"LOG_OUTPUT" default:"stdout"`
}

// TracingConfig selects where spans go. An empty OTLPEndpoint keeps the
// default stdout exporter (telemetry.InitStdoutProvider); setting it points
// every span — the Gemini client, graph execution, bridge sends — at a real
// collector over gRPC instead (telemetry.InitOTLPProvider).
type TracingConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string `json:"service_name" yaml:"service_name" env:"OTEL_SERVICE_NAME" default:"taskgraphd"`
}

// DevelopmentConfig holds local-dev-only toggles.
// WARNING: never enable in a production deployment.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" env:"DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" yaml:"debug_logging" env:"DEBUG" default:"false"`
}

// Option is a functional option for configuring the service.
type Option func(*Config) error

// DefaultConfig returns a configuration populated with the defaults named in
// the spec, then adjusted for the detected execution environment.
func DefaultConfig() *Config {
	cfg := &Config{
		Port: 8080,
		Gemini: GeminiConfig{
			Model:   "gemini-2.5-flash",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: 30 * time.Second,
		},
		Planning: PlanningConfig{
			MaxGoalLength: 10000,
			PlanTimeout:   300 * time.Second,
		},
		Executor: ExecutorConfig{
			MaxParallelTasks: 10,
			WorkingDir:       "./workspace",
		},
		Bridge: BridgeConfig{
			ScriptPath: "./bridge/chat_bridge.js",
			Timeout:    120 * time.Second,
		},
		Redis: RedisConfig{
			Prefix: DefaultRedisPrefix,
		},
		HTTP: HTTPConfig{
			ReadTimeout:     30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORS:            *RestrictiveCORSConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			ServiceName: "taskgraphd",
		},
		Development: DevelopmentConfig{},
	}

	cfg.DetectEnvironment()

	return cfg
}

// DetectEnvironment adjusts defaults for Kubernetes vs local execution.
// Called automatically by DefaultConfig; exposed so NewConfig can re-apply
// it after environment variables change process state in tests.
//
// Detection: KUBERNETES_SERVICE_HOST set means cluster, unset means local.
func (c *Config) DetectEnvironment() {
	if os.Getenv(EnvKubernetesServiceHost) != "" {
		c.Logging.Format = "json"
		c.HTTP.CORS = *RestrictiveCORSConfig()
		return
	}

	c.Development.Enabled = true
	c.Logging.Format = "text"
	c.HTTP.CORS = *PermissiveCORSConfig()
}

// LoadFromFile overlays a YAML config file onto an already-defaulted
// Config. Only fields present in the file are touched; everything else
// keeps whatever DefaultConfig set. A missing path is not an error — the
// file is optional by design, named only when CONFIG_FILE is set.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if c.logger != nil {
		c.logger.Info("configuration loaded from file", map[string]interface{}{"path": path})
	}
	return nil
}

// LoadFromEnv overlays environment variables onto an already-defaulted
// Config. Returns an error if a numeric/duration variable is set but
// unparseable.
func (c *Config) LoadFromEnv() error {
	if c.logger != nil {
		c.logger.Info("loading configuration from environment", nil)
	}

	envVarsLoaded := 0
	loaded := func(setting, envVar string) {
		envVarsLoaded++
		if c.logger != nil {
			c.logger.Debug("configuration loaded", map[string]interface{}{
				"setting": setting,
				"source":  envVar,
			})
		}
	}

	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Port = port
		loaded("port", EnvPort)
	}
	if v := os.Getenv(EnvGeminiAPIKey); v != "" {
		c.Gemini.APIKey = v
		loaded("gemini.api_key", EnvGeminiAPIKey)
	}
	if v := os.Getenv(EnvGeminiModel); v != "" {
		c.Gemini.Model = v
		loaded("gemini.model", EnvGeminiModel)
	}
	if v := os.Getenv(EnvGeminiTimeoutSec); v != "" {
		d, err := parseSecondsDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvGeminiTimeoutSec, err)
		}
		c.Gemini.Timeout = d
		loaded("gemini.timeout", EnvGeminiTimeoutSec)
	}
	if v := os.Getenv(EnvMaxGoalLength); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxGoalLength, err)
		}
		c.Planning.MaxGoalLength = n
		loaded("planning.max_goal_length", EnvMaxGoalLength)
	}
	if v := os.Getenv(EnvPlanTimeoutSec); v != "" {
		d, err := parseSecondsDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPlanTimeoutSec, err)
		}
		c.Planning.PlanTimeout = d
		loaded("planning.plan_timeout", EnvPlanTimeoutSec)
	}
	if v := os.Getenv(EnvMaxParallelTasks); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxParallelTasks, err)
		}
		if n < 1 {
			return fmt.Errorf("%s must be >= 1, got %d", EnvMaxParallelTasks, n)
		}
		c.Executor.MaxParallelTasks = n
		loaded("executor.max_parallel_tasks", EnvMaxParallelTasks)
	}
	if v := os.Getenv(EnvWorkingDir); v != "" {
		c.Executor.WorkingDir = v
		loaded("executor.working_dir", EnvWorkingDir)
	}
	if v := os.Getenv(EnvBridgeScriptPath); v != "" {
		c.Bridge.ScriptPath = v
		loaded("bridge.script_path", EnvBridgeScriptPath)
	}
	if v := os.Getenv(EnvBridgeTimeoutSec); v != "" {
		d, err := parseSecondsDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBridgeTimeoutSec, err)
		}
		c.Bridge.Timeout = d
		loaded("bridge.timeout", EnvBridgeTimeoutSec)
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
		loaded("redis.url", EnvRedisURL)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
		loaded("logging.level", EnvLogLevel)
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
		loaded("logging.format", EnvLogFormat)
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		c.Tracing.OTLPEndpoint = v
		loaded("tracing.otlp_endpoint", EnvOTLPEndpoint)
	}
	if v := os.Getenv(EnvOTELServiceName); v != "" {
		c.Tracing.ServiceName = v
		loaded("tracing.service_name", EnvOTELServiceName)
	}
	if v := os.Getenv(EnvDevMode); v != "" {
		c.Development.Enabled = parseBool(v)
		loaded("development.enabled", EnvDevMode)
	}
	if v := os.Getenv("CORS_ENABLED"); v != "" {
		c.HTTP.CORS.Enabled = parseBool(v)
		loaded("http.cors.enabled", "CORS_ENABLED")
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.HTTP.CORS.AllowedOrigins = parseStringList(v)
		loaded("http.cors.allowed_origins", "CORS_ORIGINS")
	}

	if c.logger != nil {
		c.logger.Info("configuration loaded from environment", map[string]interface{}{
			"vars_loaded": envVarsLoaded,
		})
	}

	return nil
}

// Validate rejects a Config that would leave the service unable to plan or
// execute anything.
func (c *Config) Validate() error {
	if c.Planning.MaxGoalLength <= 0 {
		return fmt.Errorf("%w: max_goal_length must be > 0", ErrInvalidConfiguration)
	}
	if c.Executor.MaxParallelTasks < 1 {
		return fmt.Errorf("%w: max_parallel_tasks must be >= 1", ErrInvalidConfiguration)
	}
	if c.Gemini.Timeout <= 0 {
		return fmt.Errorf("%w: gemini timeout must be > 0", ErrInvalidConfiguration)
	}
	if c.Planning.PlanTimeout <= 0 {
		return fmt.Errorf("%w: plan timeout must be > 0", ErrInvalidConfiguration)
	}
	return nil
}

func parseSecondsDuration(v string) (time.Duration, error) {
	// Accept either a bare integer ("30") or a Go duration string ("30s").
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

// WithGeminiAPIKey sets the Gemini API key explicitly (overrides GEMINI_API_KEY).
func WithGeminiAPIKey(key string) Option {
	return func(c *Config) error {
		c.Gemini.APIKey = key
		return nil
	}
}

// WithPort overrides the HTTP listen port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: invalid port %d", ErrInvalidConfiguration, port)
		}
		c.Port = port
		return nil
	}
}

// WithMaxParallelTasks overrides the executor's admission-control width.
func WithMaxParallelTasks(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("%w: max_parallel_tasks must be >= 1", ErrInvalidConfiguration)
		}
		c.Executor.MaxParallelTasks = n
		return nil
	}
}

// WithCORS enables CORS for the given origins.
func WithCORS(origins []string, credentials bool) Option {
	return func(c *Config) error {
		c.HTTP.CORS.Enabled = true
		c.HTTP.CORS.AllowedOrigins = origins
		c.HTTP.CORS.AllowCredentials = credentials
		return nil
	}
}

// WithLogger injects a pre-built logger instead of letting NewConfig build
// a ProductionLogger from LoggingConfig/DevelopmentConfig.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithDevelopmentMode forces development-mode defaults regardless of what
// DetectEnvironment concluded.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Logging.Format = "text"
		}
		return nil
	}
}

// NewConfig builds a Config from defaults, an optional CONFIG_FILE YAML
// overlay, environment variables, and the given options, in that priority
// order, then validates the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.Development, "taskgraph")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger returns the configured Logger, building a NoOpLogger if none was set.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		return &NoOpLogger{}
	}
	return c.logger
}
