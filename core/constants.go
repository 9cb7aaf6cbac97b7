package core

import "time"

// Environment variables read by Config.LoadFromEnv.
const (
	EnvGeminiAPIKey     = "GEMINI_API_KEY"
	EnvGeminiModel      = "GEMINI_MODEL"
	EnvGeminiTimeoutSec = "GEMINI_TIMEOUT_SECS"
	EnvMaxGoalLength    = "MAX_GOAL_LENGTH"
	EnvPlanTimeoutSec   = "PLAN_TIMEOUT_SECS"
	EnvMaxParallelTasks = "MAX_PARALLEL_TASKS"
	EnvWorkingDir       = "WORKING_DIR"
	EnvBridgeScriptPath = "BRIDGE_SCRIPT_PATH"
	EnvBridgeTimeoutSec = "BRIDGE_TIMEOUT_SECS"
	EnvRedisURL         = "REDIS_URL"
	EnvPort             = "PORT"
	EnvDevMode          = "DEV_MODE"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
	EnvOTLPEndpoint     = "OTLP_ENDPOINT"
	EnvOTELServiceName  = "OTEL_SERVICE_NAME"

	// EnvConfigFile, if set, names a YAML file NewConfig overlays between
	// DefaultConfig and environment variables.
	EnvConfigFile = "CONFIG_FILE"

	// EnvKubernetesServiceHost is how DetectEnvironment tells a cluster
	// deployment from a laptop run.
	EnvKubernetesServiceHost = "KUBERNETES_SERVICE_HOST"
)

// Redis key conventions, used by the optional durable execution/session
// store when REDIS_URL is configured.
const (
	// DefaultRedisPrefix namespaces every key this service writes.
	DefaultRedisPrefix = "taskgraph:"

	// DefaultExecutionTTL bounds how long a finished execution's state
	// lingers in Redis before expiring.
	DefaultExecutionTTL = 24 * time.Hour
)
