// Package config loads orchestrator configuration from environment
// variables into a single immutable Config value. No package in this repo
// reads os.Getenv outside this file — every component receives its
// configuration by parameter (see DESIGN.md, "explicit services not
// singletons").
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config is the fully resolved process configuration, populated once at
// startup by Load.
type Config struct {
	// Storage
	DatabaseURL      string
	RedisURL         string
	QueueBrokerURL   string
	MongoURL         string
	MongoDatabase    string

	// Secrets
	WebhookSecret       string
	MondaySigningSecret string
	MondayAPIToken      string
	AnthropicAPIKey     string
	OpenAIAPIKey        string
	AWSRegion           string
	SCMToken            string
	SlackToken          string

	// LLM provider ladder: the model each rung uses. The Anthropic and
	// OpenAI rungs are wired only when their API key is set (their model
	// names have non-empty defaults); the Bedrock rung is wired only when
	// BedrockModel is non-empty. An unconfigured provider is simply absent
	// from the ladder rather than attempted with empty credentials.
	AnthropicModel string
	OpenAIModel    string
	BedrockModel   string

	TicketAPIEndpoint string
	SCMBaseURL        string

	// Behaviour
	DefaultBaseBranch string
	RepoBaseBranches  map[string]string
	BaseBranchRules   map[string]string

	ValidationTimeoutQuestion time.Duration
	ValidationTimeoutCommand  time.Duration
	MaxTestRetries            int

	CooldownNormal     time.Duration
	CooldownAggressive time.Duration
	CooldownEmergency  time.Duration
	MaxFailedAttempts  int
	LockMaxAge         time.Duration
	HeartbeatInterval  time.Duration

	ProcWindow              time.Duration
	MaxReactivationsPerRun  int
	DescriptionHistoryDepth int

	HTTPAddr string
	BoardID  string
	TestIDPrefixes []string

	// WorkerCount is how many goroutines the intake queue consumer pool
	// runs, per §5's "pool of background workers ... NumCPU()-scaled,
	// configurable."
	WorkerCount    int
	QueueHighWater int
	UseTemporal    bool
	TemporalHostPort string
	TemporalTaskQueue string
}

// Load reads Config from the process environment, applying the documented
// defaults for every behavioural knob. DATABASE_URL is the only required
// variable; its absence is a fatal startup error (exit code 1, per spec §6).
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getenvDefault("REDIS_URL", "redis://localhost:6379/0"),
		QueueBrokerURL: getenvDefault("CELERY_BROKER_URL", "redis://localhost:6379/1"),
		MongoURL:       getenvDefault("MONGO_URL", "mongodb://localhost:27017"),
		MongoDatabase:  getenvDefault("MONGO_DATABASE", "orchestrator"),

		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		MondaySigningSecret: os.Getenv("MONDAY_SIGNING_SECRET"),
		MondayAPIToken:      os.Getenv("MONDAY_API_TOKEN"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		AWSRegion:           getenvDefault("AWS_REGION", "us-east-1"),
		SCMToken:            os.Getenv("SCM_TOKEN"),
		SlackToken:          os.Getenv("SLACK_TOKEN"),

		AnthropicModel: getenvDefault("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		OpenAIModel:    getenvDefault("OPENAI_MODEL", "gpt-4o"),
		BedrockModel:   os.Getenv("BEDROCK_MODEL"),

		TicketAPIEndpoint: getenvDefault("MONDAY_API_ENDPOINT", "https://api.monday.com/v2"),
		SCMBaseURL:        getenvDefault("SCM_BASE_URL", "https://api.github.com"),

		DefaultBaseBranch: getenvDefault("DEFAULT_BASE_BRANCH", "main"),

		MaxTestRetries: getenvInt("MAX_TEST_RETRIES", 3),

		MaxFailedAttempts: getenvInt("MAX_FAILED_REACTIVATION_ATTEMPTS", 3),
		LockMaxAge:        getenvDuration("LOCK_MAX_AGE", 15*time.Minute),
		HeartbeatInterval: getenvDuration("HEARTBEAT_INTERVAL", 30*time.Second),

		ValidationTimeoutQuestion: getenvDuration("VALIDATION_TIMEOUT_QUESTION", 60*time.Minute),
		ValidationTimeoutCommand:  getenvDuration("VALIDATION_TIMEOUT_COMMAND", 20*time.Second),

		// The original source sets every cooldown duration to zero; spec.md §9
		// flags this as an open question rather than a contract. DESIGN.md
		// records the decision: cooldowns default to non-zero here but remain
		// fully configurable per the escalation ladder (normal < aggressive <
		// emergency), and an operator may reproduce the original's always-zero
		// behaviour by setting NORMAL_COOLDOWN, AGGRESSIVE_COOLDOWN and
		// EMERGENCY_COOLDOWN to 0.
		CooldownNormal:     getenvDuration("NORMAL_COOLDOWN", 5*time.Minute),
		CooldownAggressive: getenvDuration("AGGRESSIVE_COOLDOWN", 30*time.Minute),
		CooldownEmergency:  getenvDuration("EMERGENCY_COOLDOWN", 2*time.Hour),

		ProcWindow:              getenvDuration("PROC_WINDOW", 2*time.Minute),
		MaxReactivationsPerRun:  getenvInt("MAX_REACTIVATIONS_PER_RUN", 3),
		DescriptionHistoryDepth: getenvInt("DESCRIPTION_HISTORY_DEPTH", 4),

		HTTPAddr: getenvDefault("HTTP_ADDR", ":8000"),
		BoardID:  os.Getenv("MONDAY_BOARD_ID"),

		WorkerCount:    getenvInt("WORKER_COUNT", runtime.NumCPU()),
		QueueHighWater: getenvInt("QUEUE_HIGH_WATER", 1000),
		UseTemporal:    os.Getenv("TEMPORAL_HOST_PORT") != "",
		TemporalHostPort:  getenvDefault("TEMPORAL_HOST_PORT", ""),
		TemporalTaskQueue: getenvDefault("TEMPORAL_TASK_QUEUE", "orchestrator-runs"),
	}

	if v := os.Getenv("REPO_BASE_BRANCHES"); v != "" {
		m := map[string]string{}
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return Config{}, fmt.Errorf("parsing REPO_BASE_BRANCHES: %w", err)
		}
		cfg.RepoBaseBranches = m
	}
	if v := os.Getenv("BASE_BRANCH_RULES"); v != "" {
		m := map[string]string{}
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return Config{}, fmt.Errorf("parsing BASE_BRANCH_RULES: %w", err)
		}
		cfg.BaseBranchRules = m
	}
	if v := os.Getenv("TEST_ID_PREFIXES"); v != "" {
		var prefixes []string
		if err := json.Unmarshal([]byte(v), &prefixes); err != nil {
			return Config{}, fmt.Errorf("parsing TEST_ID_PREFIXES: %w", err)
		}
		cfg.TestIDPrefixes = prefixes
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	// Accept plain seconds ("30") or a Go duration string ("30s").
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
