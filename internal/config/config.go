// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrMissingAPIKey is returned when no assistant API key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not found in environment variables")

// Attachment policies decide which turns receive the session's uploaded files.
const (
	AttachNextTurn  = "next_turn"
	AttachEveryTurn = "every_turn"
)

// DefaultModels is the fixed list offered in the model selector.
var DefaultModels = []string{"gpt-4.1-mini", "gpt-4o", "gpt-4o-mini"}

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	UsersFile       string
	SessionTTL      time.Duration
	OpenAI          OpenAIConfig
	Run             RunConfig
	Upload          UploadConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// OpenAIConfig configures the hosted assistant API.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Models       []string
	DefaultModel string

	// RequestTimeout bounds a single HTTP call to the API.
	RequestTimeout time.Duration
}

// RunConfig controls how chat turns wait for remote runs.
type RunConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	AttachPolicy string
}

// UploadConfig bounds document uploads.
type UploadConfig struct {
	MaxFileBytes int64
	MaxFiles     int
}

// RateLimitConfig controls per-session request throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	models := getEnvList("MODELS", DefaultModels)

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/docchat.db"),
		UsersFile:   getEnv("USERS_FILE", ""),
		SessionTTL:  getEnvDuration("SESSION_TTL", 30*24*time.Hour),
		OpenAI: OpenAIConfig{
			APIKey:         strings.TrimSpace(getEnv("OPENAI_API_KEY", "")),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			Models:         models,
			DefaultModel:   getEnv("DEFAULT_MODEL", firstOrEmpty(models)),
			RequestTimeout: getEnvDuration("OPENAI_REQUEST_TIMEOUT", 2*time.Minute),
		},
		Run: RunConfig{
			PollInterval: getEnvDuration("RUN_POLL_INTERVAL", time.Second),
			Timeout:      getEnvDuration("RUN_TIMEOUT", 5*time.Minute),
			AttachPolicy: strings.ToLower(getEnv("ATTACH_POLICY", AttachNextTurn)),
		},
		Upload: UploadConfig{
			MaxFileBytes: int64(getEnvInt("UPLOAD_MAX_FILE_BYTES", 32<<20)),
			MaxFiles:     getEnvInt("UPLOAD_MAX_FILES", 10),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if len(c.OpenAI.Models) == 0 {
		return fmt.Errorf("MODELS cannot be empty")
	}
	if !slices.Contains(c.OpenAI.Models, c.OpenAI.DefaultModel) {
		return fmt.Errorf("DEFAULT_MODEL %q is not one of MODELS", c.OpenAI.DefaultModel)
	}
	if c.Run.PollInterval <= 0 {
		return fmt.Errorf("RUN_POLL_INTERVAL must be > 0")
	}
	if c.Run.Timeout <= 0 {
		return fmt.Errorf("RUN_TIMEOUT must be > 0")
	}
	if c.OpenAI.RequestTimeout <= 0 {
		return fmt.Errorf("OPENAI_REQUEST_TIMEOUT must be > 0")
	}
	if c.Run.AttachPolicy != AttachNextTurn && c.Run.AttachPolicy != AttachEveryTurn {
		return fmt.Errorf("ATTACH_POLICY must be %q or %q", AttachNextTurn, AttachEveryTurn)
	}
	if c.Upload.MaxFileBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_FILE_BYTES must be > 0")
	}
	if c.Upload.MaxFiles <= 0 {
		return fmt.Errorf("UPLOAD_MAX_FILES must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return slices.Clone(fallback)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
