// Package application holds the audit use cases: the quota gate, request
// assembly, the reasoning client and the orchestrator that ties them to the
// storage ports.
package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

// Environment variables that override secrets and deployment specific paths.
const (
	EnvLLMAPIKey        = "AUDIT_LLM_API_KEY"
	EnvDBPath           = "AUDIT_DB_PATH"
	EnvNotifyWebhookURL = "AUDIT_NOTIFY_WEBHOOK_URL"
)

// Config is the service configuration loaded from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server" validate:"required"`
	Database  DatabaseConfig  `yaml:"database" validate:"required"`
	Reasoning ReasoningConfig `yaml:"reasoning" validate:"required"`
	Quota     QuotaConfig     `yaml:"quota"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0,max=5m"`
	MetricsPath     string        `yaml:"metrics_path" validate:"omitempty,startswith=/"`

	// GenerateRequestsPerMinute throttles the generation endpoints. Zero
	// disables the limit.
	GenerateRequestsPerMinute int `yaml:"generate_requests_per_minute" validate:"min=0,max=100000"`
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ReasoningConfig selects and tunes the reasoning provider.
type ReasoningConfig struct {
	// Provider is one of the registered llm providers.
	Provider string `yaml:"provider" validate:"required,oneof=openai anthropic google"`
	Model    string `yaml:"model" validate:"required,modelname"`
	APIKey   string `yaml:"api_key" validate:"required"`
	BaseURL  string `yaml:"base_url" validate:"omitempty,url"`

	// Timeout bounds a single reasoning call including retries.
	Timeout     time.Duration `yaml:"timeout" validate:"min=1s,max=10m"`
	MaxTokens   int           `yaml:"max_tokens" validate:"min=1,max=32768"`
	Temperature float64       `yaml:"temperature" validate:"min=0,max=2"`

	// MaxPromptTokens rejects oversized transcripts before calling the
	// provider. Zero disables the check.
	MaxPromptTokens int `yaml:"max_prompt_tokens" validate:"min=0"`

	Retry          RetryConfig          `yaml:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig configures retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1,max=10"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"min=0,max=1m"`
}

// RateLimitConfig caps outbound reasoning calls.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"min=0,max=100000"`
	Burst             int `yaml:"burst" validate:"min=0,max=1000"`
}

// CircuitBreakerConfig configures the provider circuit breaker. Zero
// MaxFailures disables it.
type CircuitBreakerConfig struct {
	MaxFailures int           `yaml:"max_failures" validate:"min=0,max=1000"`
	Cooldown    time.Duration `yaml:"cooldown" validate:"min=0,max=1h"`
}

// QuotaConfig prices usage events.
type QuotaConfig struct {
	CostPer1KTokens float64 `yaml:"cost_per_1k_tokens" validate:"min=0"`
}

// NotifyConfig selects how new audits are announced.
type NotifyConfig struct {
	Mode       string        `yaml:"mode" validate:"oneof=none log webhook"`
	WebhookURL string        `yaml:"webhook_url" validate:"required_if=Mode webhook,omitempty,url"`
	Timeout    time.Duration `yaml:"timeout" validate:"min=0,max=1m"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// DefaultConfig returns a configuration with every optional value filled.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			MetricsPath:     "/metrics",

			GenerateRequestsPerMinute: 10,
		},
		Database: DatabaseConfig{Path: "data/audit.db"},
		Reasoning: ReasoningConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     60 * time.Second,
			MaxTokens:   4096,
			Temperature: 0.3,
			Retry:       RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond},
			RateLimit:   RateLimitConfig{RequestsPerMinute: 10, Burst: 10},
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Cooldown:    30 * time.Second,
			},
		},
		Quota:  QuotaConfig{CostPer1KTokens: 0.002},
		Notify: NotifyConfig{Mode: "log", Timeout: 5 * time.Second},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// ConfigLoader decodes and validates configuration files.
type ConfigLoader struct {
	validator *validator.Validate
	lookupEnv func(string) (string, bool)
}

// NewConfigLoader returns a loader reading overrides from the process
// environment.
func NewConfigLoader() (*ConfigLoader, error) {
	v := validator.New()
	if err := v.RegisterValidation("modelname", validateModelName); err != nil {
		return nil, fmt.Errorf("failed to register modelname validator: %w", err)
	}
	return &ConfigLoader{validator: v, lookupEnv: os.LookupEnv}, nil
}

// LoadFromFile reads the YAML file at path on top of DefaultConfig.
func (l *ConfigLoader) LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ports.NewConfigError(path, ports.ErrConfigNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.load(data)
}

// LoadFromReader reads YAML from r on top of DefaultConfig.
func (l *ConfigLoader) LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.load(data)
}

func (l *ConfigLoader) load(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("YAML decode failed: %w", err)
		}
	}

	l.applyEnv(&cfg)

	if err := l.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *ConfigLoader) applyEnv(cfg *Config) {
	if v, ok := l.lookupEnv(EnvLLMAPIKey); ok && v != "" {
		cfg.Reasoning.APIKey = v
	}
	if v, ok := l.lookupEnv(EnvDBPath); ok && v != "" {
		cfg.Database.Path = v
	}
	if v, ok := l.lookupEnv(EnvNotifyWebhookURL); ok && v != "" {
		cfg.Notify.WebhookURL = v
		if cfg.Notify.Mode == "log" || cfg.Notify.Mode == "" {
			cfg.Notify.Mode = "webhook"
		}
	}
}

// SlogLevel maps the configured level onto slog.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// validateModelName accepts provider model identifiers such as
// "gpt-4o-mini", "claude-3-5-sonnet-20241022" or "models/gemini-2.0-flash".
func validateModelName(fl validator.FieldLevel) bool {
	model := fl.Field().String()
	if model == "" || strings.HasPrefix(model, "/") || strings.HasSuffix(model, "/") {
		return false
	}
	for _, ch := range model {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case strings.ContainsRune("-_.:/@", ch):
		default:
			return false
		}
	}
	return true
}
