package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Runner kinds.
const (
	RunnerInProcess  = "inprocess"
	RunnerSubprocess = "subprocess"
)

// Language model providers.
const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

// Config holds all application configuration
type Config struct {
	Env   Environment `envconfig:"ENV" default:"development"`
	Debug bool        `envconfig:"DEBUG" default:"false"`

	App AppConfig

	Log LogConfig

	Server ServerConfig

	// Browser sessions
	Tester TesterConfig

	Database DatabaseConfig

	Redis RedisConfig

	Temporal TemporalConfig

	// Language model used by the navigation fallback
	LLM LLMConfig

	Storage StorageConfig

	Features FeatureFlags

	RateLimits RateLimitConfig
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"trackingtester"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	Environment string `envconfig:"APP_ENV" default:"development"`
}

// LogConfig controls the zap logger and optional rotating file output.
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info"`
	File       string `envconfig:"LOG_FILE" default:""`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"28"`
	Compress   bool   `envconfig:"LOG_COMPRESS" default:"true"`
	// Production switches to the JSON encoder.
	Production bool `ignored:"true"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"3001"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"3m"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	MaxRequestSize  int64         `envconfig:"SERVER_MAX_REQUEST_SIZE" default:"1048576"` // 1MB
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TesterConfig holds session timings and browser settings.
type TesterConfig struct {
	SessionTimeout    time.Duration `envconfig:"TESTER_SESSION_TIMEOUT" default:"2m"`
	NavigationTimeout time.Duration `envconfig:"TESTER_NAVIGATION_TIMEOUT" default:"30s"`
	ActionTimeout     time.Duration `envconfig:"TESTER_ACTION_TIMEOUT" default:"10s"`
	FieldSettle       time.Duration `envconfig:"TESTER_FIELD_SETTLE" default:"300ms"`
	KeystrokeDelay    time.Duration `envconfig:"TESTER_KEYSTROKE_DELAY" default:"50ms"`
	SubmitSettle      time.Duration `envconfig:"TESTER_SUBMIT_SETTLE" default:"3s"`
	ConfirmSettle     time.Duration `envconfig:"TESTER_CONFIRM_SETTLE" default:"2s"`
	CaptchaWait       time.Duration `envconfig:"TESTER_CAPTCHA_WAIT" default:"5s"`
	ViewportWidth     int           `envconfig:"TESTER_VIEWPORT_WIDTH" default:"1512"`
	ViewportHeight    int           `envconfig:"TESTER_VIEWPORT_HEIGHT" default:"982"`
	SlowMo            time.Duration `envconfig:"TESTER_SLOW_MO" default:"100ms"`
	Runner            string        `envconfig:"TESTER_RUNNER" default:"inprocess"`
	Binary            string        `envconfig:"TESTER_BINARY" default:"tester"`
	KeepUnrecognized  bool          `envconfig:"TESTER_KEEP_UNRECOGNIZED" default:"false"`
	MaxConcurrent     int           `envconfig:"TESTER_MAX_CONCURRENT" default:"4"`
}

// DatabaseConfig holds PostgreSQL settings. An empty Host disables run
// history.
type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:""`
	Port            int           `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"trackingtester"`
	Password        string        `envconfig:"DB_PASSWORD" default:""`
	Database        string        `envconfig:"DB_NAME" default:"trackingtester"`
	SSLMode         string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"1m"`
	AutoMigrate     bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis settings. An empty Host disables rate limiting
// and the live action feed.
type RedisConfig struct {
	Host         string        `envconfig:"REDIS_HOST" default:""`
	Port         int           `envconfig:"REDIS_PORT" default:"6379"`
	Password     string        `envconfig:"REDIS_PASSWORD" default:""`
	DB           int           `envconfig:"REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
	StatusTTL    time.Duration `envconfig:"REDIS_STATUS_TTL" default:"24h"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// Addr returns Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TemporalConfig holds Temporal settings. An empty Host disables async runs.
type TemporalConfig struct {
	Host        string `envconfig:"TEMPORAL_HOST" default:""`
	Port        int    `envconfig:"TEMPORAL_PORT" default:"7233"`
	Namespace   string `envconfig:"TEMPORAL_NAMESPACE" default:"default"`
	TaskQueue   string `envconfig:"TEMPORAL_TASK_QUEUE" default:"tracking-tests"`
	WorkerCount int    `envconfig:"TEMPORAL_WORKER_COUNT" default:"2"`
}

// Enabled reports whether Temporal is configured.
func (c TemporalConfig) Enabled() bool {
	return c.Host != ""
}

// Addr returns Temporal address
func (c TemporalConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LLMConfig selects and configures the language model provider.
type LLMConfig struct {
	Provider string `envconfig:"LLM_PROVIDER" default:"claude"`
	Claude   ClaudeConfig
	Gemini   GeminiConfig
}

// ClaudeConfig holds Claude AI settings
type ClaudeConfig struct {
	APIKey       string        `envconfig:"ANTHROPIC_API_KEY" default:""`
	BaseURL      string        `envconfig:"CLAUDE_BASE_URL" default:"https://api.anthropic.com"`
	Model        string        `envconfig:"CLAUDE_MODEL" default:"claude-sonnet-4-20250514"`
	Timeout      time.Duration `envconfig:"CLAUDE_TIMEOUT" default:"30s"`
	RateLimitRPM int           `envconfig:"CLAUDE_RATE_LIMIT_RPM" default:"50"`
	CacheTTL     time.Duration `envconfig:"CLAUDE_CACHE_TTL" default:"1h"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	APIKey     string        `envconfig:"GEMINI_API_KEY" default:""`
	BaseURL    string        `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	Model      string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	Timeout    time.Duration `envconfig:"GEMINI_TIMEOUT" default:"30s"`
	MaxElapsed time.Duration `envconfig:"GEMINI_MAX_ELAPSED" default:"45s"`
}

// StorageConfig holds object storage settings. An empty Endpoint disables
// screenshot archiving.
type StorageConfig struct {
	Endpoint       string `envconfig:"STORAGE_ENDPOINT" default:""`
	AccessKey      string `envconfig:"STORAGE_ACCESS_KEY" default:"minioadmin"`
	SecretKey      string `envconfig:"STORAGE_SECRET_KEY" default:"minioadmin"`
	Bucket         string `envconfig:"STORAGE_BUCKET" default:"trackingtester"`
	Region         string `envconfig:"STORAGE_REGION" default:"us-east-1"`
	UseSSL         bool   `envconfig:"STORAGE_USE_SSL" default:"false"`
	ScreenshotPath string `envconfig:"STORAGE_SCREENSHOT_PATH" default:"screenshots"`
}

// Enabled reports whether object storage is configured.
func (c StorageConfig) Enabled() bool {
	return c.Endpoint != ""
}

// FeatureFlags holds feature toggles
type FeatureFlags struct {
	EnablePersistence bool `envconfig:"FEATURE_PERSISTENCE" default:"true"`
	EnableArchive     bool `envconfig:"FEATURE_ARCHIVE" default:"true"`
	EnableLiveFeed    bool `envconfig:"FEATURE_LIVE_FEED" default:"true"`
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMin int           `envconfig:"RATE_LIMIT_REQUESTS_PER_MIN" default:"10"`
	Window         time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}
	cfg.Log.Production = cfg.IsProduction()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config for CLI tools. Optional services stay
// disabled and a missing API key turns the language model off instead of
// failing.
func LoadWithDefaults() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}
	cfg.Log.Production = cfg.IsProduction()

	if cfg.LLM.Provider == ProviderClaude && cfg.LLM.Claude.APIKey == "" {
		cfg.LLM.Provider = ProviderNone
	}
	if cfg.LLM.Provider == ProviderGemini && cfg.LLM.Gemini.APIKey == "" {
		cfg.LLM.Provider = ProviderNone
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors []string

	switch c.LLM.Provider {
	case ProviderClaude:
		if c.LLM.Claude.APIKey == "" {
			errors = append(errors, "ANTHROPIC_API_KEY is required when LLM_PROVIDER=claude")
		}
	case ProviderGemini:
		if c.LLM.Gemini.APIKey == "" {
			errors = append(errors, "GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	case ProviderNone:
	default:
		errors = append(errors, fmt.Sprintf("LLM_PROVIDER must be claude, gemini or none, got %q", c.LLM.Provider))
	}

	switch c.Tester.Runner {
	case RunnerInProcess, RunnerSubprocess:
	default:
		errors = append(errors, fmt.Sprintf("TESTER_RUNNER must be inprocess or subprocess, got %q", c.Tester.Runner))
	}

	timeouts := map[string]time.Duration{
		"TESTER_SESSION_TIMEOUT":    c.Tester.SessionTimeout,
		"TESTER_NAVIGATION_TIMEOUT": c.Tester.NavigationTimeout,
	}
	for _, name := range []string{"TESTER_SESSION_TIMEOUT", "TESTER_NAVIGATION_TIMEOUT"} {
		if timeouts[name] <= 0 {
			errors = append(errors, name+" must be positive")
		}
	}

	if c.Tester.MaxConcurrent < 1 {
		errors = append(errors, "TESTER_MAX_CONCURRENT must be at least 1")
	}

	if c.Env == EnvProduction && c.Database.Enabled() && c.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required in production")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction || c.App.Environment == string(EnvProduction)
}

// GetLogLevel returns the appropriate zap log level
func (c *Config) GetLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.Log.Level
}
