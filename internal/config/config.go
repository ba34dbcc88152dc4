package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	BackendURL string `yaml:"backend_url"`

	LLMProvider        string  `yaml:"llm_provider"`
	LLMModel           string  `yaml:"llm_model"`
	LLMMaxTokens       int     `yaml:"llm_max_tokens"`
	LLMRateLimitPerSec float64 `yaml:"llm_rate_limit_per_sec"`
	LLMPromptsPath     string  `yaml:"llm_prompts_path"`
	AnthropicAPIKey    string  `yaml:"anthropic_api_key"`
	OpenAIAPIKey       string  `yaml:"openai_api_key"`
	GeminiAPIKey       string  `yaml:"gemini_api_key"`

	ExternalHTTPTimeoutSeconds int     `yaml:"external_http_timeout_seconds"`
	BackendRateLimitPerSec     float64 `yaml:"backend_rate_limit_per_sec"`

	MaxUploadMB        int   `yaml:"max_upload_mb"`
	ProgressIntervalMS int   `yaml:"progress_interval_ms"`
	SessionTTLMinutes  int   `yaml:"session_ttl_minutes"`
	SessionStoreSize   int   `yaml:"session_store_size"`
	RiskEnabledSetting *bool `yaml:"risk_assessment_enabled"`

	ResultStore      string `yaml:"result_store"`
	ResultStoreSize  int    `yaml:"result_store_size"`
	ResultTTLMinutes int    `yaml:"result_ttl_minutes"`
	RedisURL         string `yaml:"redis_url"`

	DBPath               string `yaml:"db_path"`
	HistoryRetentionDays int    `yaml:"history_retention_days"`
	MaintenanceSchedule  string `yaml:"maintenance_schedule"`
	DigestSchedule       string `yaml:"digest_schedule"`
	SlackBotToken        string `yaml:"slack_bot_token"`
	OpsChannelID         string `yaml:"ops_channel_id"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Timezone  string `yaml:"timezone"`

	RiskEnabled bool           `yaml:"-"` // risk_assessment_enabled, defaults to true
	Location    *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig loads the configuration and exits the process when it is
// invalid.
func LoadConfig() Config {
	cfg, err := Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	return cfg
}

// Load reads config.yaml (or CONFIG_PATH), applies env overrides and
// defaults, then validates the result.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", configPath, err)
		}
		logrus.Infof("Loaded config from %s", configPath)
	}

	cfg.RiskEnabled = true
	if cfg.RiskEnabledSetting != nil {
		cfg.RiskEnabled = *cfg.RiskEnabledSetting
	}

	var errs []error
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.BackendURL, "BACKEND_URL")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	errs = append(errs, envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS"))
	errs = append(errs, envOverrideFloat(&cfg.LLMRateLimitPerSec, "LLM_RATE_LIMIT_PER_SEC"))
	envOverrideAllowEmpty(&cfg.LLMPromptsPath, "LLM_PROMPTS_PATH")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	errs = append(errs, envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"))
	errs = append(errs, envOverrideFloat(&cfg.BackendRateLimitPerSec, "BACKEND_RATE_LIMIT_PER_SEC"))
	errs = append(errs, envOverrideInt(&cfg.MaxUploadMB, "MAX_UPLOAD_MB"))
	errs = append(errs, envOverrideInt(&cfg.ProgressIntervalMS, "PROGRESS_INTERVAL_MS"))
	errs = append(errs, envOverrideInt(&cfg.SessionTTLMinutes, "SESSION_TTL_MINUTES"))
	errs = append(errs, envOverrideInt(&cfg.SessionStoreSize, "SESSION_STORE_SIZE"))
	envOverrideBool(&cfg.RiskEnabled, "RISK_ASSESSMENT_ENABLED")
	envOverride(&cfg.ResultStore, "RESULT_STORE")
	errs = append(errs, envOverrideInt(&cfg.ResultStoreSize, "RESULT_STORE_SIZE"))
	errs = append(errs, envOverrideInt(&cfg.ResultTTLMinutes, "RESULT_TTL_MINUTES"))
	envOverride(&cfg.RedisURL, "REDIS_URL")
	envOverride(&cfg.DBPath, "DB_PATH")
	errs = append(errs, envOverrideInt(&cfg.HistoryRetentionDays, "HISTORY_RETENTION_DAYS"))
	envOverride(&cfg.MaintenanceSchedule, "MAINTENANCE_SCHEDULE")
	envOverrideAllowEmpty(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.OpsChannelID, "OPS_CHANNEL_ID")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")
	envOverride(&cfg.Timezone, "TIMEZONE")
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = "http://localhost:5000"
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 4096
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.MaxUploadMB == 0 {
		cfg.MaxUploadMB = 25
	}
	if cfg.ProgressIntervalMS == 0 {
		cfg.ProgressIntervalMS = 200
	}
	if cfg.SessionTTLMinutes == 0 {
		cfg.SessionTTLMinutes = 30
	}
	if cfg.SessionStoreSize == 0 {
		cfg.SessionStoreSize = 1024
	}
	if cfg.ResultStore == "" {
		cfg.ResultStore = "memory"
	}
	if cfg.ResultStoreSize == 0 {
		cfg.ResultStoreSize = 1024
	}
	if cfg.ResultTTLMinutes == 0 {
		cfg.ResultTTLMinutes = 60
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./labinsight.db"
	}
	if cfg.HistoryRetentionDays == 0 {
		cfg.HistoryRetentionDays = 30
	}
	if cfg.MaintenanceSchedule == "" {
		cfg.MaintenanceSchedule = "0 3 * * *"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

func (cfg *Config) validate() error {
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return fmt.Errorf("gemini_api_key is required when llm_provider=gemini")
		}
	default:
		return fmt.Errorf("llm_provider must be 'anthropic', 'openai' or 'gemini', got '%s'", cfg.LLMProvider)
	}

	switch cfg.ResultStore {
	case "memory":
	case "redis":
		if cfg.RedisURL == "" {
			return fmt.Errorf("redis_url is required when result_store=redis")
		}
	default:
		return fmt.Errorf("result_store must be 'memory' or 'redis', got '%s'", cfg.ResultStore)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level '%s': %w", cfg.LogLevel, err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log_format '%s': must be 'text' or 'json'", cfg.LogFormat)
	}
	if cfg.LLMMaxTokens < 256 {
		return fmt.Errorf("invalid llm_max_tokens '%d': must be >= 256", cfg.LLMMaxTokens)
	}
	if cfg.LLMRateLimitPerSec < 0 || cfg.BackendRateLimitPerSec < 0 {
		return fmt.Errorf("rate limits must be >= 0")
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.MaxUploadMB < 1 {
		return fmt.Errorf("invalid max_upload_mb '%d': must be >= 1", cfg.MaxUploadMB)
	}
	if cfg.ProgressIntervalMS < 10 {
		return fmt.Errorf("invalid progress_interval_ms '%d': must be >= 10", cfg.ProgressIntervalMS)
	}
	if cfg.ResultStoreSize < 1 {
		return fmt.Errorf("invalid result_store_size '%d': must be >= 1", cfg.ResultStoreSize)
	}
	if cfg.SessionStoreSize < 1 {
		return fmt.Errorf("invalid session_store_size '%d': must be >= 1", cfg.SessionStoreSize)
	}
	if cfg.ResultTTLMinutes < 1 || cfg.SessionTTLMinutes < 1 {
		return fmt.Errorf("result_ttl_minutes and session_ttl_minutes must be >= 1")
	}
	if cfg.HistoryRetentionDays < 1 {
		return fmt.Errorf("invalid history_retention_days '%d': must be >= 1", cfg.HistoryRetentionDays)
	}
	if _, err := cron.ParseStandard(cfg.MaintenanceSchedule); err != nil {
		return fmt.Errorf("invalid maintenance_schedule '%s': %w", cfg.MaintenanceSchedule, err)
	}
	if cfg.DigestSchedule != "" {
		if _, err := cron.ParseStandard(cfg.DigestSchedule); err != nil {
			return fmt.Errorf("invalid digest_schedule '%s': %w", cfg.DigestSchedule, err)
		}
	}
	if cfg.LLMPromptsPath != "" {
		if err := validatePromptsPath(cfg.LLMPromptsPath); err != nil {
			return fmt.Errorf("invalid llm_prompts_path '%s': %w", cfg.LLMPromptsPath, err)
		}
	}
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.OpsChannelID != ""
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

func (c Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMS) * time.Millisecond
}

func (c Config) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLMinutes) * time.Minute
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// validatePromptsPath checks the override file parses; template syntax is
// checked when the flows are built.
func validatePromptsPath(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prompts: %w", err)
	}
	var p map[string]struct {
		System string `yaml:"system"`
		User   string `yaml:"user"`
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse prompts yaml: %w", err)
	}
	return nil
}
