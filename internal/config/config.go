// Package config loads the orchestrator configuration from a TOML file with
// documented defaults. Secrets (the completions API key, store addresses)
// come from the environment and are never read from the file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/modelq/modelq/internal/task"
)

const (
	DefaultAddr          = ":8080"
	DefaultBaseURL       = "https://openrouter.ai/api/v1"
	DefaultTimeout       = 30 * time.Second
	DefaultMaxAttempts   = 3
	DefaultRetryBackoff  = 500 * time.Millisecond
	DefaultWorkers       = 3
	DefaultQueueCapacity = 10
)

type Config struct {
	Server     ServerConfig          `toml:"server"`
	Completion CompletionConfig      `toml:"completion"`
	Pools      map[string]PoolConfig `toml:"pools"`
	Redis      RedisConfig           `toml:"redis"`
	Postgres   PostgresConfig        `toml:"postgres"`
	Alert      AlertConfig           `toml:"alert"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type CompletionConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxAttempts    int    `toml:"max_attempts"`
	RetryBackoffMS int    `toml:"retry_backoff_ms"`
	APIKey         string `toml:"-"`
}

type PoolConfig struct {
	Workers       int     `toml:"workers"`
	QueueCapacity int     `toml:"queue_capacity"`
	Model         string  `toml:"model"`
	SystemPrompt  string  `toml:"system_prompt"`
	RateLimit     float64 `toml:"rate_limit"`
}

type RedisConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	DSN string `toml:"dsn"`
}

type AlertConfig struct {
	Enabled         bool    `toml:"enabled"`
	FromName        string  `toml:"from_name"`
	FromAddress     string  `toml:"from_address"`
	ToAddress       string  `toml:"to_address"`
	FailureRatio    float64 `toml:"failure_ratio"`
	MinSamples      int     `toml:"min_samples"`
	CooldownMinutes int     `toml:"cooldown_minutes"`
}

// The model table mirrors the OpenRouter free tier assignments the system
// was tuned against. Any entry can be overridden per pool in the config file.
var defaultModels = map[task.Specialization]string{
	task.SpecCoding:    "qwen/qwen3-8b:free",
	task.SpecAnalysis:  "google/gemini-flash-1.5:free",
	task.SpecCreative:  "meta-llama/llama-3.2-3b-instruct:free",
	task.SpecReasoning: "z-ai/glm-4.5-air:free",
	task.SpecGeneral:   "google/gemini-flash-1.5:free",
}

var defaultPrompts = map[task.Specialization]string{
	task.SpecCoding:    "You are an expert software engineer. Handle this coding task with best practices and clear explanations.",
	task.SpecAnalysis:  "You are a comprehensive analysis expert. Provide thorough analysis with actionable insights.",
	task.SpecCreative:  "You are a versatile creative professional. Apply creative thinking and innovative approaches to this task.",
	task.SpecReasoning: "You are a comprehensive reasoning expert. Apply critical thinking and analytical skills to address this task.",
	task.SpecGeneral:   "You are a capable general-purpose assistant. Complete this task accurately and concisely.",
}

func DefaultModel(spec task.Specialization) string {
	if model, ok := defaultModels[spec]; ok {
		return model
	}
	return defaultModels[task.SpecGeneral]
}

func DefaultPrompt(spec task.Specialization) string {
	if prompt, ok := defaultPrompts[spec]; ok {
		return prompt
	}
	return defaultPrompts[task.SpecGeneral]
}

// Load reads the config file at path, applies defaults for anything unset
// and pulls secrets from the environment. An empty path yields a pure
// default configuration.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Completion.BaseURL == "" {
		c.Completion.BaseURL = DefaultBaseURL
	}
	if c.Completion.TimeoutSeconds <= 0 {
		c.Completion.TimeoutSeconds = int(DefaultTimeout.Seconds())
	}
	if c.Completion.MaxAttempts <= 0 {
		c.Completion.MaxAttempts = DefaultMaxAttempts
	}
	if c.Completion.RetryBackoffMS <= 0 {
		c.Completion.RetryBackoffMS = int(DefaultRetryBackoff.Milliseconds())
	}
	if c.Alert.FailureRatio <= 0 {
		c.Alert.FailureRatio = 0.5
	}
	if c.Alert.MinSamples <= 0 {
		c.Alert.MinSamples = 10
	}
	if c.Alert.CooldownMinutes <= 0 {
		c.Alert.CooldownMinutes = 15
	}

	if c.Pools == nil {
		c.Pools = make(map[string]PoolConfig)
	}
	for _, spec := range task.Specializations() {
		pc := c.Pools[string(spec)]
		if pc.Workers <= 0 {
			pc.Workers = DefaultWorkers
		}
		if pc.QueueCapacity <= 0 {
			pc.QueueCapacity = DefaultQueueCapacity
		}
		if pc.Model == "" {
			pc.Model = DefaultModel(spec)
		}
		if pc.SystemPrompt == "" {
			pc.SystemPrompt = DefaultPrompt(spec)
		}
		c.Pools[string(spec)] = pc
	}
}

func (c *Config) applyEnv() {
	c.Completion.APIKey = os.Getenv("OPENROUTER_API_KEY")
	if addr := os.Getenv("MODELQ_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if dsn := os.Getenv("MODELQ_POSTGRES_DSN"); dsn != "" {
		c.Postgres.DSN = dsn
	}
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Completion.TimeoutSeconds) * time.Second
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Completion.RetryBackoffMS) * time.Millisecond
}
