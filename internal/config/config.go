// Package config loads TalkNow settings from a YAML file, a .env file and the
// environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config holds all TalkNow configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	LLM    LLMConfig    `yaml:"llm"`
	Store  StoreConfig  `yaml:"store"`
	Shaper ShaperConfig `yaml:"shaper"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is requests per second per client on /api; 0 disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// LLMConfig describes the hosted chat-completion endpoint.
type LLMConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	// RequestTimeout bounds one completion call; 0 leaves it to the transport.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// IncludeHistory sends earlier turns of the conversation with each message.
	IncludeHistory bool   `yaml:"include_history"`
	CodeLanguage   string `yaml:"code_language"`
}

type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

type ShaperConfig struct {
	Mode string `yaml:"mode"` // template or structured
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8100",
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       5,
			RateBurst:       20,
		},
		LLM: LLMConfig{
			BaseURL:      "https://api.groq.com/openai/v1",
			Model:        "llama3-8b-8192",
			SystemPrompt: "You are a helpful assistant.",
			MaxTokens:    1000,
			Temperature:  0.7,
			CodeLanguage: "javascript",
		},
		Store:  StoreConfig{DSN: ":memory:?_foreign_keys=on"},
		Shaper: ShaperConfig{Mode: "template"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadDotEnv loads a .env file into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("TALKNOW_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TALKNOW_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("TALKNOW_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("TALKNOW_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("TALKNOW_SHAPER"); v != "" {
		c.Shaper.Mode = v
	}
	if v := os.Getenv("TALKNOW_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LLM.MaxTokens = n
		}
	}
	if v := os.Getenv("TALKNOW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate reports every invalid setting at once. The API key is checked by
// RequireAPIKey since offline commands do not need it.
func (c *Config) Validate() error {
	var err error
	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr must be set"))
	}
	if c.Server.RateLimit < 0 {
		err = multierr.Append(err, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		err = multierr.Append(err, errors.New("server.rate_burst must be at least 1 when rate limiting"))
	}
	if c.LLM.BaseURL == "" {
		err = multierr.Append(err, errors.New("llm.base_url must be set"))
	}
	if c.LLM.Model == "" {
		err = multierr.Append(err, errors.New("llm.model must be set"))
	}
	if c.LLM.MaxTokens <= 0 {
		err = multierr.Append(err, fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		err = multierr.Append(err, fmt.Errorf("llm.temperature must be in [0, 2], got %g", c.LLM.Temperature))
	}
	if c.LLM.RequestTimeout < 0 {
		err = multierr.Append(err, errors.New("llm.request_timeout must not be negative"))
	}
	switch c.Shaper.Mode {
	case "template", "structured":
	default:
		err = multierr.Append(err, fmt.Errorf("shaper.mode must be template or structured, got %q", c.Shaper.Mode))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return err
}

// RequireAPIKey fails when no key for the model endpoint is configured.
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return errors.New("no API key: set GROQ_API_KEY or llm.api_key")
	}
	return nil
}
