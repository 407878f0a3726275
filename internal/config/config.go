// Package config loads the engine's runtime configuration from the
// environment, following the same envString/envInt/envBool helper style
// and fail-fast validation as the service this engine was adapted from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// isTerminal reports whether f refers to a character device, the same
// stdlib-only check used to decide whether to colorize log output.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// Config holds every environment-derived setting the engine needs to boot.
type Config struct {
	// ControlPlaneDSN points at the engine's own SQLite control-plane
	// database (assignments, jobs, rules, logs). Accepts either a local
	// file path or a libsql:// / Turso DSN.
	ControlPlaneDSN string

	// SecretPassphrase and SecretSalt derive the key used to encrypt
	// DataSource credentials at rest.
	SecretPassphrase string
	SecretSalt       string

	LogLevel  string // debug, info, warn, error
	LogFormat string // text, json
	LogTTY    bool

	// MaxConcurrentJobs caps how many assignments the scheduler will run
	// at once, across scheduled ticks and manual triggers.
	MaxConcurrentJobs int

	AnthropicAPIKey string
	OpenAIAPIKey    string
	LLMBaseURL      string
	LLMModel        string

	StagingDir       string
	StagingSpillSize int // bytes; rows payload larger than this spills to StagingDir

	BrowserExecutablePath string
	BrowserPoolSize       int
}

// Load reads Config from the process environment, applying defaults and
// failing on missing required values.
func Load() (*Config, error) {
	cfg := &Config{
		ControlPlaneDSN:       envString("CONTROL_PLANE_DSN", "file:syncengine.db"),
		SecretPassphrase:      os.Getenv("SECRET_PASSPHRASE"),
		SecretSalt:            envString("SECRET_SALT", "syncengine"),
		LogLevel:              envString("LOG_LEVEL", "info"),
		LogFormat:             envString("LOG_FORMAT", "text"),
		LogTTY:                envBool("LOG_TTY", isTerminal(os.Stderr)),
		MaxConcurrentJobs:     envInt("MAX_CONCURRENT_JOBS", 4),
		AnthropicAPIKey:       os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		LLMBaseURL:            os.Getenv("LLM_BASE_URL"),
		LLMModel:              envString("LLM_MODEL", "gpt-4o"),
		StagingDir:            envString("STAGING_ROOT", "./output/staging"),
		StagingSpillSize:      envInt("STAGING_SPILL_SIZE_BYTES", 1024*1024),
		BrowserExecutablePath: os.Getenv("BROWSER_EXECUTABLE_PATH"),
		BrowserPoolSize:       envInt("BROWSER_POOL_SIZE", 2),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SecretPassphrase == "" {
		return fmt.Errorf("config: SECRET_PASSPHRASE is required")
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("config: MAX_CONCURRENT_JOBS must be >= 1, got %d", c.MaxConcurrentJobs)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

