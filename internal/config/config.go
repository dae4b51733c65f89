// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. Empty means run without a patient database
	// (the in-memory seed repository is used instead).
	DatabaseURL   string
	MigrationsDir string

	// LLM provider settings.
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	// Communication channel provider settings.
	ChannelServerURL string
	ChannelTimeout   time.Duration

	// Doctor notification webhook. Empty disables notifications.
	DoctorWebhookURL string

	// Conversation settings.
	MaxConversationRounds int

	// Batch processing settings.
	ProcessConcurrency int

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                  envInt("PORT", 8080),
		ReadTimeout:           envDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:          envDuration("WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:           envStr("DATABASE_URL", ""),
		MigrationsDir:         envStr("MIGRATIONS_DIR", "file://migrations"),
		LLMBaseURL:            envStr("LLM_BASE_URL", "https://api.anthropic.com"),
		LLMAPIKey:             envStr("ANTHROPIC_API_KEY", ""),
		LLMModel:              envStr("LLM_MODEL", "claude-3-haiku-20240307"),
		LLMTimeout:            envDuration("LLM_TIMEOUT", 60*time.Second),
		ChannelServerURL:      envStr("CHANNEL_SERVER_URL", "http://localhost:7880"),
		ChannelTimeout:        envDuration("CHANNEL_TIMEOUT", 30*time.Second),
		DoctorWebhookURL:      envStr("DOCTOR_WEBHOOK_URL", ""),
		MaxConversationRounds: envInt("MAX_CONVERSATION_ROUNDS", 5),
		ProcessConcurrency:    envInt("PROCESS_CONCURRENCY", 4),
		LogLevel:              envStr("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT must be in 1-65535, got %d", c.Port)
	}
	if c.MaxConversationRounds <= 0 {
		return fmt.Errorf("config: MAX_CONVERSATION_ROUNDS must be positive, got %d", c.MaxConversationRounds)
	}
	if c.ProcessConcurrency <= 0 {
		return fmt.Errorf("config: PROCESS_CONCURRENCY must be positive, got %d", c.ProcessConcurrency)
	}
	if c.ChannelServerURL == "" {
		return fmt.Errorf("config: CHANNEL_SERVER_URL is required")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
