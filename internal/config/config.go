package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the webhook relay.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	WechatToken   string
	SignatureSkew time.Duration
	DedupeWindow  time.Duration
	Greeting      string
	DefaultReply  string

	AIProvider    string
	SystemPrompt  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	ContextTTL           time.Duration
	ContextMaxMessages   int
	ContextSyncThreshold int
	DatabaseURL          string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "wxrelay"),
		AllowAnyOrigin:   false,
		WechatToken:      stringsTrimSpace("WECHAT_TOKEN"),
		Greeting:         envOrDefault("WECHAT_GREETING", "你好！我是 AI 助手，直接发消息就可以开始聊天。"),
		DefaultReply:     envOrDefault("WECHAT_DEFAULT_REPLY", "目前只支持文字消息哦。"),
		AIProvider:       envOrDefault("AI_PROVIDER", "auto"),
		SystemPrompt:     envOrDefault("SYSTEM_PROMPT", "You are a helpful assistant replying inside a chat app. Keep answers short."),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:    stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:      envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:     stringsTrimSpace("GEMINI_API_KEY"),
		GeminiBaseURL:    stringsTrimSpace("GEMINI_BASE_URL"),
		GeminiModel:      envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:      15 * time.Second,
		SignatureSkew:        5 * time.Minute,
		DedupeWindow:         time.Minute,
		ContextTTL:           10 * time.Minute,
		ContextMaxMessages:   8,
		ContextSyncThreshold: 2,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SignatureSkew, err = durationFromEnv("WECHAT_SIGNATURE_SKEW", cfg.SignatureSkew)
	if err != nil {
		return Config{}, err
	}
	cfg.DedupeWindow, err = durationFromEnv("WECHAT_DEDUPE_WINDOW", cfg.DedupeWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextTTL, err = durationFromEnv("CONTEXT_TTL", cfg.ContextTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextMaxMessages, err = intFromEnv("CONTEXT_MAX_MESSAGES", cfg.ContextMaxMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextSyncThreshold, err = intFromEnv("CONTEXT_SYNC_THRESHOLD", cfg.ContextSyncThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.WechatToken == "" {
		return Config{}, fmt.Errorf("WECHAT_TOKEN is required")
	}
	if cfg.ContextTTL <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_TTL must be positive")
	}
	if cfg.ContextMaxMessages <= 0 || cfg.ContextMaxMessages%2 != 0 {
		// Turns are stored in (user, assistant) pairs; an odd bound would let
		// truncation split a pair.
		return Config{}, fmt.Errorf("CONTEXT_MAX_MESSAGES must be a positive even number")
	}
	if cfg.ContextSyncThreshold <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_SYNC_THRESHOLD must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
