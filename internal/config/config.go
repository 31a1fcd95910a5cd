package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Inference
	LLMProvider         string
	OpenRouterAPIKey    string
	OpenRouterBaseURL   string
	GeminiAPIKey        string
	LLMConcurrentReqs   int
	LLMSlotTimeout      time.Duration
	ChatSystemPrompt    string
	ModelCatalogTTL     time.Duration
	ChatRateLimitPerMin int

	// Frontend
	FrontendURL string

	// Logging
	LogLevel string
}

const defaultSystemPrompt = "You are a helpful assistant. Answer clearly and concisely, and use Markdown where it helps readability."

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                getEnvOrDefault("PORT", "8080"),
		Env:                 getEnvOrDefault("ENV", "development"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		MigrationsDir:       getEnvOrDefault("MIGRATIONS_DIR", "./migrations"),
		RedisURL:            os.Getenv("REDIS_URL"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		LLMProvider:         getEnvOrDefault("LLM_PROVIDER", "openrouter"),
		OpenRouterAPIKey:    getEnvOrDefault("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:   getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		GeminiAPIKey:        getEnvOrDefault("GEMINI_API_KEY", ""),
		LLMConcurrentReqs:   getEnvAsIntOrDefault("LLM_CONCURRENT_REQUESTS", 5),
		LLMSlotTimeout:      getEnvAsDurationOrDefault("LLM_SLOT_TIMEOUT", 5*time.Minute),
		ChatSystemPrompt:    getEnvOrDefault("CHAT_SYSTEM_PROMPT", defaultSystemPrompt),
		ModelCatalogTTL:     getEnvAsDurationOrDefault("MODEL_CATALOG_TTL", 10*time.Minute),
		ChatRateLimitPerMin: getEnvAsIntOrDefault("CHAT_RATE_LIMIT_PER_MINUTE", 30),
		FrontendURL:         getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
	}

	return cfg
}

// Require reports the first of the named variables that is not set. Each
// command asks only for what it uses.
func (c *Config) Require(keys ...string) error {
	values := map[string]string{
		"DATABASE_URL": c.DatabaseURL,
		"REDIS_URL":    c.RedisURL,
		"JWT_SECRET":   c.JWTSecret,
	}
	for _, key := range keys {
		if values[key] == "" {
			return errors.Errorf("required environment variable %s is not set", key)
		}
	}
	return nil
}

// Validate checks that the selected inference provider has its credentials.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "openrouter":
		if c.OpenRouterAPIKey == "" {
			return errors.New("OPENROUTER_API_KEY is required when LLM_PROVIDER=openrouter")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	default:
		return errors.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.LLMConcurrentReqs < 0 {
		return errors.New("LLM_CONCURRENT_REQUESTS must not be negative")
	}
	return nil
}

// APIKey returns the credential of the selected provider.
func (c *Config) APIKey() string {
	if c.LLMProvider == "gemini" {
		return c.GeminiAPIKey
	}
	return c.OpenRouterAPIKey
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
