package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestLoad_DoesNotRequireUnusedSettings(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("REDIS_URL")
	os.Setenv("JWT_SECRET", "secret")
	defer os.Unsetenv("JWT_SECRET")

	cfg := Load()
	if err := cfg.Require("JWT_SECRET"); err != nil {
		t.Errorf("Expected JWT_SECRET to satisfy the requirement, got %v", err)
	}
	if err := cfg.Require("JWT_SECRET", "DATABASE_URL"); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("Expected missing DATABASE_URL error, got %v", err)
	}
}

func TestConfigRequire(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://db", RedisURL: "redis://cache", JWTSecret: "s"}
	if err := cfg.Require("DATABASE_URL", "REDIS_URL", "JWT_SECRET"); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	cfg.RedisURL = ""
	err := cfg.Require("DATABASE_URL", "REDIS_URL")
	if err == nil || !strings.Contains(err.Error(), "REDIS_URL") {
		t.Errorf("Expected missing REDIS_URL error, got %v", err)
	}
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal time.Duration
		expected   time.Duration
	}{
		{"parses duration", "TEST_DUR_1", "90s", time.Minute, 90 * time.Second},
		{"uses default for empty", "TEST_DUR_2", "", time.Minute, time.Minute},
		{"uses default for bare number", "TEST_DUR_3", "10", time.Minute, time.Minute},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsDurationOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, result)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"openrouter with key", Config{LLMProvider: "openrouter", OpenRouterAPIKey: "k"}, false},
		{"openrouter without key", Config{LLMProvider: "openrouter"}, true},
		{"gemini with key", Config{LLMProvider: "gemini", GeminiAPIKey: "k"}, false},
		{"gemini without key", Config{LLMProvider: "gemini", OpenRouterAPIKey: "k"}, true},
		{"unknown provider", Config{LLMProvider: "ollama"}, true},
		{"negative concurrency", Config{LLMProvider: "openrouter", OpenRouterAPIKey: "k", LLMConcurrentReqs: -1}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestConfigAPIKey(t *testing.T) {
	cfg := Config{LLMProvider: "gemini", GeminiAPIKey: "g", OpenRouterAPIKey: "o"}
	if cfg.APIKey() != "g" {
		t.Errorf("Expected gemini key, got %q", cfg.APIKey())
	}
	cfg.LLMProvider = "openrouter"
	if cfg.APIKey() != "o" {
		t.Errorf("Expected openrouter key, got %q", cfg.APIKey())
	}
}
