package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	SessionStoreFile   = "file"
	SessionStoreSQLite = "sqlite"

	CompareProviderBackend = "backend"
	CompareProviderGemini  = "gemini"
)

// Config holds the configuration for the application.
type Config struct {
	APIBaseURL  string
	HTTPTimeout time.Duration
	LogLevel    string

	// Session persistence
	SessionStore string
	SessionDir   string
	DatabasePath string

	ScanCooldown time.Duration

	// AI comparison
	CompareProvider string
	GeminiAPIKey    string
	GeminiModel     string

	// Optional Prometheus listener, e.g. ":9090"
	MetricsAddr string
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	apiBaseURL := os.Getenv("API_BASE_URL")
	if apiBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL environment variable not set")
	}

	sessionDir := os.Getenv("SESSION_DIR")
	if sessionDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("SESSION_DIR environment variable not set and home directory unavailable: %w", err)
		}
		sessionDir = filepath.Join(home, ".shopassist")
	}

	sessionStore := getEnvOrDefault("SESSION_STORE", SessionStoreFile)
	if sessionStore != SessionStoreFile && sessionStore != SessionStoreSQLite {
		return nil, fmt.Errorf("SESSION_STORE must be %q or %q, got %q", SessionStoreFile, SessionStoreSQLite, sessionStore)
	}

	compareProvider := getEnvOrDefault("COMPARE_PROVIDER", CompareProviderBackend)
	geminiAPIKey := os.Getenv("GEMINI_API_KEY")
	switch compareProvider {
	case CompareProviderBackend:
	case CompareProviderGemini:
		if geminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	default:
		return nil, fmt.Errorf("COMPARE_PROVIDER must be %q or %q, got %q", CompareProviderBackend, CompareProviderGemini, compareProvider)
	}

	return &Config{
		APIBaseURL:      strings.TrimRight(apiBaseURL, "/"),
		HTTPTimeout:     time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 15)) * time.Second,
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		SessionStore:    sessionStore,
		SessionDir:      sessionDir,
		DatabasePath:    getEnvOrDefault("DATABASE_PATH", filepath.Join(sessionDir, "shopassist.db")),
		ScanCooldown:    time.Duration(getEnvInt("SCAN_COOLDOWN_MS", 2000)) * time.Millisecond,
		CompareProvider: compareProvider,
		GeminiAPIKey:    geminiAPIKey,
		GeminiModel:     getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		MetricsAddr:     os.Getenv("METRICS_ADDR"),
	}, nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
