package config

import (
	"os"
	"testing"
	"time"
)

func TestNewFromEnv(t *testing.T) {
	// Helper function to set environment variables for a test
	setEnv := func(key, value string) {
		t.Helper()
		t.Setenv(key, value)
	}

	t.Run("Success", func(t *testing.T) {
		setEnv("API_BASE_URL", "http://backend.test/")
		setEnv("SESSION_DIR", "/tmp/shopassist-test")
		setEnv("SCAN_COOLDOWN_MS", "500")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.APIBaseURL != "http://backend.test" {
			t.Errorf("Expected APIBaseURL to be 'http://backend.test', got '%s'", cfg.APIBaseURL)
		}
		if cfg.SessionStore != SessionStoreFile {
			t.Errorf("Expected default SessionStore '%s', got '%s'", SessionStoreFile, cfg.SessionStore)
		}
		if cfg.DatabasePath != "/tmp/shopassist-test/shopassist.db" {
			t.Errorf("Unexpected DatabasePath '%s'", cfg.DatabasePath)
		}
		if cfg.ScanCooldown != 500*time.Millisecond {
			t.Errorf("Expected ScanCooldown 500ms, got %v", cfg.ScanCooldown)
		}
		if cfg.CompareProvider != CompareProviderBackend {
			t.Errorf("Expected CompareProvider '%s', got '%s'", CompareProviderBackend, cfg.CompareProvider)
		}
	})

	t.Run("DefaultCooldown", func(t *testing.T) {
		setEnv("API_BASE_URL", "http://backend.test")
		setEnv("SESSION_DIR", t.TempDir())
		os.Unsetenv("SCAN_COOLDOWN_MS")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.ScanCooldown != 2*time.Second {
			t.Errorf("Expected ScanCooldown 2s, got %v", cfg.ScanCooldown)
		}
	})

	t.Run("MissingAPIBaseURL", func(t *testing.T) {
		setEnv("SESSION_DIR", t.TempDir())

		// Unset API_BASE_URL specifically for this test
		os.Unsetenv("API_BASE_URL")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing API_BASE_URL, got nil")
		}
		expectedError := "API_BASE_URL environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("InvalidSessionStore", func(t *testing.T) {
		setEnv("API_BASE_URL", "http://backend.test")
		setEnv("SESSION_STORE", "redis")

		if _, err := NewFromEnv(); err == nil {
			t.Fatal("Expected an error for unknown SESSION_STORE, got nil")
		}
	})

	t.Run("GeminiWithoutKey", func(t *testing.T) {
		setEnv("API_BASE_URL", "http://backend.test")
		setEnv("SESSION_STORE", SessionStoreSQLite)
		setEnv("COMPARE_PROVIDER", CompareProviderGemini)
		os.Unsetenv("GEMINI_API_KEY")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing GEMINI_API_KEY, got nil")
		}
		expectedError := "GEMINI_API_KEY environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})
}
