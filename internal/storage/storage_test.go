package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"shopassist/internal/database"
	"shopassist/internal/logger"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	key := "userToken"

	t.Run("Get-Missing", func(t *testing.T) {
		_, ok, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if ok {
			t.Errorf("Expected key '%s' to be absent", key)
		}
	})

	t.Run("Set-Get", func(t *testing.T) {
		if err := store.Set(ctx, key, "first"); err != nil {
			t.Fatalf("Failed to set: %v", err)
		}
		if err := store.Set(ctx, key, "second"); err != nil {
			t.Fatalf("Failed to overwrite: %v", err)
		}
		value, ok, err := store.Get(ctx, key)
		if err != nil || !ok {
			t.Fatalf("Expected value, got ok=%v err=%v", ok, err)
		}
		if value != "second" {
			t.Errorf("Expected 'second', got '%s'", value)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		if err := store.Remove(ctx, key); err != nil {
			t.Fatalf("Failed to remove: %v", err)
		}
		if _, ok, _ := store.Get(ctx, key); ok {
			t.Error("Expected key to be gone after Remove")
		}
		if err := store.Remove(ctx, key); err != nil {
			t.Errorf("Removing a missing key should not fail, got %v", err)
		}
	})
}

func TestFileStore(t *testing.T) {
	tempDir := t.TempDir()

	store, err := NewFileStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create FileStore: %v", err)
	}

	exerciseStore(t, store)

	t.Run("FilePermissions", func(t *testing.T) {
		if err := store.Set(context.Background(), "userToken", "secret"); err != nil {
			t.Fatal(err)
		}
		info, err := os.Stat(filepath.Join(tempDir, "userToken.json"))
		if err != nil {
			t.Fatalf("Expected token file: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
		}
	})

	t.Run("InvalidKey", func(t *testing.T) {
		err := store.Set(context.Background(), "../escape", "x")
		if !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey, got %v", err)
		}
	})
}

func TestSQLStore(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "kv.db"), logger.Discard())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	exerciseStore(t, NewSQLStore(db.SQL))
}
