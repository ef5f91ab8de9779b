package location

import (
	"context"
	"errors"
	"testing"

	"shopassist/internal/logger"
)

type brokenProvider struct{}

func (brokenProvider) RequestPermission(context.Context) (bool, error) { return true, nil }
func (brokenProvider) CurrentPosition(context.Context) (Fix, error) {
	return Fix{}, errors.New("gps timeout")
}

func TestCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Granted", func(t *testing.T) {
		cache := NewCache(logger.Discard())
		fix, err := cache.RequestAndCache(ctx, StaticProvider{Fix: Fix{Latitude: 52.37, Longitude: 4.89}})
		if err != nil {
			t.Fatalf("RequestAndCache failed: %v", err)
		}
		got, ok := cache.Get()
		if !ok || got != fix || got.Latitude != 52.37 {
			t.Errorf("Expected cached fix %+v, got %+v", fix, got)
		}
	})

	t.Run("Denied", func(t *testing.T) {
		cache := NewCache(logger.Discard())
		cache.Set(1, 2)
		_, err := cache.RequestAndCache(ctx, StaticProvider{Denied: true})
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("Expected ErrPermissionDenied, got %v", err)
		}
		got, ok := cache.Get()
		if !ok || got.Latitude != 1 {
			t.Error("Expected denial to leave the previous fix untouched")
		}
	})

	t.Run("PositionError", func(t *testing.T) {
		cache := NewCache(logger.Discard())
		if _, err := cache.RequestAndCache(ctx, brokenProvider{}); err == nil {
			t.Fatal("Expected error from provider")
		}
		if _, ok := cache.Get(); ok {
			t.Error("Expected nothing cached")
		}
	})

	t.Run("LastWriteWinsAndClear", func(t *testing.T) {
		cache := NewCache(logger.Discard())
		cache.Set(1, 1)
		cache.Set(2, 3)
		if got, _ := cache.Get(); got != (Fix{Latitude: 2, Longitude: 3}) {
			t.Errorf("Expected last write, got %+v", got)
		}
		cache.Clear()
		if _, ok := cache.Get(); ok {
			t.Error("Expected empty cache after Clear")
		}
	})
}
