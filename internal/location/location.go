package location

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrPermissionDenied is returned when the user refuses location access.
// Callers continue without a fix.
var ErrPermissionDenied = errors.New("location permission denied")

// Fix is a position in decimal degrees.
type Fix struct {
	Latitude  float64
	Longitude float64
}

// Provider is the device location capability.
type Provider interface {
	RequestPermission(ctx context.Context) (bool, error)
	CurrentPosition(ctx context.Context) (Fix, error)
}

// Cache holds the last known fix. Last write wins.
type Cache struct {
	logger *logrus.Logger

	mu  sync.RWMutex
	fix *Fix
}

func NewCache(logger *logrus.Logger) *Cache {
	return &Cache{logger: logger}
}

// RequestAndCache asks for permission, reads the position and stores it.
// Nothing is recorded when permission is denied or the read fails.
func (c *Cache) RequestAndCache(ctx context.Context, provider Provider) (Fix, error) {
	granted, err := provider.RequestPermission(ctx)
	if err != nil {
		return Fix{}, fmt.Errorf("failed to request location permission: %w", err)
	}
	if !granted {
		c.logger.Warn("Location permission denied")
		return Fix{}, ErrPermissionDenied
	}

	fix, err := provider.CurrentPosition(ctx)
	if err != nil {
		return Fix{}, fmt.Errorf("failed to read current position: %w", err)
	}
	c.Set(fix.Latitude, fix.Longitude)
	return fix, nil
}

func (c *Cache) Set(latitude, longitude float64) {
	c.mu.Lock()
	c.fix = &Fix{Latitude: latitude, Longitude: longitude}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"latitude":  latitude,
		"longitude": longitude,
	}).Debug("Location cached")
}

// Get returns the cached fix; ok is false when none has been recorded.
func (c *Cache) Get() (Fix, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fix == nil {
		return Fix{}, false
	}
	return *c.fix, true
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.fix = nil
	c.mu.Unlock()
}

// StaticProvider reports a fixed position, or denies permission.
type StaticProvider struct {
	Fix    Fix
	Denied bool
}

func (p StaticProvider) RequestPermission(context.Context) (bool, error) {
	return !p.Denied, nil
}

func (p StaticProvider) CurrentPosition(context.Context) (Fix, error) {
	if p.Denied {
		return Fix{}, ErrPermissionDenied
	}
	return p.Fix, nil
}
