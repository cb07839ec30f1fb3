package service

import (
	"context"
	"sync"
	"time"
)

// UnknownDeviceCache remembers device ids that recently failed lookup so that
// misbehaving agents hammering a dead id do not reach the database.
type UnknownDeviceCache interface {
	IsUnknown(ctx context.Context, deviceID uint) (bool, error)
	MarkUnknown(ctx context.Context, deviceID uint, ttl time.Duration) error
	Forget(ctx context.Context, deviceID uint) error
	Reset(ctx context.Context) error
}

type NoopUnknownDeviceCache struct{}

func NewNoopUnknownDeviceCache() *NoopUnknownDeviceCache { return &NoopUnknownDeviceCache{} }

func (c *NoopUnknownDeviceCache) IsUnknown(context.Context, uint) (bool, error) { return false, nil }

func (c *NoopUnknownDeviceCache) MarkUnknown(context.Context, uint, time.Duration) error { return nil }

func (c *NoopUnknownDeviceCache) Forget(context.Context, uint) error { return nil }

func (c *NoopUnknownDeviceCache) Reset(context.Context) error { return nil }

type InMemoryUnknownDeviceCache struct {
	mu      sync.RWMutex
	entries map[uint]time.Time
}

func NewInMemoryUnknownDeviceCache() *InMemoryUnknownDeviceCache {
	return &InMemoryUnknownDeviceCache{entries: make(map[uint]time.Time)}
}

func (c *InMemoryUnknownDeviceCache) IsUnknown(_ context.Context, deviceID uint) (bool, error) {
	now := time.Now().UTC()
	c.mu.RLock()
	expiresAt, ok := c.entries[deviceID]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		c.mu.Lock()
		if current, still := c.entries[deviceID]; still && current.Equal(expiresAt) {
			delete(c.entries, deviceID)
		}
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryUnknownDeviceCache) MarkUnknown(_ context.Context, deviceID uint, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[deviceID] = time.Now().UTC().Add(ttl)
	return nil
}

func (c *InMemoryUnknownDeviceCache) Forget(_ context.Context, deviceID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, deviceID)
	return nil
}

func (c *InMemoryUnknownDeviceCache) Reset(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint]time.Time)
	return nil
}
