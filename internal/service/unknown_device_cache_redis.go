package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisUnknownDeviceCache shares unknown-device verdicts between API replicas.
// Reset bumps an epoch that is part of every key instead of scanning.
type RedisUnknownDeviceCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisUnknownDeviceCache(client redis.UniversalClient, prefix string) *RedisUnknownDeviceCache {
	if prefix == "" {
		prefix = "unknown_device"
	}
	return &RedisUnknownDeviceCache{client: client, prefix: prefix}
}

func (c *RedisUnknownDeviceCache) IsUnknown(ctx context.Context, deviceID uint) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	key, err := c.key(ctx, deviceID)
	if err != nil {
		return false, err
	}
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisUnknownDeviceCache) MarkUnknown(ctx context.Context, deviceID uint, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	key, err := c.key(ctx, deviceID)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, "1", ttl).Err()
}

func (c *RedisUnknownDeviceCache) Forget(ctx context.Context, deviceID uint) error {
	if c.client == nil {
		return nil
	}
	key, err := c.key(ctx, deviceID)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, key).Err()
}

func (c *RedisUnknownDeviceCache) Reset(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, c.epochKey()).Err()
}

func (c *RedisUnknownDeviceCache) key(ctx context.Context, deviceID uint) (string, error) {
	epoch, err := parseEpoch(c.client.Get(ctx, c.epochKey()))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:e%d:device:%d", c.prefix, epoch, deviceID), nil
}

func (c *RedisUnknownDeviceCache) epochKey() string {
	return c.prefix + ":epoch"
}
