package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisIdentityCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIdentityCacheStore(client redis.UniversalClient, prefix string) *RedisIdentityCacheStore {
	if prefix == "" {
		prefix = "identity"
	}
	return &RedisIdentityCacheStore{client: client, prefix: prefix}
}

func (s *RedisIdentityCacheStore) Get(ctx context.Context, clientID uint) (CachedIdentity, string, bool, error) {
	if s.client == nil {
		return CachedIdentity{}, "", false, nil
	}
	key, err := s.dataKey(ctx, clientID)
	if err != nil {
		return CachedIdentity{}, "", false, err
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return CachedIdentity{}, key, false, nil
	}
	if err != nil {
		return CachedIdentity{}, "", false, err
	}
	var ident CachedIdentity
	if err := json.Unmarshal(raw, &ident); err != nil {
		return CachedIdentity{}, key, false, err
	}
	return ident, key, true, nil
}

func (s *RedisIdentityCacheStore) Set(ctx context.Context, key string, ident CachedIdentity, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 || key == "" {
		return nil
	}
	payload, err := json.Marshal(ident)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, payload, ttl).Err()
}

func (s *RedisIdentityCacheStore) Invalidate(ctx context.Context, clientID uint) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.clientEpochKey(clientID)).Err()
}

func (s *RedisIdentityCacheStore) InvalidateAll(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.globalEpochKey()).Err()
}

func (s *RedisIdentityCacheStore) dataKey(ctx context.Context, clientID uint) (string, error) {
	pipe := s.client.Pipeline()
	globalCmd := pipe.Get(ctx, s.globalEpochKey())
	clientCmd := pipe.Get(ctx, s.clientEpochKey(clientID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return "", err
	}
	globalEpoch, err := parseEpoch(globalCmd)
	if err != nil {
		return "", err
	}
	clientEpoch, err := parseEpoch(clientCmd)
	if err != nil {
		return "", err
	}
	return s.prefix + ":data:" + buildIdentityCacheKey(globalEpoch, clientEpoch, clientID), nil
}

func parseEpoch(cmd *redis.StringCmd) (uint64, error) {
	v, err := cmd.Result()
	if err == redis.Nil || (err == nil && v == "") {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

func (s *RedisIdentityCacheStore) globalEpochKey() string {
	return s.prefix + ":epoch:global"
}

func (s *RedisIdentityCacheStore) clientEpochKey(clientID uint) string {
	return fmt.Sprintf("%s:epoch:client:%d", s.prefix, clientID)
}
