package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/observability"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
)

// CachedIdentityResolver answers "who is client N and may they act" for every
// authenticated request. Sessions themselves are never cached.
type CachedIdentityResolver struct {
	cacheStore IdentityCacheStore
	clients    repository.ClientRepository
	ttl        time.Duration
	logger     *slog.Logger
}

func NewCachedIdentityResolver(cacheStore IdentityCacheStore, clients repository.ClientRepository, ttl time.Duration, logger *slog.Logger) *CachedIdentityResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedIdentityResolver{
		cacheStore: cacheStore,
		clients:    clients,
		ttl:        ttl,
		logger:     logger,
	}
}

// Resolve reads the cache key before the client row so a concurrent
// Invalidate leaves the refill under a key nobody reads again.
func (r *CachedIdentityResolver) Resolve(ctx context.Context, clientID uint) (CachedIdentity, error) {
	var key string
	if r.cacheStore != nil && r.ttl > 0 {
		cached, k, ok, err := r.cacheStore.Get(ctx, clientID)
		switch {
		case err != nil:
			observability.RecordCacheLookup(ctx, "identity", "error")
		case ok:
			observability.RecordCacheLookup(ctx, "identity", "hit")
			return cached, nil
		default:
			observability.RecordCacheLookup(ctx, "identity", "miss")
		}
		key = k
	}

	c, err := r.clients.FindByID(ctx, clientID)
	if err != nil {
		return CachedIdentity{}, err
	}
	ident := CachedIdentity{Role: c.Role, Active: c.Active, Name: c.Name}
	if key != "" {
		if err := r.cacheStore.Set(ctx, key, ident, r.ttl); err != nil {
			observability.RecordCacheLookup(ctx, "identity", "write_error")
			r.logger.WarnContext(ctx, "identity cache write failed", "client_id", clientID, "error", err)
		}
	}
	return ident, nil
}

func (r *CachedIdentityResolver) Invalidate(ctx context.Context, clientID uint) error {
	if r.cacheStore == nil {
		return nil
	}
	return r.cacheStore.Invalidate(ctx, clientID)
}

func (r *CachedIdentityResolver) InvalidateAll(ctx context.Context) error {
	if r.cacheStore == nil {
		return nil
	}
	return r.cacheStore.InvalidateAll(ctx)
}
