package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
)

// CachedIdentity is the slice of a client that request authentication needs.
type CachedIdentity struct {
	Role   domain.Role `json:"role"`
	Active bool        `json:"active"`
	Name   string      `json:"name"`
}

// IdentityCacheStore keys entries by epoch. Get also returns the key that was
// current at lookup time and Set writes under that key, so an invalidation
// between the two orphans the write instead of caching a stale identity.
type IdentityCacheStore interface {
	Get(ctx context.Context, clientID uint) (ident CachedIdentity, key string, ok bool, err error)
	Set(ctx context.Context, key string, ident CachedIdentity, ttl time.Duration) error
	Invalidate(ctx context.Context, clientID uint) error
	InvalidateAll(ctx context.Context) error
}

type NoopIdentityCacheStore struct{}

func NewNoopIdentityCacheStore() *NoopIdentityCacheStore {
	return &NoopIdentityCacheStore{}
}

func (s *NoopIdentityCacheStore) Get(context.Context, uint) (CachedIdentity, string, bool, error) {
	return CachedIdentity{}, "", false, nil
}

func (s *NoopIdentityCacheStore) Set(context.Context, string, CachedIdentity, time.Duration) error {
	return nil
}

func (s *NoopIdentityCacheStore) Invalidate(context.Context, uint) error { return nil }

func (s *NoopIdentityCacheStore) InvalidateAll(context.Context) error { return nil }

type identityCacheEntry struct {
	ident     CachedIdentity
	expiresAt time.Time
}

// InMemoryIdentityCacheStore versions keys with a global and a per-client epoch
// so invalidation never has to enumerate entries.
type InMemoryIdentityCacheStore struct {
	mu          sync.RWMutex
	data        map[string]identityCacheEntry
	globalEpoch uint64
	clientEpoch map[uint]uint64
}

func NewInMemoryIdentityCacheStore() *InMemoryIdentityCacheStore {
	return &InMemoryIdentityCacheStore{
		data:        make(map[string]identityCacheEntry),
		clientEpoch: make(map[uint]uint64),
	}
}

func (s *InMemoryIdentityCacheStore) Get(_ context.Context, clientID uint) (CachedIdentity, string, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	key := s.keyLocked(clientID)
	entry, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return CachedIdentity{}, key, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return CachedIdentity{}, key, false, nil
	}
	return entry.ident, key, true, nil
}

func (s *InMemoryIdentityCacheStore) Set(_ context.Context, key string, ident CachedIdentity, ttl time.Duration) error {
	if ttl <= 0 || key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = identityCacheEntry{ident: ident, expiresAt: time.Now().UTC().Add(ttl)}
	return nil
}

func (s *InMemoryIdentityCacheStore) Invalidate(_ context.Context, clientID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientEpoch[clientID]++
	s.pruneLocked()
	return nil
}

func (s *InMemoryIdentityCacheStore) InvalidateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalEpoch++
	s.data = make(map[string]identityCacheEntry)
	return nil
}

// pruneLocked drops expired entries once the map has grown. Writes orphaned by
// an epoch bump are never read and age out here.
func (s *InMemoryIdentityCacheStore) pruneLocked() {
	if len(s.data) < 1024 {
		return
	}
	now := time.Now().UTC()
	for k, v := range s.data {
		if now.After(v.expiresAt) {
			delete(s.data, k)
		}
	}
}

func (s *InMemoryIdentityCacheStore) keyLocked(clientID uint) string {
	return buildIdentityCacheKey(s.globalEpoch, s.clientEpoch[clientID], clientID)
}

func buildIdentityCacheKey(globalEpoch, clientEpoch uint64, clientID uint) string {
	return fmt.Sprintf("g%d:c%d:client:%d", globalEpoch, clientEpoch, clientID)
}
