package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/database"
	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestSessionRepositoryListActiveByClientID(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t), 0)
	ctx := context.Background()
	now := time.Now().UTC()

	active := &domain.Session{ClientID: 1, TokenHash: "h1", TokenID: "tok-1", ExpiresAt: now.Add(2 * time.Hour)}
	revokedAt := now
	revoked := &domain.Session{ClientID: 1, TokenHash: "h2", TokenID: "tok-2", ExpiresAt: now.Add(2 * time.Hour), RevokedAt: &revokedAt}
	expired := &domain.Session{ClientID: 1, TokenHash: "h3", TokenID: "tok-3", ExpiresAt: now.Add(-time.Hour)}
	otherClient := &domain.Session{ClientID: 2, TokenHash: "h4", TokenID: "tok-4", ExpiresAt: now.Add(2 * time.Hour)}
	for _, s := range []*domain.Session{active, revoked, expired, otherClient} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create %s: %v", s.TokenHash, err)
		}
	}

	sessions, err := repo.ListActiveByClientID(ctx, 1, now)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(sessions) != 1 || sessions[0].TokenHash != "h1" {
		t.Fatalf("unexpected active sessions: %+v", sessions)
	}
	n, err := repo.CountActive(ctx, now)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 active sessions overall, got %d err=%v", n, err)
	}
}

func TestSessionRepositoryRevokeByHashIsIdempotent(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t), 0)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.Create(ctx, &domain.Session{ClientID: 1, TokenHash: "h1", TokenID: "t1", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := repo.RevokeByHash(ctx, "h1", "logout", now)
	if err != nil || !first {
		t.Fatalf("expected first revoke to apply, got %v err=%v", first, err)
	}
	second, err := repo.RevokeByHash(ctx, "h1", "logout", now.Add(time.Minute))
	if err != nil || second {
		t.Fatalf("expected second revoke to be a no-op, got %v err=%v", second, err)
	}
	missing, err := repo.RevokeByHash(ctx, "nope", "logout", now)
	if err != nil || missing {
		t.Fatalf("expected unknown hash revoke to be a no-op, got %v err=%v", missing, err)
	}

	s, err := repo.FindByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if s.RevokedAt == nil || !s.RevokedAt.Equal(now) {
		t.Fatalf("expected original revocation time to stick, got %v", s.RevokedAt)
	}
}

func TestSessionRepositoryRevokeByHashLeavesExpiredSessions(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t), 0)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.Create(ctx, &domain.Session{ClientID: 1, TokenHash: "h1", TokenID: "t1", ExpiresAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	revoked, err := repo.RevokeByHash(ctx, "h1", "logout", now)
	if err != nil || revoked {
		t.Fatalf("expected expired session revoke to be a no-op, got %v err=%v", revoked, err)
	}
	s, err := repo.FindByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if s.RevokedAt != nil || s.RevokedReason != nil {
		t.Fatalf("expected expired session to stay unrevoked, got %+v", s)
	}
}

func TestSessionRepositoryRevokeScopeByClient(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t), 0)
	ctx := context.Background()
	now := time.Now().UTC()
	for i, clientID := range []uint{1, 1, 2} {
		s := &domain.Session{ClientID: clientID, TokenHash: fmt.Sprintf("h%d", i), TokenID: fmt.Sprintf("t%d", i), ExpiresAt: now.Add(time.Hour)}
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	n, err := repo.RevokeByClientID(ctx, 1, "client_deactivated", now)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 revoked, got %d err=%v", n, err)
	}
	left, err := repo.ListActiveByClientID(ctx, 2, now)
	if err != nil || len(left) != 1 {
		t.Fatalf("expected other client untouched, got %d err=%v", len(left), err)
	}
}

func TestSessionRepositoryRevokeByID(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t), 0)
	ctx := context.Background()
	now := time.Now().UTC()
	s := &domain.Session{ClientID: 1, TokenHash: "h1", TokenID: "t1", ExpiresAt: now.Add(time.Hour)}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, revoked, err := repo.RevokeByID(ctx, s.ID, "admin_revoked", now)
	if err != nil || !revoked || got.RevokedReason == nil || *got.RevokedReason != "admin_revoked" {
		t.Fatalf("unexpected revoke result %+v revoked=%v err=%v", got, revoked, err)
	}
	if _, revoked, err := repo.RevokeByID(ctx, s.ID, "admin_revoked", now); err != nil || revoked {
		t.Fatalf("expected repeat revoke to be a no-op, revoked=%v err=%v", revoked, err)
	}
	if _, _, err := repo.RevokeByID(ctx, 999, "admin_revoked", now); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestSessionRepositoryPurgeExpiredKeepsRevoked(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t), 0)
	ctx := context.Background()
	now := time.Now().UTC()
	revokedAt := now.Add(-48 * time.Hour)
	rows := []*domain.Session{
		{ClientID: 1, TokenHash: "old", TokenID: "t1", ExpiresAt: now.Add(-72 * time.Hour)},
		{ClientID: 1, TokenHash: "old-revoked", TokenID: "t2", ExpiresAt: now.Add(-72 * time.Hour), RevokedAt: &revokedAt},
		{ClientID: 1, TokenHash: "recent", TokenID: "t3", ExpiresAt: now.Add(-time.Hour)},
		{ClientID: 1, TokenHash: "live", TokenID: "t4", ExpiresAt: now.Add(time.Hour)},
	}
	for _, s := range rows {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	n, err := repo.PurgeExpired(ctx, now.Add(-24*time.Hour), 10)
	if err != nil || n != 1 {
		t.Fatalf("expected one purged row, got %d err=%v", n, err)
	}
	if _, err := repo.FindByHash(ctx, "old"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected old session purged, got %v", err)
	}
	for _, hash := range []string{"old-revoked", "recent", "live"} {
		if _, err := repo.FindByHash(ctx, hash); err != nil {
			t.Fatalf("expected %s kept: %v", hash, err)
		}
	}
}

func TestRepositoryMapsDeadlineToStorageTimeout(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t), 0)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := repo.FindByHash(ctx, "h1")
	if !errors.Is(err, domain.ErrStorageTimeout) {
		t.Fatalf("expected storage timeout, got %v", err)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createClient(t *testing.T, db *gorm.DB, email string, role domain.Role) *domain.Client {
	t.Helper()
	c := &domain.Client{Name: email, Email: email, Role: role, Active: true}
	if err := NewClientRepository(db, 0).Create(context.Background(), c); err != nil {
		t.Fatalf("create client %s: %v", email, err)
	}
	return c
}
