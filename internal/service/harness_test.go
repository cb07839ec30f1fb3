package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/device-presence-service/internal/clock"
	"github.com/sandeepkv93/device-presence-service/internal/database"
	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
	"github.com/sandeepkv93/device-presence-service/internal/security"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "correct-horse-battery"

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// flakySink fails every Record while fail is set and otherwise delegates.
type flakySink struct {
	next AuditSink
	fail atomic.Bool
}

func (s *flakySink) Record(ctx context.Context, rec AuditRecord) (uint64, error) {
	if s.fail.Load() {
		return 0, domain.StorageUnavailable(errors.New("audit store down"))
	}
	return s.next.Record(ctx, rec)
}

// flakySessions fails RevokeByClientID while failRevokeAll is set.
type flakySessions struct {
	repository.SessionRepository
	failRevokeAll atomic.Bool
}

func (s *flakySessions) RevokeByClientID(ctx context.Context, clientID uint, reason string, at time.Time) (int64, error) {
	if s.failRevokeAll.Load() {
		return 0, domain.StorageUnavailable(errors.New("session store down"))
	}
	return s.SessionRepository.RevokeByClientID(ctx, clientID, reason, at)
}

type harness struct {
	db          *gorm.DB
	clock       *clock.Manual
	auditRepo   repository.AuditRepository
	audit       *AuditRecorder
	sink        *flakySink
	clientRepo  repository.ClientRepository
	sessionRepo repository.SessionRepository
	sessionFlak *flakySessions
	deviceRepo  repository.DeviceRepository
	sessions    *SessionManager
	clients     *ClientService
	presence    *PresenceTracker
	connections *ConnectionRecorder
	chat        *ChatService
	ctrl        *AccessController
}

type harnessOptions struct {
	threshold       time.Duration
	auditHeartbeats bool
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.threshold == 0 {
		opts.threshold = 30 * time.Second
	}
	db := newServiceTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewManual(t0)

	h := &harness{db: db, clock: clk}
	h.auditRepo = repository.NewAuditRepository(db, 0)
	h.audit = NewAuditRecorder(h.auditRepo, clk, logger)
	h.sink = &flakySink{next: h.audit}
	h.clientRepo = repository.NewClientRepository(db, 0)
	h.sessionRepo = repository.NewSessionRepository(db, 0)
	h.sessionFlak = &flakySessions{SessionRepository: h.sessionRepo}
	h.deviceRepo = repository.NewDeviceRepository(db, 0)

	tokens := security.NewSessionTokenManager("presence-test", strings.Repeat("k", 32), "pepper")
	h.sessions = NewSessionManager(h.sessionFlak, h.clientRepo, tokens, h.sink, clk, time.Hour, logger)
	h.clients = NewClientService(h.clientRepo, logger)
	h.presence = NewPresenceTracker(h.deviceRepo, NewInMemoryUnknownDeviceCache(), time.Minute, clk, opts.threshold, logger)
	h.connections = NewConnectionRecorder(repository.NewConnectionRepository(db, 0), h.deviceRepo, clk)
	h.chat = NewChatService(repository.NewChatRepository(db, 0))
	stats := NewStatsService(h.clients, h.presence, h.sessions, h.connections, h.chat, h.audit, clk)
	identities := NewCachedIdentityResolver(NewInMemoryIdentityCacheStore(), h.clientRepo, time.Minute, logger)
	h.ctrl = NewAccessController(h.sessions, identities, h.clients, h.presence, h.connections, h.chat, stats,
		h.sink, h.audit, AccessControllerOptions{AuditHeartbeats: opts.auditHeartbeats}, logger)
	return h
}

func newServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
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

func (h *harness) newClient(t *testing.T, email string, role domain.Role) *domain.Client {
	t.Helper()
	c, err := h.clients.Create(context.Background(), CreateClientInput{
		Name:     strings.Split(email, "@")[0],
		Email:    email,
		Password: testSecret,
		Role:     string(role),
	})
	if err != nil {
		t.Fatalf("create client %s: %v", email, err)
	}
	return c
}

// login returns an authenticated principal for a client created with testSecret.
func (h *harness) login(t *testing.T, email string) (*Principal, string) {
	t.Helper()
	ctx := context.Background()
	issued, err := h.ctrl.Login(ctx, email, testSecret, SessionMeta{IP: "10.0.0.1", UserAgent: "agent/1.0"})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	p, err := h.ctrl.Authenticate(ctx, issued.Token, "10.0.0.1")
	if err != nil {
		t.Fatalf("authenticate %s: %v", email, err)
	}
	return p, issued.Token
}

func (h *harness) entries(t *testing.T) []domain.AuditLogEntry {
	t.Helper()
	out, err := h.audit.List(context.Background(), repository.AuditFilter{Limit: repository.MaxAuditLimit})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return out
}

func (h *harness) entriesFor(t *testing.T, action string) []domain.AuditLogEntry {
	t.Helper()
	out, err := h.audit.List(context.Background(), repository.AuditFilter{Action: action, Limit: repository.MaxAuditLimit})
	if err != nil {
		t.Fatalf("list audit %s: %v", action, err)
	}
	return out
}

func (h *harness) auditCount(t *testing.T) int64 {
	t.Helper()
	n, err := h.audit.Count(context.Background())
	if err != nil {
		t.Fatalf("count audit: %v", err)
	}
	return n
}

func laptop(host string) domain.SystemInfo {
	return domain.SystemInfo{Name: host, Kind: "laptop", Hostname: host, OS: "linux", OSVersion: "6.8"}
}

// startRedis runs an in-process Redis for cache tests. Closing the server
// early simulates an outage.
func startRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}
