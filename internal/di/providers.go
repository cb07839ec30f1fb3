package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/sandeepkv93/device-presence-service/internal/app"
	"github.com/sandeepkv93/device-presence-service/internal/clock"
	"github.com/sandeepkv93/device-presence-service/internal/config"
	"github.com/sandeepkv93/device-presence-service/internal/database"
	"github.com/sandeepkv93/device-presence-service/internal/health"
	"github.com/sandeepkv93/device-presence-service/internal/http/handler"
	"github.com/sandeepkv93/device-presence-service/internal/http/middleware"
	"github.com/sandeepkv93/device-presence-service/internal/http/router"
	"github.com/sandeepkv93/device-presence-service/internal/observability"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
	"github.com/sandeepkv93/device-presence-service/internal/security"
	"github.com/sandeepkv93/device-presence-service/internal/service"
)

const redisKeyPrefix = "presence"

type Logging struct {
	Logger   *slog.Logger
	Provider *sdklog.LoggerProvider
}

// Core is the storage and service graph without the HTTP surface. One-shot
// commands such as migrate, sweep and auditcheck run on it.
type Core struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *gorm.DB
	Clients  *service.ClientService
	Audit    *service.AuditRecorder
	Sessions *service.SessionManager
	Sweeper  *service.SessionSweeper
}

func provideLogging(ctx context.Context, cfg *config.Config) (Logging, error) {
	logger, lp, err := observability.NewLogger(ctx, cfg, os.Stdout)
	if err != nil {
		return Logging{}, err
	}
	slog.SetDefault(logger)
	return Logging{Logger: logger, Provider: lp}, nil
}

func provideLogger(l Logging) *slog.Logger { return l.Logger }

func provideRuntime(ctx context.Context, cfg *config.Config, l Logging) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, l.Logger, l.Provider)
}

func provideDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(ctx, cfg.DatabaseURL, cfg.IsProduction())
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logger.Warn("close database", "error", err)
			}
		}
	}
	return db, cleanup, nil
}

// provideRedis returns nil when REDIS_ADDR is unset; callers fall back to
// process-local stores.
func provideRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("redis not configured, using in-memory caches")
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.StorageTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func provideClock() clock.Clock { return clock.NewSystem() }

func provideClientRepository(db *gorm.DB, cfg *config.Config) repository.ClientRepository {
	return repository.NewClientRepository(db, cfg.StorageTimeout)
}

func provideDeviceRepository(db *gorm.DB, cfg *config.Config) repository.DeviceRepository {
	return repository.NewDeviceRepository(db, cfg.StorageTimeout)
}

func provideSessionRepository(db *gorm.DB, cfg *config.Config) repository.SessionRepository {
	return repository.NewSessionRepository(db, cfg.StorageTimeout)
}

func provideConnectionRepository(db *gorm.DB, cfg *config.Config) repository.ConnectionRepository {
	return repository.NewConnectionRepository(db, cfg.StorageTimeout)
}

func provideChatRepository(db *gorm.DB, cfg *config.Config) repository.ChatRepository {
	return repository.NewChatRepository(db, cfg.StorageTimeout)
}

func provideAuditRepository(db *gorm.DB, cfg *config.Config) repository.AuditRepository {
	return repository.NewAuditRepository(db, cfg.StorageTimeout)
}

func provideIdentityCacheStore(client redis.UniversalClient) service.IdentityCacheStore {
	if client == nil {
		return service.NewInMemoryIdentityCacheStore()
	}
	return service.NewRedisIdentityCacheStore(client, redisKeyPrefix)
}

func provideUnknownDeviceCache(client redis.UniversalClient) service.UnknownDeviceCache {
	if client == nil {
		return service.NewInMemoryUnknownDeviceCache()
	}
	return service.NewRedisUnknownDeviceCache(client, redisKeyPrefix)
}

func provideRateLimitBackend(client redis.UniversalClient) middleware.Limiter {
	if client == nil {
		return middleware.NewLocalLimiter()
	}
	return middleware.NewRedisLimiter(client, redisKeyPrefix+":ratelimit")
}

func provideTokenManager(cfg *config.Config) *security.SessionTokenManager {
	return security.NewSessionTokenManager(cfg.SessionTokenIssuer, cfg.SessionTokenSecret, cfg.SessionTokenPepper)
}

func provideAuditRecorder(repo repository.AuditRepository, clk clock.Clock, logger *slog.Logger) *service.AuditRecorder {
	return service.NewAuditRecorder(repo, clk, logger)
}

func provideSessionManager(
	repo repository.SessionRepository,
	clients repository.ClientRepository,
	tokens *security.SessionTokenManager,
	audit service.AuditSink,
	clk clock.Clock,
	cfg *config.Config,
	logger *slog.Logger,
) *service.SessionManager {
	return service.NewSessionManager(repo, clients, tokens, audit, clk, cfg.SessionTTL, logger)
}

func provideIdentityResolver(store service.IdentityCacheStore, clients repository.ClientRepository, cfg *config.Config, logger *slog.Logger) *service.CachedIdentityResolver {
	return service.NewCachedIdentityResolver(store, clients, cfg.IdentityCacheTTL, logger)
}

func provideClientService(repo repository.ClientRepository, logger *slog.Logger) *service.ClientService {
	return service.NewClientService(repo, logger)
}

func providePresenceTracker(
	devices repository.DeviceRepository,
	unknown service.UnknownDeviceCache,
	clk clock.Clock,
	cfg *config.Config,
	logger *slog.Logger,
) *service.PresenceTracker {
	return service.NewPresenceTracker(devices, unknown, cfg.UnknownDeviceCacheTTL, clk, cfg.LivenessThreshold, logger)
}

func provideConnectionRecorder(connections repository.ConnectionRepository, devices repository.DeviceRepository, clk clock.Clock) *service.ConnectionRecorder {
	return service.NewConnectionRecorder(connections, devices, clk)
}

func provideChatService(repo repository.ChatRepository) *service.ChatService {
	return service.NewChatService(repo)
}

func provideStatsService(
	clients *service.ClientService,
	presence *service.PresenceTracker,
	sessions *service.SessionManager,
	connections *service.ConnectionRecorder,
	chat *service.ChatService,
	audit *service.AuditRecorder,
	clk clock.Clock,
) *service.StatsService {
	return service.NewStatsService(clients, presence, sessions, connections, chat, audit, clk)
}

func provideSessionSweeper(sessions *service.SessionManager, audit service.AuditSink, cfg *config.Config, logger *slog.Logger) *service.SessionSweeper {
	return service.NewSessionSweeper(sessions, audit, cfg.SweepInterval, cfg.SweepRetention, logger)
}

func provideAccessController(
	sessions *service.SessionManager,
	identities *service.CachedIdentityResolver,
	clients *service.ClientService,
	presence *service.PresenceTracker,
	connections *service.ConnectionRecorder,
	chat *service.ChatService,
	stats *service.StatsService,
	audit service.AuditSink,
	auditLog service.AuditReader,
	cfg *config.Config,
	logger *slog.Logger,
) *service.AccessController {
	return service.NewAccessController(sessions, identities, clients, presence, connections, chat, stats, audit, auditLog,
		service.AccessControllerOptions{AuditHeartbeats: cfg.AuditHeartbeats}, logger)
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient, cfg *config.Config) *health.ProbeRunner {
	checkers := []health.Checker{health.DatabaseChecker(db)}
	if client != nil {
		checkers = append(checkers, health.RedisChecker(client))
	}
	return health.NewProbeRunner(cfg.StorageTimeout, checkers...)
}

func provideRouter(
	cfg *config.Config,
	access service.AccessService,
	limiter middleware.Limiter,
	readiness *health.ProbeRunner,
	logger *slog.Logger,
) http.Handler {
	// Auth endpoints fail closed; the API limiter fails open so a Redis outage
	// does not take heartbeats down with it.
	authLimiter := middleware.NewRateLimiter(limiter, cfg.AuthRateLimitRPM, middleware.FailClosed, "auth", middleware.IPKey, logger)
	apiLimiter := middleware.NewRateLimiter(limiter, cfg.APIRateLimitRPM, middleware.FailOpen, "api", middleware.PrincipalOrIPKey, logger)
	return router.NewRouter(router.Dependencies{
		AuthHandler:     handler.NewAuthHandler(access),
		DeviceHandler:   handler.NewDeviceHandler(access),
		AdminHandler:    handler.NewAdminHandler(access),
		ClientHandler:   handler.NewClientHandler(access),
		ChatHandler:     handler.NewChatHandler(access),
		Authenticator:   access,
		AuthRateLimiter: authLimiter.Middleware(),
		APIRateLimiter:  apiLimiter.Middleware(),
		Readiness:       readiness,
		Logger:          logger,
		EnableOTelHTTP:  cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	})
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideTasks(cfg *config.Config, sweeper *service.SessionSweeper) []app.BackgroundTask {
	if !cfg.SweepEnabled {
		return nil
	}
	return []app.BackgroundTask{sweeper}
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	readiness *health.ProbeRunner,
	tasks []app.BackgroundTask,
) *app.App {
	return app.New(cfg, logger, server, runtime, readiness, tasks)
}

func provideCore(
	cfg *config.Config,
	logger *slog.Logger,
	db *gorm.DB,
	clients *service.ClientService,
	audit *service.AuditRecorder,
	sessions *service.SessionManager,
	sweeper *service.SessionSweeper,
) *Core {
	return &Core{Config: cfg, Logger: logger, DB: db, Clients: clients, Audit: audit, Sessions: sessions, Sweeper: sweeper}
}
