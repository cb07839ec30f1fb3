//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/sandeepkv93/device-presence-service/internal/app"
	"github.com/sandeepkv93/device-presence-service/internal/config"
	"github.com/sandeepkv93/device-presence-service/internal/service"
)

var storageSet = wire.NewSet(
	provideLogging,
	provideLogger,
	provideDB,
	provideRedis,
	provideClock,
	provideClientRepository,
	provideDeviceRepository,
	provideSessionRepository,
	provideConnectionRepository,
	provideChatRepository,
	provideAuditRepository,
)

var serviceSet = wire.NewSet(
	provideIdentityCacheStore,
	provideUnknownDeviceCache,
	provideTokenManager,
	provideAuditRecorder,
	wire.Bind(new(service.AuditSink), new(*service.AuditRecorder)),
	wire.Bind(new(service.AuditReader), new(*service.AuditRecorder)),
	provideSessionManager,
	provideIdentityResolver,
	provideClientService,
	providePresenceTracker,
	provideConnectionRecorder,
	provideChatService,
	provideStatsService,
	provideSessionSweeper,
	provideAccessController,
	wire.Bind(new(service.AccessService), new(*service.AccessController)),
)

var httpSet = wire.NewSet(
	provideRuntime,
	provideRateLimitBackend,
	provideReadiness,
	provideRouter,
	provideHTTPServer,
	provideTasks,
	provideApp,
)

func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	wire.Build(storageSet, serviceSet, httpSet)
	return nil, nil, nil
}

func InitializeCore(ctx context.Context, cfg *config.Config) (*Core, func(), error) {
	wire.Build(storageSet, serviceSet, provideCore)
	return nil, nil, nil
}
