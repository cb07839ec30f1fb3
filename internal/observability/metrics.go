package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sandeepkv93/device-presence-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "device-presence-service"

type AppMetrics struct {
	authLoginCounter      metric.Int64Counter
	authLogoutCounter     metric.Int64Counter
	sessionValidations    metric.Int64Counter
	heartbeatCounter      metric.Int64Counter
	deviceRegistrations   metric.Int64Counter
	forceOfflineCounter   metric.Int64Counter
	auditAppendCounter    metric.Int64Counter
	accessDecisionCounter metric.Int64Counter
	repositoryOperations  metric.Int64Counter
	sessionsPurged        metric.Int64Counter
	cacheLookups          metric.Int64Counter
	rateLimitDecisions    metric.Int64Counter
	httpRequests          metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	var mp *sdkmetric.MeterProvider
	if !cfg.OTELMetricsEnabled {
		mp = sdkmetric.NewMeterProvider()
		logger.Info("otel metrics disabled")
	} else {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
		if cfg.OTELExporterOTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		res, err := newResource(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create metric resource: %w", err)
		}
		reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	}
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	m := &AppMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.authLoginCounter, "auth.login.attempts"},
		{&m.authLogoutCounter, "auth.logout.attempts"},
		{&m.sessionValidations, "session.validations"},
		{&m.heartbeatCounter, "presence.heartbeats"},
		{&m.deviceRegistrations, "presence.device.registrations"},
		{&m.forceOfflineCounter, "presence.force_offline"},
		{&m.auditAppendCounter, "audit.entries.appended"},
		{&m.accessDecisionCounter, "access.decisions"},
		{&m.repositoryOperations, "repository.operations"},
		{&m.sessionsPurged, "session.sweeper.purged"},
		{&m.cacheLookups, "cache.lookups"},
		{&m.rateLimitDecisions, "http.rate_limit.decisions"},
		{&m.httpRequests, "http.requests"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthLogout(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLogoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordSessionValidation(ctx context.Context, outcome string) {
	if m := current(); m != nil {
		m.sessionValidations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// RecordHeartbeat outcome is one of accepted, stale or unknown_device.
func RecordHeartbeat(ctx context.Context, outcome string) {
	if m := current(); m != nil {
		m.heartbeatCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func RecordDeviceRegistration(ctx context.Context, outcome string) {
	if m := current(); m != nil {
		m.deviceRegistrations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func RecordForceOffline(ctx context.Context, outcome string) {
	if m := current(); m != nil {
		m.forceOfflineCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func RecordAuditAppend(ctx context.Context, action, status string) {
	if m := current(); m != nil {
		m.auditAppendCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		))
	}
}

func RecordAccessDecision(ctx context.Context, capability, decision string) {
	if m := current(); m != nil {
		m.accessDecisionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("decision", decision),
		))
	}
}

func RecordRepositoryOperation(ctx context.Context, repo, op, outcome string) {
	if m := current(); m != nil {
		m.repositoryOperations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("repository", repo),
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordSessionsPurged(ctx context.Context, n int64) {
	if m := current(); m != nil && n > 0 {
		m.sessionsPurged.Add(ctx, n)
	}
}

// RecordCacheLookup outcome is hit, miss or error.
func RecordCacheLookup(ctx context.Context, cache, outcome string) {
	if m := current(); m != nil {
		m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	if m := current(); m != nil {
		m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("outcome", outcome),
		))
	}
}

// RecordHTTPRequest is keyed by the chi route pattern, never the raw path.
func RecordHTTPRequest(ctx context.Context, route string, status int) {
	if m := current(); m != nil {
		m.httpRequests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("route", route),
			attribute.Int("status", status),
		))
	}
}
