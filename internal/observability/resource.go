package observability

import (
	"context"

	"github.com/sandeepkv93/device-presence-service/internal/config"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
)

// newResource identifies this replica. Host and process attributes let
// dashboards tell API replicas apart when they share a service name.
func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("service.namespace", "presence"),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
		resource.WithHost(),
		resource.WithProcessPID(),
		resource.WithTelemetrySDK(),
	)
}
