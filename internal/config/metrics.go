package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	configMetricsOnce sync.Once
	configCounter     metric.Int64Counter
)

func recordConfigValidationEvent(ctx context.Context, profile, outcome, stage string, issues int) {
	configMetricsOnce.Do(func() {
		counter, err := otel.Meter("device-presence-service").Int64Counter("presence.config.load.events")
		if err == nil {
			configCounter = counter
		}
	})
	if configCounter == nil {
		return
	}
	configCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("outcome", outcome),
		attribute.String("stage", stage),
		attribute.Int("issues", issues),
	))
}

// normalizeConfigProfile folds APP_ENV aliases onto a fixed label set.
func normalizeConfigProfile(profile string) string {
	switch v := strings.TrimSpace(strings.ToLower(profile)); v {
	case "":
		return "unknown"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "dev", "development", "local":
		return "development"
	case "test", "ci":
		return "test"
	default:
		return "custom"
	}
}

// failedStage names the load layer that produced err.
func failedStage(err error) string {
	if err == nil {
		return "none"
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "parse config file"):
		return "file"
	case strings.HasPrefix(msg, "load environment"):
		return "env"
	case strings.HasPrefix(msg, "parse config values"):
		return "decode"
	case strings.HasPrefix(msg, "validate config"):
		return "validation"
	default:
		return "unknown"
	}
}

// validationIssues counts the problems joined into a Validate error.
func validationIssues(err error) int {
	if err == nil {
		return 0
	}
	for e := err; e != nil; {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			return len(joined.Unwrap())
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return 1
}
