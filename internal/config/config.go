package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Env      string `koanf:"app_env"`
	HTTPAddr string `koanf:"http_addr"`
	LogLevel string `koanf:"log_level"`

	DatabaseURL    string        `koanf:"database_url"`
	StorageTimeout time.Duration `koanf:"storage_timeout"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	SessionTokenIssuer string        `koanf:"session_token_issuer"`
	SessionTokenSecret string        `koanf:"session_token_secret"`
	SessionTokenPepper string        `koanf:"session_token_pepper"`
	SessionTTL         time.Duration `koanf:"session_ttl"`

	BootstrapAdminEmail    string `koanf:"bootstrap_admin_email"`
	BootstrapAdminPassword string `koanf:"bootstrap_admin_password"`

	LivenessThreshold     time.Duration `koanf:"liveness_threshold"`
	AuditHeartbeats       bool          `koanf:"audit_heartbeats"`
	IdentityCacheTTL      time.Duration `koanf:"identity_cache_ttl"`
	UnknownDeviceCacheTTL time.Duration `koanf:"unknown_device_cache_ttl"`

	SweepEnabled   bool          `koanf:"sweep_enabled"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	SweepRetention time.Duration `koanf:"sweep_retention"`

	AuthRateLimitRPM int `koanf:"auth_rate_limit_rpm"`
	APIRateLimitRPM  int `koanf:"api_rate_limit_rpm"`

	OTELServiceName           string        `koanf:"otel_service_name"`
	OTELEnvironment           string        `koanf:"otel_environment"`
	OTELExporterOTLPEndpoint  string        `koanf:"otel_exporter_otlp_endpoint"`
	OTELExporterOTLPInsecure  bool          `koanf:"otel_exporter_otlp_insecure"`
	OTELMetricsEnabled        bool          `koanf:"otel_metrics_enabled"`
	OTELTracingEnabled        bool          `koanf:"otel_tracing_enabled"`
	OTELLogsEnabled           bool          `koanf:"otel_logs_enabled"`
	OTELMetricsExportInterval time.Duration `koanf:"otel_metrics_export_interval"`
	OTELTraceSamplingRatio    float64       `koanf:"otel_trace_sampling_ratio"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

func Defaults() Config {
	return Config{
		Env:                       "development",
		HTTPAddr:                  ":8080",
		LogLevel:                  "info",
		DatabaseURL:               "sqlite://data/presence.db",
		StorageTimeout:            3 * time.Second,
		SessionTokenIssuer:        "device-presence-service",
		SessionTTL:                24 * time.Hour,
		LivenessThreshold:         5 * time.Minute,
		IdentityCacheTTL:          30 * time.Second,
		UnknownDeviceCacheTTL:     time.Minute,
		SweepEnabled:              true,
		SweepInterval:             time.Hour,
		SweepRetention:            7 * 24 * time.Hour,
		AuthRateLimitRPM:          30,
		APIRateLimitRPM:           600,
		OTELServiceName:           "device-presence-service",
		OTELEnvironment:           "development",
		OTELExporterOTLPEndpoint:  "localhost:4317",
		OTELExporterOTLPInsecure:  true,
		OTELMetricsExportInterval: 15 * time.Second,
		OTELTraceSamplingRatio:    1.0,
		ShutdownTimeout:           10 * time.Second,
	}
}

// Load layers defaults, an optional YAML file named by CONFIG_FILE and the process
// environment, in that order.
func Load() (*Config, error) {
	cfg, err := load(os.Getenv("CONFIG_FILE"))
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	profile := os.Getenv("APP_ENV")
	if cfg != nil {
		profile = cfg.Env
	}
	recordConfigValidationEvent(context.Background(), profile, outcome, failedStage(err), validationIssues(err))
	return cfg, err
}

func load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parse config values: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.SessionTokenSecret) < 32 {
		errs = append(errs, errors.New("SESSION_TOKEN_SECRET must be at least 32 bytes"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.LivenessThreshold <= 0 {
		errs = append(errs, errors.New("LIVENESS_THRESHOLD must be positive"))
	}
	if c.StorageTimeout <= 0 {
		errs = append(errs, errors.New("STORAGE_TIMEOUT must be positive"))
	}
	if c.SweepEnabled && c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive when the sweep is enabled"))
	}
	if c.SweepRetention < 0 {
		errs = append(errs, errors.New("SWEEP_RETENTION must not be negative"))
	}
	if c.BootstrapAdminEmail != "" && len(c.BootstrapAdminPassword) < 8 {
		errs = append(errs, errors.New("BOOTSTRAP_ADMIN_PASSWORD must be at least 8 characters"))
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLING_RATIO must be within [0,1]"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return normalizeConfigProfile(c.Env) == "production"
}
