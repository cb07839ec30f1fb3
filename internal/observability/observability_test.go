package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/sandeepkv93/device-presence-service/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", raw, got, want)
		}
	}
}

func TestNewLoggerWritesJSONAtConfiguredLevel(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogLevel = "warn"
	var buf bytes.Buffer
	logger, lp, err := NewLogger(context.Background(), &cfg, &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if lp != nil {
		t.Fatal("expected no logger provider when otel logs are disabled")
	}
	logger.Info("dropped")
	logger.Warn("kept", "device_id", 7)

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected exactly one json record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "kept" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestFanoutHandlerDeliversToAllEnabledHandlers(t *testing.T) {
	var a, b bytes.Buffer
	h := &fanoutHandler{
		level: slog.LevelInfo,
		handlers: []slog.Handler{
			slog.NewJSONHandler(&a, nil),
			slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
		},
	}
	logger := slog.New(h).With("component", "test")
	logger.Info("hello")
	if a.Len() == 0 {
		t.Fatal("expected first handler to receive record")
	}
	if b.Len() != 0 {
		t.Fatal("expected second handler to filter info record")
	}
	logger.Debug("below threshold")
	if bytes.Count(a.Bytes(), []byte("\n")) != 1 {
		t.Fatalf("expected debug record to be dropped, got %q", a.String())
	}
}

func TestRecordersAreSafeWithoutInit(t *testing.T) {
	metricsMu.Lock()
	appMetrics = nil
	metricsMu.Unlock()

	ctx := context.Background()
	RecordAuthLogin(ctx, "success")
	RecordHeartbeat(ctx, "accepted")
	RecordRepositoryOperation(ctx, "device", "heartbeat", "success")
	RecordSessionsPurged(ctx, 3)
	RecordCacheLookup(ctx, "identity", "hit")
}

func TestInitRuntimeWithExportersDisabled(t *testing.T) {
	cfg := config.Defaults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := InitRuntime(context.Background(), &cfg, logger, nil)
	if err != nil {
		t.Fatalf("init runtime: %v", err)
	}
	if current() == nil {
		t.Fatal("expected metrics to be registered on the local provider")
	}
	if got := rt.Exported(); len(got) != 0 {
		t.Fatalf("expected no exported signals, got %v", got)
	}
	RecordAuditAppend(context.Background(), "device_registered", "success")
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNilRuntimeIsInert(t *testing.T) {
	var rt *Runtime
	if rt.Exported() != nil {
		t.Fatal("nil runtime must not report signals")
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
}
