package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/sandeepkv93/device-presence-service/internal/config"
	"github.com/sandeepkv93/device-presence-service/internal/di"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "Admin#Pass1234"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

type testServer struct {
	baseURL string
	client  *http.Client
	cfg     *config.Config
	redis   *miniredis.Miniredis
}

type testServerOptions struct {
	withoutRedis bool
	cfgOverride  func(*config.Config)
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithOptions(t, testServerOptions{})
}

// newTestServerWithOptions wires the full application through the injector
// against a throwaway sqlite file and, unless disabled, an in-process Redis.
func newTestServerWithOptions(t *testing.T, opts testServerOptions) *testServer {
	t.Helper()
	cfg := config.Defaults()
	cfg.LogLevel = "error"
	cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "presence.db")
	cfg.SessionTokenSecret = "integration-secret-0123456789abcdef"
	cfg.SessionTokenPepper = "integration-pepper"
	cfg.BootstrapAdminEmail = adminEmail
	cfg.BootstrapAdminPassword = adminPassword
	cfg.SweepEnabled = false
	cfg.AuthRateLimitRPM = 1000
	cfg.APIRateLimitRPM = 1000

	ts := &testServer{cfg: &cfg}
	if !opts.withoutRedis {
		ts.redis = miniredis.RunT(t)
		cfg.RedisAddr = ts.redis.Addr()
	}
	if opts.cfgOverride != nil {
		opts.cfgOverride(&cfg)
	}

	ctx := context.Background()
	core, cleanupCore, err := di.InitializeCore(ctx, &cfg)
	if err != nil {
		t.Fatalf("initialize core: %v", err)
	}
	if _, _, err := core.Clients.EnsureAdmin(ctx, core.Audit, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
		cleanupCore()
		t.Fatalf("bootstrap admin: %v", err)
	}
	cleanupCore()

	a, cleanup, err := di.InitializeApp(ctx, &cfg)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
		cleanup()
	})
	ts.baseURL = srv.URL
	ts.client = srv.Client()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope %s %s: %v body=%s", method, path, err, raw)
		}
	}
	return resp, env
}

func (ts *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	resp, env := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": password})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login %s failed: status=%d env=%+v", email, resp.StatusCode, env.Error)
	}
	var issued struct {
		Token string `json:"token"`
	}
	decodeData(t, env, &issued)
	if issued.Token == "" {
		t.Fatal("login returned empty token")
	}
	return issued.Token
}

// createClient creates a client as admin and returns its id.
func (ts *testServer) createClient(t *testing.T, adminToken, email, role string) uint {
	t.Helper()
	resp, env := ts.do(t, http.MethodPost, "/api/v1/clients", adminToken, map[string]string{
		"name":     "Agent " + email,
		"email":    email,
		"password": "Agent#Pass1234",
		"role":     role,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create client %s: status=%d err=%+v", email, resp.StatusCode, env.Error)
	}
	var c struct {
		ID uint `json:"id"`
	}
	decodeData(t, env, &c)
	return c.ID
}

func (ts *testServer) registerDevice(t *testing.T, token, hostname, mac string) uint {
	t.Helper()
	resp, env := ts.do(t, http.MethodPost, "/api/v1/devices", token, map[string]any{
		"name":        hostname,
		"hostname":    hostname,
		"os":          "linux",
		"mac_address": mac,
		"local_ip":    "10.0.0.5",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register device %s: status=%d err=%+v", hostname, resp.StatusCode, env.Error)
	}
	var p struct {
		Device struct {
			ID uint `json:"id"`
		} `json:"device"`
	}
	decodeData(t, env, &p)
	return p.Device.ID
}

func decodeData(t *testing.T, env apiEnvelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
}

func requireError(t *testing.T, resp *http.Response, env apiEnvelope, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d (%+v)", status, resp.StatusCode, env.Error)
	}
	if env.Success || env.Error == nil || env.Error.Code != code {
		t.Fatalf("expected error code %s, got %+v", code, env.Error)
	}
}

func devicePath(id uint, suffix string) string {
	return fmt.Sprintf("/api/v1/devices/%d%s", id, suffix)
}
