package loadgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestClassifyStatusClass(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		302: "3xx",
		404: "4xx",
		500: "5xx",
		100: "other",
	}
	for status, want := range cases {
		if got := classifyStatusClass(status); got != want {
			t.Fatalf("classifyStatusClass(%d)=%q want %q", status, got, want)
		}
	}
}

func TestNormalizeProfile(t *testing.T) {
	if got := normalizeProfile(""); got != "mixed" {
		t.Fatalf("normalizeProfile empty=%q want mixed", got)
	}
	if got := normalizeProfile("  HEARTBEAT  "); got != "heartbeat" {
		t.Fatalf("normalizeProfile heartbeat=%q want heartbeat", got)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func TestRunDrivesHeartbeats(t *testing.T) {
	var heartbeats, nextID atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/auth/login":
			writeData(w, http.StatusOK, map[string]any{"token": "tok"})
		case r.URL.Path == "/api/v1/devices" && r.Method == http.MethodPost:
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeData(w, http.StatusCreated, map[string]any{"device": map[string]any{"id": nextID.Add(1)}})
		case strings.HasSuffix(r.URL.Path, "/heartbeat"):
			heartbeats.Add(1)
			writeData(w, http.StatusOK, map[string]any{"status": "online"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	res, err := Run(context.Background(), Config{
		BaseURL:     srv.URL,
		Email:       "agent@example.com",
		Password:    "secret-secret",
		Profile:     "heartbeat",
		Duration:    300 * time.Millisecond,
		RPS:         50,
		Concurrency: 2,
		Devices:     3,
		Seed:        1,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if nextID.Load() != 3 {
		t.Fatalf("expected 3 registrations, got %d", nextID.Load())
	}
	// A request cut off by the deadline may reach the server without being counted.
	if got := res.ByOperation["heartbeat"]; got == 0 || got > heartbeats.Load() {
		t.Fatalf("heartbeat accounting mismatch: server=%d result=%+v", heartbeats.Load(), res)
	}
	if res.Failures != 0 {
		t.Fatalf("expected no failures, got %+v", res)
	}
}

func TestRunFailsOnRejectedLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := Run(context.Background(), Config{BaseURL: srv.URL, Duration: 50 * time.Millisecond}); err == nil {
		t.Fatal("expected login failure")
	}
}
