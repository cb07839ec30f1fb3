package integration

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/device-presence-service/internal/config"
	"github.com/sandeepkv93/device-presence-service/internal/http/middleware"
)

func TestRedisRateLimiterConcurrentBurstHonorsLimit(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// Two limiters stand in for two API replicas sharing one counter.
	replicas := []*middleware.RedisLimiter{
		middleware.NewRedisLimiter(client, "itest:rl"),
		middleware.NewRedisLimiter(client, "itest:rl"),
	}
	policy := middleware.RateLimitPolicy{Limit: 20, Window: 10 * time.Minute}

	const attempts = 100
	var allowed atomic.Int64
	errCh := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := replicas[i%len(replicas)].Allow(context.Background(), "same-actor", policy)
			if err != nil {
				errCh <- err
				return
			}
			if decision.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("limiter allow failed: %v", err)
	}

	if got := allowed.Load(); got != int64(policy.Limit) {
		t.Fatalf("expected exactly %d allowed requests, got %d", policy.Limit, got)
	}
	decision, err := replicas[0].Allow(context.Background(), "same-actor", policy)
	if err != nil {
		t.Fatalf("final allow call failed: %v", err)
	}
	if decision.Allowed || decision.RetryAfter <= 0 {
		t.Fatalf("expected next request to be limited with a retry hint, got %+v", decision)
	}
}

func TestLoginRateLimitedPerIP(t *testing.T) {
	ts := newTestServerWithOptions(t, testServerOptions{
		cfgOverride: func(cfg *config.Config) { cfg.AuthRateLimitRPM = 3 },
	})

	body := map[string]string{"email": adminEmail, "password": "Wrong#Pass1234"}
	for i := 0; i < 3; i++ {
		resp, env := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
		requireError(t, resp, env, http.StatusUnauthorized, "INVALID_CREDENTIALS")
	}
	// Fixed windows may roll over once mid-test, so allow a second budget.
	var limited *http.Response
	for i := 0; i < 4 && limited == nil; i++ {
		resp, env := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
		if resp.StatusCode == http.StatusTooManyRequests {
			requireError(t, resp, env, http.StatusTooManyRequests, "RATE_LIMITED")
			limited = resp
		}
	}
	if limited == nil {
		t.Fatal("expected login to be rate limited")
	}
	if limited.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on limited login")
	}

	// Health probes are never limited.
	if resp, _ := ts.do(t, http.MethodGet, "/health/live", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected live probe to pass, got %d", resp.StatusCode)
	}
}
