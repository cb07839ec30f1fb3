package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/device-presence-service/internal/service"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, RateLimitPolicy) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLocalLimiterBlocksAfterLimitAndRecovers(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter := newLocalLimiter(func() time.Time { return now })
	policy := PolicyPerMinute(3)

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(context.Background(), "ip:1", policy)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allow, got %+v err=%v", i, d, err)
		}
	}
	d, _ := limiter.Allow(context.Background(), "ip:1", policy)
	if d.Allowed {
		t.Fatal("expected fourth request to be limited")
	}
	if d.RetryAfter < time.Second {
		t.Fatalf("expected retry-after of at least a second, got %s", d.RetryAfter)
	}
	if other, _ := limiter.Allow(context.Background(), "ip:2", policy); !other.Allowed {
		t.Fatal("expected separate key to have its own budget")
	}

	now = now.Add(time.Minute + time.Second)
	if d, _ := limiter.Allow(context.Background(), "ip:1", policy); !d.Allowed {
		t.Fatalf("expected allow after window, got %+v", d)
	}
}

func TestRateLimiterMiddlewareHeadersAnd429(t *testing.T) {
	rl := NewRateLimiter(NewLocalLimiter(), 1, FailClosed, "auth", IPKey, nil)
	h := rl.Middleware()(okHandler())

	first := hit(h, "203.0.113.9:1000")
	if first.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("expected limit header, got %q", first.Header().Get("X-RateLimit-Limit"))
	}
	second := hit(h, "203.0.113.9:1001")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRateLimiterFailureModes(t *testing.T) {
	open := NewRateLimiter(failingLimiter{}, 10, FailOpen, "api", nil, nil).Middleware()(okHandler())
	if rr := hit(open, "203.0.113.1:1"); rr.Code != http.StatusNoContent {
		t.Fatalf("fail open: expected 204, got %d", rr.Code)
	}
	closed := NewRateLimiter(failingLimiter{}, 10, FailClosed, "api", nil, nil).Middleware()(okHandler())
	if rr := hit(closed, "203.0.113.1:1"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("fail closed: expected 429, got %d", rr.Code)
	}
}

func TestPrincipalOrIPKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:80"
	if got := PrincipalOrIPKey(req); got != "ip:192.0.2.1" {
		t.Fatalf("expected ip key, got %q", got)
	}
	ctx := context.WithValue(req.Context(), PrincipalContextKey, &service.Principal{ClientID: 7})
	if got := PrincipalOrIPKey(req.WithContext(ctx)); got != "client:7" {
		t.Fatalf("expected client key, got %q", got)
	}
}

func TestRedisLimiterSharesCounterAcrossInstances(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC)
	server.SetTime(now)
	a := NewRedisLimiter(client, "")
	b := NewRedisLimiter(client, "")
	a.now = func() time.Time { return now }
	b.now = a.now
	policy := PolicyPerMinute(2)

	if d, err := a.Allow(context.Background(), "auth:ip:1", policy); err != nil || !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first: %+v err=%v", d, err)
	}
	if d, _ := b.Allow(context.Background(), "auth:ip:1", policy); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("second: %+v", d)
	}
	d, _ := a.Allow(context.Background(), "auth:ip:1", policy)
	if d.Allowed {
		t.Fatal("expected third request across instances to be limited")
	}
	if d.RetryAfter != 50*time.Second {
		t.Fatalf("expected retry until window end, got %s", d.RetryAfter)
	}

	server.Close()
	if _, err := a.Allow(context.Background(), "auth:ip:1", policy); err == nil {
		t.Fatal("expected error when redis is down")
	}
}
