package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/http/response"
	"github.com/sandeepkv93/device-presence-service/internal/observability"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

// RateLimitPolicy combines a sliding window cap with a token bucket that
// smooths bursts inside the window.
type RateLimitPolicy struct {
	Limit      int
	Window     time.Duration
	Burst      int
	RefillRate float64
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type KeyFunc func(r *http.Request) string

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc KeyFunc
	logger  *slog.Logger
}

// NewRateLimiter guards one route group. scope labels metrics and keeps keys
// of different groups apart in a shared backend.
func NewRateLimiter(limiter Limiter, perMinute int, mode FailureMode, scope string, keyFunc KeyFunc, logger *slog.Logger) *RateLimiter {
	if limiter == nil {
		limiter = NewLocalLimiter()
	}
	if scope == "" {
		scope = "api"
	}
	if keyFunc == nil {
		keyFunc = IPKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  PolicyPerMinute(perMinute),
		mode:    mode,
		scope:   scope,
		keyFunc: keyFunc,
		logger:  logger,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = IPKey(r)
			}
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				if rl.mode == FailOpen {
					rl.logger.Warn("rate limiter backend unavailable, allowing request", "scope", rl.scope, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				writeRateLimitHeaders(w.Header(), rl.policy.Limit, 0, time.Now().Add(rl.policy.Window))
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.Window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func IPKey(r *http.Request) string {
	if ip := ClientIP(r); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}

// PrincipalOrIPKey keys authenticated traffic by client so agents behind one
// NAT do not starve each other. It must run after AuthMiddleware.
func PrincipalOrIPKey(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return "client:" + strconv.FormatUint(uint64(p.ClientID), 10)
	}
	return IPKey(r)
}

func PolicyPerMinute(limit int) RateLimitPolicy {
	return normalizePolicy(RateLimitPolicy{Limit: limit, Window: time.Minute})
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	if policy.Burst < policy.Limit {
		policy.Burst = policy.Limit
	}
	if policy.RefillRate <= 0 {
		policy.RefillRate = float64(policy.Limit) / policy.Window.Seconds()
	}
	return policy
}

type localLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	store   map[string]*localState
	cleanup time.Time
}

type localState struct {
	tokens     float64
	lastRefill time.Time
	hits       []time.Time
}

// NewLocalLimiter keeps state in process memory. Used when no Redis is configured.
func NewLocalLimiter() Limiter {
	return newLocalLimiter(time.Now)
}

func newLocalLimiter(now func() time.Time) *localLimiter {
	return &localLimiter{now: now, store: make(map[string]*localState), cleanup: now().Add(time.Minute)}
}

func (l *localLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		for k, v := range l.store {
			if now.Sub(v.lastRefill) > 2*policy.Window {
				delete(l.store, k)
			}
		}
		l.cleanup = now.Add(policy.Window)
	}

	state, ok := l.store[key]
	if !ok {
		state = &localState{tokens: float64(policy.Burst), lastRefill: now}
		l.store[key] = state
	}
	if now.After(state.lastRefill) {
		elapsed := now.Sub(state.lastRefill).Seconds()
		state.tokens = min(float64(policy.Burst), state.tokens+elapsed*policy.RefillRate)
		state.lastRefill = now
	}

	cutoff := now.Add(-policy.Window)
	kept := state.hits[:0]
	for _, hit := range state.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	state.hits = kept

	var retry time.Duration
	if state.tokens < 1 {
		retry = time.Duration(math.Ceil((1 - state.tokens) / policy.RefillRate * float64(time.Second)))
	}
	if len(state.hits) >= policy.Limit {
		retry = max(retry, state.hits[0].Add(policy.Window).Sub(now))
	}

	allowed := retry <= 0
	if allowed {
		state.tokens = max(state.tokens-1, 0)
		state.hits = append(state.hits, now)
	} else if retry < time.Second {
		retry = time.Second
	}

	remaining := max(min(int(math.Floor(state.tokens)), policy.Limit-len(state.hits)), 0)
	resetAt := now.Add(policy.Window)
	if !allowed {
		resetAt = now.Add(retry)
	} else if len(state.hits) > 0 {
		resetAt = state.hits[0].Add(policy.Window)
	}
	return Decision{Allowed: allowed, RetryAfter: retry, Remaining: remaining, ResetAt: resetAt}, nil
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}
