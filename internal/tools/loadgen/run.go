package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config drives a synthetic agent fleet. Every worker shares one session.
type Config struct {
	BaseURL     string
	Email       string
	Password    string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Devices     int
	Seed        int64
}

type Result struct {
	TotalRequests int64            `json:"total_requests"`
	Failures      int64            `json:"failures"`
	ByClass       map[string]int64 `json:"by_class"`
	ByOperation   map[string]int64 `json:"by_operation"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type runner struct {
	cfg     Config
	client  *http.Client
	token   string
	devices []uint

	total    atomic.Int64
	failures atomic.Int64
	mu       sync.Mutex
	byClass  map[string]int64
	byOp     map[string]int64
}

func normalizeProfile(raw string) string {
	switch p := strings.ToLower(strings.TrimSpace(raw)); p {
	case "heartbeat", "connections", "chat":
		return p
	default:
		return "mixed"
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Run logs in, registers cfg.Devices synthetic devices and then issues
// requests at roughly cfg.RPS until cfg.Duration elapses or ctx ends.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg.Profile = normalizeProfile(cfg.Profile)
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Devices <= 0 {
		cfg.Devices = 5
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	r := &runner{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		byClass: map[string]int64{},
		byOp:    map[string]int64{},
	}
	if err := r.login(ctx); err != nil {
		return r.result(), err
	}
	if err := r.registerDevices(ctx); err != nil {
		return r.result(), err
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	jobs := make(chan int64)
	g, gctx := errgroup.WithContext(runCtx)
	for w := 0; w < cfg.Concurrency; w++ {
		rng := rand.New(rand.NewSource(cfg.Seed + int64(w)))
		g.Go(func() error {
			for n := range jobs {
				r.step(gctx, rng, n)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(jobs)
		ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
		defer ticker.Stop()
		var n int64
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				select {
				case jobs <- n:
					n++
				case <-gctx.Done():
					return nil
				}
			}
		}
	})
	_ = g.Wait()
	return r.result(), nil
}

func (r *runner) result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := Result{
		TotalRequests: r.total.Load(),
		Failures:      r.failures.Load(),
		ByClass:       make(map[string]int64, len(r.byClass)),
		ByOperation:   make(map[string]int64, len(r.byOp)),
	}
	for k, v := range r.byClass {
		res.ByClass[k] = v
	}
	for k, v := range r.byOp {
		res.ByOperation[k] = v
	}
	return res
}

func (r *runner) login(ctx context.Context) error {
	var out struct {
		Token string `json:"token"`
	}
	status, err := r.do(ctx, "login", http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": r.cfg.Email, "password": r.cfg.Password}, &out)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if status != http.StatusOK || out.Token == "" {
		return fmt.Errorf("login: unexpected status %d", status)
	}
	r.token = out.Token
	return nil
}

func (r *runner) registerDevices(ctx context.Context) error {
	for i := 0; i < r.cfg.Devices; i++ {
		var out struct {
			Device struct {
				ID uint `json:"id"`
			} `json:"device"`
		}
		body := map[string]any{
			"name":        fmt.Sprintf("loadgen-%d", i),
			"kind":        "synthetic",
			"hostname":    fmt.Sprintf("loadgen-%d.local", i),
			"os":          "linux",
			"local_ip":    fmt.Sprintf("10.99.0.%d", i%250+1),
			"mac_address": fmt.Sprintf("02:00:00:00:%02x:%02x", (i>>8)&0xff, i&0xff),
			"is_virtual":  true,
		}
		status, err := r.do(ctx, "register", http.MethodPost, "/api/v1/devices", body, &out)
		if err != nil {
			return fmt.Errorf("register device: %w", err)
		}
		if status != http.StatusCreated || out.Device.ID == 0 {
			return fmt.Errorf("register device: unexpected status %d", status)
		}
		r.devices = append(r.devices, out.Device.ID)
	}
	return nil
}

func (r *runner) step(ctx context.Context, rng *rand.Rand, n int64) {
	op := r.cfg.Profile
	if op == "mixed" {
		switch x := rng.Intn(10); {
		case x < 7:
			op = "heartbeat"
		case x < 9:
			op = "connections"
		default:
			op = "chat"
		}
	}
	device := r.devices[int(n)%len(r.devices)]
	var err error
	switch op {
	case "heartbeat":
		_, err = r.do(ctx, op, http.MethodPost, fmt.Sprintf("/api/v1/devices/%d/heartbeat", device), nil, nil)
	case "connections":
		body := map[string]any{"connections": []map[string]any{{
			"local_ip":    "10.99.0.1",
			"local_port":  40000 + rng.Intn(20000),
			"remote_ip":   fmt.Sprintf("198.51.100.%d", rng.Intn(250)+1),
			"remote_port": 443,
			"protocol":    "tcp",
			"state":       "established",
			"bytes_sent":  rng.Intn(1 << 20),
		}}}
		_, err = r.do(ctx, op, http.MethodPost, fmt.Sprintf("/api/v1/devices/%d/connections", device), body, nil)
	case "chat":
		body := map[string]string{"room": "loadgen", "body": fmt.Sprintf("tick %d", n)}
		_, err = r.do(ctx, op, http.MethodPost, "/api/v1/chat/messages", body, nil)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		r.failures.Add(1)
	}
}

func (r *runner) do(ctx context.Context, op, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(r.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	r.total.Add(1)
	r.mu.Lock()
	r.byClass[classifyStatusClass(resp.StatusCode)]++
	r.byOp[op]++
	r.mu.Unlock()
	if resp.StatusCode >= 400 {
		r.failures.Add(1)
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if out != nil {
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", op, err)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s data: %w", op, err)
		}
	}
	return resp.StatusCode, nil
}
