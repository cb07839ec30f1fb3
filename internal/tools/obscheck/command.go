package obscheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/device-presence-service/internal/tools/common"
	"github.com/sandeepkv93/device-presence-service/internal/tools/loadgen"
	"github.com/sandeepkv93/device-presence-service/internal/tools/ui"
)

type options struct {
	grafanaURL      string
	grafanaUser     string
	grafanaPassword string
	serviceName     string
	window          time.Duration
	ci              bool
	baseURL         string
	email           string
	password        string
	settle          time.Duration
}

// counterCheck is a PromQL sum that must be positive after traffic.
type counterCheck struct {
	label string
	query string
}

var presenceCounters = []counterCheck{
	{label: "applied heartbeats", query: `sum(presence_heartbeats_total{outcome="applied"})`},
	{label: "registered devices", query: `sum(presence_device_registrations_total)`},
	{label: "audit appends", query: `sum(audit_entries_appended_total{outcome="success"})`},
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "obscheck", Short: "Check that presence telemetry reaches the LGTM stack"}
	f := cmd.PersistentFlags()
	f.StringVar(&opts.grafanaURL, "grafana-url", "http://localhost:3000", "Grafana base URL")
	f.StringVar(&opts.grafanaUser, "grafana-user", "admin", "Grafana username")
	f.StringVar(&opts.grafanaPassword, "grafana-password", "admin", "Grafana password")
	f.StringVar(&opts.serviceName, "service-name", "device-presence-service", "OTel service name")
	f.DurationVar(&opts.window, "window", 20*time.Minute, "query lookback window")
	f.DurationVar(&opts.settle, "settle", 8*time.Second, "wait between traffic and queries")
	f.BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	f.StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL for traffic")
	f.StringVar(&opts.email, "email", os.Getenv("BOOTSTRAP_ADMIN_EMAIL"), "client email used by the traffic generator")
	f.StringVar(&opts.password, "password", os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"), "client password used by the traffic generator")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Drive agent traffic, then follow an exemplar to its trace and logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			details, err := run(opts, "obscheck run", func(ctx context.Context, progress ui.Progress) ([]string, error) {
				return checkPipeline(ctx, opts, progress)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "obscheck run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

func checkPipeline(ctx context.Context, opts *options, progress ui.Progress) ([]string, error) {
	progress("driving agent fleet")
	started := time.Now()
	res, err := loadgen.Run(ctx, loadgen.Config{
		BaseURL:     opts.baseURL,
		Email:       opts.email,
		Password:    opts.password,
		Profile:     "mixed",
		Duration:    6 * time.Second,
		RPS:         20,
		Concurrency: 6,
		Devices:     4,
		Seed:        42,
	})
	if err != nil {
		return nil, err
	}
	details := []string{fmt.Sprintf("traffic total=%d failures=%d", res.TotalRequests, res.Failures)}

	progress("waiting for telemetry export")
	select {
	case <-ctx.Done():
		return details, ctx.Err()
	case <-time.After(opts.settle):
	}

	g := newGrafana(*opts)
	for _, c := range presenceCounters {
		progress("querying " + c.label)
		v, err := g.counterSum(ctx, c.query)
		if err != nil {
			return details, fmt.Errorf("%s: %w", c.label, err)
		}
		details = append(details, fmt.Sprintf("%s=%.0f", c.label, v))
	}

	progress("querying exemplars")
	traceID, err := g.newestExemplar(ctx, "http_server_request_duration_seconds_bucket", started.Add(-time.Minute))
	if err != nil {
		return details, err
	}
	details = append(details, "exemplar trace_id="+traceID)

	progress("looking up trace in tempo")
	if err := g.traceExists(ctx, traceID); err != nil {
		return details, err
	}
	details = append(details, "tempo trace lookup: ok")

	progress("correlating logs in loki")
	if err := g.logsForTrace(ctx, traceID); err != nil {
		return details, err
	}
	details = append(details, "loki trace correlation: ok")
	return details, nil
}

func run(opts *options, title string, fn func(context.Context, ui.Progress) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx, func(string) {})
	}
	return ui.Run(title, fn)
}

type grafana struct {
	opts   options
	client *http.Client
	// retries and backoff bound the polling of eventually consistent backends.
	retries int
	backoff time.Duration
}

func newGrafana(opts options) *grafana {
	return &grafana{opts: opts, client: &http.Client{Timeout: 20 * time.Second}, retries: 5, backoff: 2 * time.Second}
}

func (g *grafana) get(ctx context.Context, path string, dst any) error {
	base, err := url.Parse(g.opts.grafanaURL)
	if err != nil {
		return err
	}
	rel, err := url.Parse(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.ResolveReference(rel).String(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.opts.grafanaUser, g.opts.grafanaPassword)
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("grafana %s: %s", rel.Path, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

// poll retries fn until it succeeds or the retry budget is spent.
func (g *grafana) poll(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < g.retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.backoff):
		}
	}
	return err
}

func (g *grafana) counterSum(ctx context.Context, query string) (float64, error) {
	var payload struct {
		Data struct {
			Result []struct {
				Value [2]json.RawMessage `json:"value"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := g.get(ctx, "/api/datasources/proxy/uid/mimir/api/v1/query?query="+url.QueryEscape(query), &payload); err != nil {
		return 0, err
	}
	if len(payload.Data.Result) == 0 {
		return 0, fmt.Errorf("no series for %s", query)
	}
	var raw string
	if err := json.Unmarshal(payload.Data.Result[0].Value[1], &raw); err != nil {
		return 0, fmt.Errorf("decode sample: %w", err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sample %q: %w", raw, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("counter is zero")
	}
	return v, nil
}

func (g *grafana) newestExemplar(ctx context.Context, metric string, notBefore time.Time) (string, error) {
	now := time.Now()
	path := fmt.Sprintf("/api/datasources/proxy/uid/mimir/api/v1/query_exemplars?query=%s&start=%d&end=%d",
		url.QueryEscape(metric), now.Add(-g.opts.window).Unix(), now.Unix())
	var payload struct {
		Data []struct {
			Exemplars []struct {
				Labels    map[string]string `json:"labels"`
				Timestamp float64           `json:"timestamp"`
			} `json:"exemplars"`
		} `json:"data"`
	}
	if err := g.get(ctx, path, &payload); err != nil {
		return "", err
	}
	var best string
	var bestTS float64
	for _, series := range payload.Data {
		for _, e := range series.Exemplars {
			tid := e.Labels["trace_id"]
			if len(tid) != 32 || e.Timestamp < float64(notBefore.Unix()) || e.Timestamp <= bestTS {
				continue
			}
			best, bestTS = tid, e.Timestamp
		}
	}
	if best == "" {
		return "", fmt.Errorf("no trace_id exemplar on %s since %s", metric, notBefore.Format(time.RFC3339))
	}
	return best, nil
}

func (g *grafana) traceExists(ctx context.Context, traceID string) error {
	return g.poll(ctx, func() error {
		var payload struct {
			Batches []json.RawMessage `json:"batches"`
		}
		if err := g.get(ctx, "/api/datasources/proxy/uid/tempo/api/traces/"+traceID, &payload); err != nil {
			return err
		}
		if len(payload.Batches) == 0 {
			return fmt.Errorf("tempo trace %s has no batches yet", traceID)
		}
		return nil
	})
}

func (g *grafana) logsForTrace(ctx context.Context, traceID string) error {
	end := time.Now()
	start := end.Add(-30 * time.Minute)
	query := fmt.Sprintf(`{service_name=%q} | json | trace_id=%q`, g.opts.serviceName, traceID)
	path := fmt.Sprintf("/api/datasources/proxy/uid/loki/loki/api/v1/query_range?query=%s&start=%d&end=%d&limit=1&direction=backward",
		url.QueryEscape(query), start.UnixNano(), end.UnixNano())
	return g.poll(ctx, func() error {
		var payload struct {
			Data struct {
				Result []json.RawMessage `json:"result"`
			} `json:"data"`
		}
		if err := g.get(ctx, path, &payload); err != nil {
			return err
		}
		if len(payload.Data.Result) == 0 {
			return fmt.Errorf("no loki logs for trace_id %s", traceID)
		}
		return nil
	})
}
