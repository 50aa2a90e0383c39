// README: Smoke cases against the dispatch API: DB/Redis reachability, schema, auth, order intake and a health load check.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "store",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusSkip, Note: "dsn not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "cache/locks",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: statusSkip, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name:  "Migration: apply",
			Focus: "schema",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: statusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: statusFail, Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "schema",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusSkip, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: statusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: statusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
			},
		},

		httpCase("API: health", http.MethodGet, base+"/health", nil, "", []int{200}),
		{
			Name:  "API: metrics exposed",
			Focus: "observability",
			Run: func(ctx context.Context, r *Runner) Result {
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/metrics", nil)
				start := time.Now()
				resp, err := r.httpc.Do(req)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				latency := time.Since(start)
				if resp.StatusCode != http.StatusOK {
					return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				if !strings.Contains(string(body), "dispatch_") {
					return Result{Status: statusFail, Latency: latency, Note: "no dispatch_ series"}
				}
				return Result{Status: statusPass, Latency: latency}
			},
		},

		// Auth
		httpCase("Auth: create order without token -> 401", http.MethodPost, base+"/api/orders", newOrderBody(), "", []int{401}),
		httpCase("Auth: admin jobs without token -> 401", http.MethodGet, base+"/api/admin/jobs", nil, "", []int{401}),
		tokenCase("Auth: admin jobs as customer -> 403", http.MethodGet, base+"/api/admin/jobs", nil, r.cfg.Token, []int{403}),

		// Orders
		tokenCase("Order: create (valid)", http.MethodPost, base+"/api/orders", newOrderBody(), r.cfg.Token, []int{201}),
		tokenCase("Order: create (missing address -> 400)", http.MethodPost, base+"/api/orders", map[string]any{
			"weight": 5,
		}, r.cfg.Token, []int{400}),
		tokenCase("Order: create (bad weight -> 400)", http.MethodPost, base+"/api/orders", map[string]any{
			"pickup_address":  "25.0330,121.5654",
			"dropoff_address": "25.0478,121.5318",
			"weight":          -1,
		}, r.cfg.Token, []int{400}),
		tokenCase("Order: get unknown -> 404", http.MethodGet, base+"/api/orders/999999999", nil, r.cfg.AdminToken, []int{404}),
		tokenCase("Order: eta unknown -> 404", http.MethodGet, base+"/api/orders/999999999/eta", nil, r.cfg.AdminToken, []int{404}),

		// Admin
		tokenCase("Admin: list jobs", http.MethodGet, base+"/api/admin/jobs", nil, r.cfg.AdminToken, []int{200}),
		tokenCase("Admin: run unknown job -> 404", http.MethodPost, base+"/api/admin/jobs/nope/run", nil, r.cfg.AdminToken, []int{404}),

		// Load
		{
			Name:  "Perf: health throughput",
			Focus: "router overhead",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodGet, base+"/health", nil, "")
			},
		},
		{
			Name:  "Perf: order intake throughput",
			Focus: "create + async allocate",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.Token == "" {
					return Result{Status: statusSkip, Note: "token not configured"}
				}
				return perfLoad(ctx, r, http.MethodPost, base+"/api/orders", newOrderBody(), r.cfg.Token)
			},
		},
	}
}

// newOrderBody uses "lat,lng" addresses so the offline geocoder can resolve them.
func newOrderBody() map[string]any {
	return map[string]any{
		"pickup_address":  "25.0330,121.5654",
		"dropoff_address": "25.0478,121.5318",
		"weight":          5,
	}
}

// tokenCase is an httpCase that is skipped when no token was configured.
func tokenCase(name, method, url string, body any, token string, okStatuses []int) TestCase {
	tc := httpCase(name, method, url, body, token, okStatuses)
	if token != "" {
		return tc
	}
	tc.Run = func(ctx context.Context, r *Runner) Result {
		return Result{Status: statusSkip, Note: "token not configured"}
	}
	return tc
}

func httpCase(name, method, url string, body any, token string, okStatuses []int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			resp, err := r.do(ctx, method, url, body, token)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			latency := time.Since(start)

			note := fmt.Sprintf("status=%d", resp.StatusCode)
			if contains(okStatuses, resp.StatusCode) {
				return Result{Status: statusPass, Latency: latency, Note: note}
			}
			return Result{Status: statusFail, Latency: latency, Note: note}
		},
	}
}

func (r *Runner) do(ctx context.Context, method, url string, body any, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return r.httpc.Do(req)
}

func perfLoad(ctx context.Context, r *Runner, method, url string, payload any, token string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount, non2xx int64
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				resp, err := r.do(ctx, method, url, payload, token)
				if err != nil {
					atomic.AddInt64(&errCount, 1)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode >= 300 {
					atomic.AddInt64(&non2xx, 1)
				}
				atomic.AddInt64(&count, 1)
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	note := fmt.Sprintf("rps=%.1f errors=%d non2xx=%d", rps, errCount, non2xx)
	if non2xx > 0 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
