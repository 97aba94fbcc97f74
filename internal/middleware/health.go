package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker defines interface for health checking
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// DatabaseHealthChecker pings the pool.
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.DB.PingContext(ctx)
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckStatus `json:"checks"`
}

type CheckStatus struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
}

// Health serves /health, /ready and /live. Readiness is off until SetReady
// is called and can be switched off again while draining.
type Health struct {
	checkers map[string]HealthChecker
	timeout  time.Duration
	started  time.Time
	ready    atomic.Bool
}

func NewHealth(checkers map[string]HealthChecker) *Health {
	return &Health{checkers: checkers, timeout: 5 * time.Second, started: time.Now()}
}

func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// Handler runs every checker concurrently and answers 503 if any fails.
func (h *Health) Handler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var mu sync.Mutex
	checks := make(map[string]CheckStatus, len(h.checkers))
	var g errgroup.Group
	for name, checker := range h.checkers {
		g.Go(func() error {
			start := time.Now()
			err := checker.Check(ctx)
			st := CheckStatus{Status: "healthy", Duration: time.Since(start).String()}
			if err != nil {
				st.Status, st.Message = "unhealthy", err.Error()
			}
			mu.Lock()
			checks[name] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    checks,
	}
	statusCode := http.StatusOK
	for _, c := range checks {
		if c.Status != "healthy" {
			health.Status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}
	writeJSONStatus(w, statusCode, health)
}

// Ready answers 503 until SetReady(true).
func (h *Health) Ready(w http.ResponseWriter, r *http.Request) {
	status, code := "ready", http.StatusOK
	if !h.ready.Load() {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	writeJSONStatus(w, code, map[string]any{"status": status, "timestamp": time.Now().UTC()})
}

// Live always answers ok while the process serves HTTP.
func (h *Health) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
