package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/resilience"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the process-wide readiness flag; shutdown sets it to false so
// load balancers drain the instance before the server stops.
func SetReady(v bool) { ready.Store(v) }

// Dependency checks one backing service. Optional dependencies are reported but never fail readiness.
type Dependency struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(ctx context.Context) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Dependencies []Dependency
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency checks.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	status := make(map[string]string, len(h.Dependencies)+1)
	healthy := true
	for _, p := range h.Dependencies {
		if err := p.run(r.Context()); err != nil {
			status[p.Name] = err.Error()
			if !p.Optional {
				healthy = false
			}
			continue
		}
		status[p.Name] = "ok"
	}
	code := http.StatusOK
	status["status"] = "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		status["status"] = "unavailable"
	}
	common.JSON(w, code, status)
}

func (p Dependency) run(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Check(ctx)
}

// Postgres checks the ledger pool.
func Postgres(pool *pgxpool.Pool) Dependency {
	return Dependency{Name: "db", Check: pool.Ping}
}

// Redis checks the session store.
func Redis(client *redis.Client) Dependency {
	return Dependency{Name: "redis", Timeout: 300 * time.Millisecond, Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// Breaker reports an open upstream breaker without failing readiness.
func Breaker(name string, b *resilience.Breaker) Dependency {
	return Dependency{Name: name, Optional: true, Check: func(context.Context) error {
		if b.State() == resilience.Open {
			return resilience.ErrOpenCircuit
		}
		return nil
	}}
}
