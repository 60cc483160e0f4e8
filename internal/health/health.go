// Package health serves the daemon's liveness and readiness probes.
//
// /healthz always answers 200 while the process serves HTTP. /readyz runs
// every registered Check concurrently and answers 200 only when all pass;
// the body lists each check as "ok" or "fail: <reason>".
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 3 * time.Second

// Check is one named readiness probe. Fn must respect ctx.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz.
type Handler struct {
	checks []Check
}

// New returns a Handler for checks. The list is copied.
func New(checks ...Check) *Handler {
	return &Handler{checks: append([]Check(nil), checks...)}
}

// Register mounts the probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(h.checks))
		failed  bool
	)
	var g errgroup.Group
	for _, c := range h.checks {
		g.Go(func() error {
			err := c.Fn(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[c.Name] = "fail: " + err.Error()
				failed = true
			} else {
				results[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := report{Status: "ok", Checks: results}
	status := http.StatusOK
	if failed {
		rep.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
