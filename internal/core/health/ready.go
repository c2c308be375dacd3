package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// CheckFunc reports why a dependency is not ready.
type CheckFunc func(ctx context.Context) error

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Partitions fails until rr holds at least one partition.
func Partitions(rr ReadinessReporter) CheckFunc {
	return func(context.Context) error {
		ready, parts := rr.Readiness()
		if !ready || len(parts) == 0 {
			return errors.New("no partitions assigned")
		}
		return nil
	}
}

// Readiness runs every check with a shared timeout and answers 503 when
// any fails.
func Readiness(timeout time.Duration, checks map[string]CheckFunc) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		out := resp{Status: "ready", Checks: make(map[string]string, len(names))}
		for _, n := range names {
			if err := checks[n](ctx); err != nil {
				out.Status = "not_ready"
				out.Checks[n] = fmt.Sprintf("error: %v", err)
				continue
			}
			out.Checks[n] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
