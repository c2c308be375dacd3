// Package server exposes the daemon's health, metrics and tile cache
// inspection endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/tileloader/internal/core/health"
	"github.com/mohammed-shakir/tileloader/internal/core/middleware"
	"github.com/mohammed-shakir/tileloader/internal/scheduler"
)

// TileCache is the read side of a scheduler.Manager.
type TileCache interface {
	Stats() scheduler.Stats
	VisibleTiles() []scheduler.TileInfo
	Tiles() []scheduler.TileInfo
}

type Deps struct {
	Metrics     http.Handler
	MetricsPath string
	Ready       map[string]health.CheckFunc
	// Caches maps source names to their tile caches.
	Caches map[string]TileCache
}

// NewRouter builds the chi router. It is separate from Run for tests.
func NewRouter(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, d.Ready))
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, d.Metrics)
	}

	r.Route("/debug/tiles", func(r chi.Router) {
		r.Get("/", summary(d.Caches))
		r.Get("/{source}", detail(d.Caches))
	})
	return r
}

type tileView struct {
	Tile     string  `json:"tile"`
	State    string  `json:"state"`
	Active   bool    `json:"active,omitempty"`
	Stale    bool    `json:"stale,omitempty"`
	Distance float64 `json:"distance"`
}

func views(in []scheduler.TileInfo) []tileView {
	out := make([]tileView, 0, len(in))
	for _, t := range in {
		out = append(out, tileView{
			Tile:     t.ID.String(),
			State:    t.State.String(),
			Active:   t.Active,
			Stale:    t.Stale,
			Distance: t.Distance,
		})
	}
	return out
}

func summary(caches map[string]TileCache) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out := make(map[string]scheduler.Stats, len(caches))
		for name, c := range caches {
			out[name] = c.Stats()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func detail(caches map[string]TileCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := caches[chi.URLParam(r, "source")]
		if !ok {
			http.Error(w, "unknown source", http.StatusNotFound)
			return
		}
		var tiles []scheduler.TileInfo
		if r.URL.Query().Get("all") == "true" {
			tiles = c.Tiles()
			sort.Slice(tiles, func(i, j int) bool { return tiles[i].Distance < tiles[j].Distance })
		} else {
			tiles = c.VisibleTiles()
		}
		writeJSON(w, http.StatusOK, struct {
			Stats scheduler.Stats `json:"stats"`
			Tiles []tileView      `json:"tiles"`
		}{c.Stats(), views(tiles)})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves h on addr until ctx is canceled.
func Run(ctx context.Context, addr string, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
