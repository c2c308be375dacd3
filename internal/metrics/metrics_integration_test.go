package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/tileloader/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Enabled: true, Build: BuildInfo{Version: "test"}})
	start := time.Now()
	observability.ObserveTileLoad("osm", "ok", time.Since(start).Seconds())
	observability.ObserveTileLoad("osm", "decode", 0.010)

	observability.AddStoreHits(3)
	observability.AddStoreMisses(1)
	observability.ObserveStoreOp("mget", nil, 0.002)

	observability.SetIndexedTiles("osm", 42)
	observability.IncReconnect("osm", "idle")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`tile_load_duration_seconds_bucket`,
		`tile_store_op_duration_seconds_count`,
		`tile_store_results_total{outcome="hit"} `,
		`tile_store_results_total{outcome="miss"} `,
		`tiles_indexed{source="osm"} 42`,
		`tile_channel_reconnects_total{reason="idle",source="osm"} `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "tile_loads_total",
		`outcome="ok"`, `source="osm"`)
	assertHasMetricLine(t, body, "tile_loads_total",
		`outcome="decode"`, `source="osm"`)
	assertHasMetricLine(t, body, "tileloader_build_info",
		`version="test"`)
}
