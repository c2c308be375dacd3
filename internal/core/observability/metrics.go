// Package observability holds the process-wide tile pipeline collectors.
// Collectors always record; Init decides which registry exposes them.
// Pipeline series carry the name of the tile source they belong to.
package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tileLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_loads_total",
			Help: "Tile loads by outcome.",
		},
		[]string{"outcome", "source"},
	)

	tileLoadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_load_duration_seconds",
			Help:    "Time from job start to published or failed tile.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"source"},
	)

	channelRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_channel_requests_total",
			Help: "Requests sent over tile channels by result.",
		},
		[]string{"result", "source"},
	)

	channelReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_channel_reconnects_total",
			Help: "Sockets (re)opened by reason.",
		},
		[]string{"reason", "source"},
	)

	channelBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_channel_body_bytes_total",
			Help: "Response body bytes read.",
		},
		[]string{"source"},
	)

	schedulePass = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_schedule_pass_seconds",
			Help:    "Duration of scheduler recompute passes.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		},
		[]string{"source"},
	)

	jobsQueued = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tile_jobs_queued",
		Help: "Jobs handed to the worker pool in the last pass.",
	}, []string{"source"})

	tilesIndexed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tiles_indexed",
		Help: "Tiles currently held by the spatial index.",
	}, []string{"source"})

	pendingNewData = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tiles_pending_consume",
		Help: "Decoded tiles not yet consumed.",
	}, []string{"source"})

	evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_evictions_total",
			Help: "Tiles removed from the cache by reason.",
		},
		[]string{"reason", "source"},
	)

	storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_store_ops_total",
			Help: "Second-level store operations by result.",
		},
		[]string{"op", "result"},
	)

	storeOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_store_op_duration_seconds",
			Help:    "Second-level store operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
		[]string{"op"},
	)

	storeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_store_results_total",
			Help: "Second-level store lookups by outcome.",
		},
		[]string{"outcome"},
	)

	invalidationLag = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tile_invalidation_lag_seconds",
		Help: "Now minus the timestamp of the last invalidation message.",
	})
)

func collectorsList() []prometheus.Collector {
	return []prometheus.Collector{
		tileLoads, tileLoadSeconds, channelRequests, channelReconnects, channelBytes,
		schedulePass, jobsQueued, tilesIndexed, pendingNewData, evictions,
		storeOps, storeOpSeconds, storeResults, invalidationLag,
	}
}

// Init registers the collectors with reg when enabled. It may be called for
// several registries.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectorsList() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveTileLoad(source, outcome string, seconds float64) {
	tileLoads.WithLabelValues(outcome, source).Inc()
	tileLoadSeconds.WithLabelValues(source).Observe(seconds)
}

func ObserveChannelRequest(source, result string) {
	channelRequests.WithLabelValues(result, source).Inc()
}

func IncReconnect(source, reason string) {
	channelReconnects.WithLabelValues(reason, source).Inc()
}

func AddChannelBytes(source string, n int) {
	if n > 0 {
		channelBytes.WithLabelValues(source).Add(float64(n))
	}
}

func ObserveSchedulePass(source string, seconds float64, jobs int) {
	schedulePass.WithLabelValues(source).Observe(seconds)
	jobsQueued.WithLabelValues(source).Set(float64(jobs))
}

func SetIndexedTiles(source string, n int) { tilesIndexed.WithLabelValues(source).Set(float64(n)) }

func SetPendingNewData(source string, n int) {
	pendingNewData.WithLabelValues(source).Set(float64(n))
}

func AddEvictions(source, reason string, n int) {
	if n > 0 {
		evictions.WithLabelValues(reason, source).Add(float64(n))
	}
}

func ObserveStoreOp(op string, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOps.WithLabelValues(op, result).Inc()
	storeOpSeconds.WithLabelValues(op).Observe(seconds)
}

func AddStoreHits(n int) {
	if n > 0 {
		storeResults.WithLabelValues("hit").Add(float64(n))
	}
}

func AddStoreMisses(n int) {
	if n > 0 {
		storeResults.WithLabelValues("miss").Add(float64(n))
	}
}

func SetInvalidationLagSeconds(v float64) { invalidationLag.Set(v) }
