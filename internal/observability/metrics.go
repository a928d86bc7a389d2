// Package observability exposes Prometheus metrics for the library. Collectors
// register against the default registry; consumers that expose /metrics pick
// them up without extra wiring.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "itslive_upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"upstream"},
	)

	catalogBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itslive_catalog_builds_total",
			Help: "Catalog builds by region and outcome.",
		},
		[]string{"region", "outcome"},
	)

	tileDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itslive_tile_downloads_total",
			Help: "Tile downloads by outcome.",
		},
		[]string{"outcome"},
	)

	chunkCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itslive_chunk_cache_results_total",
			Help: "Chunk cache results by outcome.",
		},
		[]string{"outcome"},
	)

	chunkBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "itslive_chunk_bytes_read_total",
			Help: "Compressed chunk bytes read from the object store.",
		},
	)
)

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncCatalogBuild(region string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	catalogBuildsTotal.WithLabelValues(region, outcome).Inc()
}

func IncTileDownload(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	tileDownloadsTotal.WithLabelValues(outcome).Inc()
}

func IncChunkCacheHit()  { chunkCacheResults.WithLabelValues("hit").Inc() }
func IncChunkCacheMiss() { chunkCacheResults.WithLabelValues("miss").Inc() }

func AddChunkBytes(n int) {
	if n > 0 {
		chunkBytesTotal.Add(float64(n))
	}
}
