// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listpub_refresh_total",
		Help: "Refresh runs by outcome",
	}, []string{"outcome"}) // outcome=success|partial|failure

	refreshDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "listpub_refresh_duration_seconds",
		Help:    "Wall-clock time of a full refresh run",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	artifactEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "listpub_artifact_entries",
		Help: "Entries written per artifact in the last successful build",
	}, []string{"artifact"})

	artifactWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listpub_artifact_write_errors_total",
		Help: "Artifact publish failures by artifact",
	}, []string{"artifact"})

	artifactBuildErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listpub_artifact_build_errors_total",
		Help: "Artifact build failures by artifact",
	}, []string{"artifact"})

	metadataRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listpub_metadata_requests_total",
		Help: "Metadata API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"}) // outcome=success|failure

	cacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listpub_cache_ops_total",
		Help: "Metadata cache lookups by result",
	}, []string{"result"}) // result=hit|miss|error

	epgSourcesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listpub_epg_sources_total",
		Help: "EPG source fetches by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	fileRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listpub_file_requests_total",
		Help: "Published artifact downloads by status class",
	}, []string{"status"}) // status=2xx|3xx|4xx|5xx
)

func IncRefresh(outcome string)          { refreshTotal.WithLabelValues(outcome).Inc() }
func ObserveRefreshDuration(sec float64) { refreshDurationSeconds.Observe(sec) }

func RecordArtifactEntries(artifact string, n int) {
	artifactEntries.WithLabelValues(artifact).Set(float64(n))
}
func IncArtifactWriteError(artifact string) { artifactWriteErrors.WithLabelValues(artifact).Inc() }
func IncArtifactBuildError(artifact string) { artifactBuildErrors.WithLabelValues(artifact).Inc() }

func IncMetadataRequest(endpoint, outcome string) {
	metadataRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

func IncCacheHit()   { cacheOpsTotal.WithLabelValues("hit").Inc() }
func IncCacheMiss()  { cacheOpsTotal.WithLabelValues("miss").Inc() }
func IncCacheError() { cacheOpsTotal.WithLabelValues("error").Inc() }

func IncEPGSource(outcome string) { epgSourcesTotal.WithLabelValues(outcome).Inc() }

func IncFileRequest(status string) { fileRequestsTotal.WithLabelValues(status).Inc() }
