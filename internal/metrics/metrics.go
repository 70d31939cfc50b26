// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gallery build results.
const (
	BuildHit   = "hit"
	BuildMiss  = "miss"
	BuildEmpty = "empty"
)

var (
	// Gallery Metrics
	GalleryBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoesnap_gallery_builds_total",
			Help: "Total number of gallery builds by cache result",
		},
		[]string{"result"}, // "hit", "miss", "empty"
	)

	GallerySkippedFiles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shoesnap_gallery_skipped_files_total",
			Help: "Total number of gallery files skipped because they could not be decoded",
		},
	)

	GalleryBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shoesnap_gallery_build_duration_seconds",
			Help:    "Duration of gallery builds in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	GallerySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shoesnap_gallery_size",
			Help: "Number of entries in the current gallery snapshot",
		},
	)

	// Query Metrics
	AnalyzeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shoesnap_analyze_duration_seconds",
			Help:    "Duration of single-image analysis in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoesnap_search_requests_total",
			Help: "Total number of gallery similarity searches",
		},
		[]string{"backend"},
	)
)

// RecordGalleryBuild records one completed build.
func RecordGalleryBuild(result string, size, skipped int, duration time.Duration) {
	GalleryBuilds.WithLabelValues(result).Inc()
	GallerySkippedFiles.Add(float64(skipped))
	GalleryBuildDuration.Observe(duration.Seconds())
	GallerySize.Set(float64(size))
}

// RecordAnalyze records the duration of one analysis.
func RecordAnalyze(duration time.Duration) {
	AnalyzeDuration.Observe(duration.Seconds())
}

// RecordSearch counts one search against the given backend.
func RecordSearch(backend string) {
	SearchRequests.WithLabelValues(backend).Inc()
}
