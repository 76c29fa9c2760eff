// Package metrics registers the Prometheus instrumentation surfaced on
// "GET /metrics" (spec §6): HTTP request shape, swarm throughput, and
// pipeline-stage progress.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamcore",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streamcore",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "route"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamcore",
		Name:      "active_sessions",
		Help:      "Number of currently admitted swarm sessions.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamcore",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamcore",
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamcore",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all admitted sessions.",
	})

	PipelineActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamcore",
		Name:      "pipeline_active_workers",
		Help:      "Number of pipeline workers currently driving an asset.",
	})

	PipelineStageTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamcore",
		Name:      "pipeline_stage_transitions_total",
		Help:      "Total asset status transitions by from/to state.",
	}, []string{"from", "to"})

	PipelineSegmentExtractionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamcore",
		Name:      "pipeline_segment_extractions_total",
		Help:      "Total ffmpeg segment extraction attempts by outcome.",
	}, []string{"outcome"})

	PipelineSegmentExtractDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streamcore",
		Name:      "pipeline_segment_extract_duration_seconds",
		Help:      "Duration of one ffmpeg segment extraction, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	PipelineAssetFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamcore",
		Name:      "pipeline_asset_failures_total",
		Help:      "Total number of assets that ended in the ERROR state.",
	})

	StoreEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamcore",
		Name:      "store_evictions_total",
		Help:      "Total number of stale assets evicted from disk.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
		PipelineActiveWorkers,
		PipelineStageTransitionsTotal,
		PipelineSegmentExtractionsTotal,
		PipelineSegmentExtractDuration,
		PipelineAssetFailuresTotal,
		StoreEvictionsTotal,
	)
}
