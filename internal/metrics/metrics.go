// Package metrics exposes Prometheus collectors for the sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline's collectors. One instance is threaded
// through the constructors; there is no process-global registry use.
type Metrics struct {
	Registry *prometheus.Registry

	StateTransitions  *prometheus.CounterVec
	QuotaUsed         *prometheus.GaugeVec
	QueueDepth        *prometheus.GaugeVec
	DownloadedBytes   prometheus.Counter
	UploadedBytes     prometheus.Counter
	StorageNodeProbe  *prometheus.GaugeVec
	PollCycleDuration prometheus.Histogram
}

// New creates and registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytsynch_video_state_transitions_total",
			Help: "Video lifecycle transitions, labelled by target state.",
		}, []string{"to"}),
		QuotaUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ytsynch_quota_used",
			Help: "Units consumed from the daily API quota, per pool.",
		}, []string{"pool"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ytsynch_stage_queue_depth",
			Help: "Messages waiting per pipeline stage queue.",
		}, []string{"stage"}),
		DownloadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytsynch_downloaded_bytes_total",
			Help: "Media bytes fetched from the external platform.",
		}),
		UploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytsynch_uploaded_bytes_total",
			Help: "Asset bytes accepted by storage nodes.",
		}),
		StorageNodeProbe: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ytsynch_storage_node_response_seconds",
			Help: "Last measured storage-node response time.",
		}, []string{"bucket"}),
		PollCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ytsynch_poll_cycle_seconds",
			Help:    "Wall time of a full metadata poll cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	registry.MustRegister(
		m.StateTransitions,
		m.QuotaUsed,
		m.QueueDepth,
		m.DownloadedBytes,
		m.UploadedBytes,
		m.StorageNodeProbe,
		m.PollCycleDuration,
	)

	return m
}
