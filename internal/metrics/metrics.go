// Package metrics registers the Prometheus collectors exposed on /metrics,
// wiring github.com/prometheus/client_golang into concrete counters, gauges,
// and a histogram the pipeline and publisher update directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the extractor exposes on /metrics.
type Metrics struct {
	RecordsProcessed *prometheus.CounterVec
	RecordsPublished *prometheus.CounterVec
	RecordsSkipped   *prometheus.CounterVec
	ConfirmLatency   *prometheus.HistogramVec
	ChannelDepth     *prometheus.GaugeVec
	CheckpointLag    *prometheus.GaugeVec
	DumpVersionInfo  *prometheus.GaugeVec
}

// New constructs every collector and registers it against reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RecordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_records_processed_total",
			Help: "Total top-level XML elements read, per entity class, regardless of outcome.",
		}, []string{"entity_class"}),
		RecordsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_records_published_total",
			Help: "Total records confirmed published to the broker, per entity class.",
		}, []string{"entity_class"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_records_skipped_total",
			Help: "Total records not published, per entity class and reason.",
		}, []string{"entity_class", "reason"}),
		ConfirmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extractor_publish_confirm_latency_seconds",
			Help:    "Time from publish submission to broker confirmation, per entity class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity_class"}),
		ChannelDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "extractor_channel_depth",
			Help: "Current depth of the bounded pipeline-to-publisher channel, per entity class.",
		}, []string{"entity_class"}),
		CheckpointLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "extractor_checkpoint_lag_records",
			Help: "Records processed since the last durable checkpoint, per entity class.",
		}, []string{"entity_class"}),
		DumpVersionInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "extractor_dump_version_info",
			Help: "Value 1 for the last successfully completed dump version.",
		}, []string{"version"}),
	}

	reg.MustRegister(
		m.RecordsProcessed,
		m.RecordsPublished,
		m.RecordsSkipped,
		m.ConfirmLatency,
		m.ChannelDepth,
		m.CheckpointLag,
		m.DumpVersionInfo,
	)
	return m
}

// Reasons for the {entity_class, reason} label pair on RecordsSkipped.
const (
	ReasonDedupHit  = "dedup_hit"
	ReasonMalformed = "malformed"
)
