// Package metrics registers the Prometheus collectors shared across the
// ingestion, aggregation, and inference paths. A single *Metrics is
// built once at startup and threaded explicitly into every component
// that records against it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the service exports. A single
// instance is constructed at startup and passed explicitly to every
// component that needs to record against it.
type Metrics struct {
	Registry *prometheus.Registry

	ReportsIngested   *prometheus.CounterVec
	ReportsRejected   *prometheus.CounterVec
	WorkerBatches     prometheus.Counter
	WorkerBatchErrors *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	InferenceLatency  *prometheus.HistogramVec
	InferenceOutcomes *prometheus.CounterVec
	CacheHits         *prometheus.CounterVec
	PartitionsCreated prometheus.Counter
	PartitionsDropped prometheus.Counter
}

// New constructs and registers every collector against a fresh
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	m := &Metrics{
		Registry: reg,
		ReportsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoloc_reports_ingested_total",
			Help: "Reports durably appended to the report log, by endpoint.",
		}, []string{"endpoint"}),
		ReportsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoloc_reports_rejected_total",
			Help: "Reports rejected at syntax time before append, by reason.",
		}, []string{"reason"}),
		WorkerBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoloc_worker_batches_total",
			Help: "Aggregation worker batches committed.",
		}),
		WorkerBatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoloc_worker_batch_errors_total",
			Help: "Aggregation worker batch failures, by error class.",
		}, []string{"class"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geoloc_report_queue_depth",
			Help: "Reports observed with processed_at IS NULL at last poll.",
		}),
		InferenceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geoloc_inference_latency_seconds",
			Help:    "Locate query latency, by outcome class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		InferenceOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoloc_inference_outcomes_total",
			Help: "Locate query outcomes: gnss, fused, coarse, no_coverage.",
		}, []string{"outcome"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoloc_cache_result_total",
			Help: "Emitter store cache lookups, by hit/miss.",
		}, []string{"result"}),
		PartitionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoloc_partitions_created_total",
			Help: "Daily report partitions created by the partition manager.",
		}),
		PartitionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoloc_partitions_dropped_total",
			Help: "Daily report partitions dropped past the retention horizon.",
		}),
	}

	reg.MustRegister(
		m.ReportsIngested,
		m.ReportsRejected,
		m.WorkerBatches,
		m.WorkerBatchErrors,
		m.QueueDepth,
		m.InferenceLatency,
		m.InferenceOutcomes,
		m.CacheHits,
		m.PartitionsCreated,
		m.PartitionsDropped,
	)
	return m
}
