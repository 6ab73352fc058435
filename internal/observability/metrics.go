package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	embedDuration        prometheus.Histogram
	embedErrorsTotal     prometheus.Counter
	memorySearchDuration *prometheus.HistogramVec
	memoryWriteDuration  prometheus.Histogram
	knowledgeItemsTotal  *prometheus.GaugeVec

	indexRunDuration  prometheus.Histogram
	indexFilesTotal   *prometheus.CounterVec
	indexErrorsTotal  prometheus.Counter
	indexChunksTotal  prometheus.Gauge
	sweepRemovedTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			embedDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "mnemo_embed_duration_seconds",
					Help:    "Latency of a single embedding call.",
					Buckets: prometheus.DefBuckets,
				},
			),
			embedErrorsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mnemo_embed_errors_total",
					Help: "Total failed embedding calls.",
				},
			),
			memorySearchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mnemo_memory_search_duration_seconds",
					Help:    "Latency of memory retrieval by strategy.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"strategy"},
			),
			memoryWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "mnemo_memory_write_duration_seconds",
					Help:    "Latency of knowledge/chunk writes.",
					Buckets: prometheus.DefBuckets,
				},
			),
			knowledgeItemsTotal: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "mnemo_knowledge_items",
					Help: "Stored knowledge items by entity type.",
				},
				[]string{"entity_type"},
			),
			indexRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "mnemo_index_run_duration_seconds",
					Help:    "Duration of an incremental index run.",
					Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
				},
			),
			indexFilesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mnemo_index_files_total",
					Help: "Files seen by the indexer by outcome.",
				},
				[]string{"outcome"},
			),
			indexErrorsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mnemo_index_errors_total",
					Help: "Per-file indexing errors.",
				},
			),
			indexChunksTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "mnemo_index_chunks",
					Help: "Total stored file chunks.",
				},
			),
			sweepRemovedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mnemo_sweep_removed_embeddings_total",
					Help: "Orphaned embedding rows removed by the sweeper.",
				},
			),
		}

		prometheus.MustRegister(
			m.embedDuration,
			m.embedErrorsTotal,
			m.memorySearchDuration,
			m.memoryWriteDuration,
			m.knowledgeItemsTotal,
			m.indexRunDuration,
			m.indexFilesTotal,
			m.indexErrorsTotal,
			m.indexChunksTotal,
			m.sweepRemovedTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call from every
// package that records metrics.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordEmbed(duration time.Duration, err error) {
	m := getMetrics()
	m.embedDuration.Observe(duration.Seconds())
	if err != nil {
		m.embedErrorsTotal.Inc()
	}
}

func RecordMemorySearch(strategy string, duration time.Duration) {
	getMetrics().memorySearchDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

func RecordMemoryWrite(duration time.Duration) {
	getMetrics().memoryWriteDuration.Observe(duration.Seconds())
}

func SetKnowledgeItems(entityType string, total int) {
	getMetrics().knowledgeItemsTotal.WithLabelValues(entityType).Set(float64(total))
}

func RecordIndexRun(duration time.Duration) {
	getMetrics().indexRunDuration.Observe(duration.Seconds())
}

func RecordIndexFile(outcome string) {
	getMetrics().indexFilesTotal.WithLabelValues(outcome).Inc()
}

func RecordIndexError() {
	getMetrics().indexErrorsTotal.Inc()
}

func SetIndexChunks(total int) {
	getMetrics().indexChunksTotal.Set(float64(total))
}

func RecordSweepRemoved(count int) {
	getMetrics().sweepRemovedTotal.Add(float64(count))
}
