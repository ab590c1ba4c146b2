package documents

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for document ingestion.
type Metrics struct {
	UploadsTotal   *prometheus.CounterVec
	IngestDuration prometheus.Histogram
	ChunksTotal    prometheus.Counter
	BytesTotal     prometheus.Counter
	DeletesTotal   prometheus.Counter
}

// NewMetrics registers the ingestion metrics once per process.
//
// Metrics:
//   - docqa_documents_uploads_total{result} - uploads by "ok" or "error"
//   - docqa_documents_ingest_duration_seconds - save, extract, chunk, embed and persist
//   - docqa_documents_chunks_total - chunks written
//   - docqa_documents_bytes_total - bytes of uploaded files
//   - docqa_documents_deletes_total - documents deleted
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			UploadsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docqa_documents_uploads_total",
					Help: "Total number of document uploads by result",
				},
				[]string{"result"},
			),
			IngestDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "docqa_documents_ingest_duration_seconds",
					Help:    "Duration of document ingestion in seconds",
					Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
				},
			),
			ChunksTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "docqa_documents_chunks_total",
					Help: "Total number of chunks written",
				},
			),
			BytesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "docqa_documents_bytes_total",
					Help: "Total bytes of uploaded files",
				},
			),
			DeletesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "docqa_documents_deletes_total",
					Help: "Total number of documents deleted",
				},
			),
		}
	})
	return globalMetrics
}
