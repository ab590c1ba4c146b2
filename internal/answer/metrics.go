package answer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the answer pipeline.
type Metrics struct {
	AnswersTotal     *prometheus.CounterVec
	AnswerDuration   *prometheus.HistogramVec
	WideningsTotal   *prometheus.CounterVec
	RecordsExtracted prometheus.Histogram
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
}

// NewMetrics registers the answer metrics once per process.
//
// Metrics:
//   - docqa_answers_total{path} - answers by deterministic, no_information or llm
//   - docqa_answer_duration_seconds{path} - time to resolve an answer
//   - docqa_answer_widenings_total{stage} - month widening by weak_retrieval or few_records
//   - docqa_answer_records_extracted - revenue records found per sales question
//   - docqa_answer_cache_hits_total / docqa_answer_cache_misses_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			AnswersTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docqa_answers_total",
					Help: "Total number of answers by resolution path",
				},
				[]string{"path"},
			),
			AnswerDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "docqa_answer_duration_seconds",
					Help:    "Duration of answer resolution in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"path"},
			),
			WideningsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docqa_answer_widenings_total",
					Help: "Total number of month widening queries",
				},
				[]string{"stage"},
			),
			RecordsExtracted: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "docqa_answer_records_extracted",
					Help:    "Revenue records extracted per sales question",
					Buckets: []float64{0, 1, 3, 7, 14, 31, 62, 120, 365},
				},
			),
			CacheHitsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "docqa_answer_cache_hits_total",
					Help: "Total number of answer cache hits",
				},
			),
			CacheMissesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "docqa_answer_cache_misses_total",
					Help: "Total number of answer cache misses",
				},
			),
		}
	})
	return globalMetrics
}
