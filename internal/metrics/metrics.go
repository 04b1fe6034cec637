package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 文档处理流水线指标
var (
	IngestAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsearch_ingest_attempts_total",
			Help: "Document processing attempts by outcome",
		},
		[]string{"outcome"}, // success, retryable, fatal
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docsearch_ingest_duration_seconds",
			Help:    "Duration of a single document processing attempt",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	IngestChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docsearch_ingest_chunks",
			Help:    "Number of chunks indexed per document",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	OCRPageFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docsearch_ocr_page_fallbacks_total",
			Help: "PDF pages whose text layer was too short and went through OCR",
		},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docsearch_search_duration_seconds",
			Help:    "Duration of retrieval and rerank for a query",
			Buckets: prometheus.DefBuckets,
		},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsearch_llm_requests_total",
			Help: "LLM generate requests by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docsearch_ingest_queue_depth",
			Help: "Documents waiting for a processing worker",
		},
	)
)

// Handler 返回Prometheus指标的HTTP处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
