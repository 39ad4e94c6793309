package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
)

var _ ports.ProcessingObserver = (*WorkerMetrics)(nil)

type WorkerMetrics struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer
	service  string

	processTotal     *prometheus.CounterVec
	processDuration  *prometheus.HistogramVec
	processInFlight  prometheus.Gauge
	queueLag         *prometheus.HistogramVec
	chunkInsertTotal *prometheus.CounterVec
}

// NewWorkerMetrics registers worker collectors on a fresh registry.
func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	return NewWorkerMetricsWithRegistry(service, registry, registry)
}

// NewWorkerMetricsWithRegistry registers worker collectors on an existing registry, used when
// the worker pool runs inside the API process.
func NewWorkerMetricsWithRegistry(service string, registerer prometheus.Registerer, gatherer prometheus.Gatherer) *WorkerMetrics {
	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intranest",
			Subsystem: "worker",
			Name:      "document_process_total",
			Help:      "Total processed documents by terminal status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intranest",
			Subsystem: "worker",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "intranest",
			Subsystem: "worker",
			Name:      "document_process_in_flight",
			Help:      "Number of in-flight document processing tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intranest",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job enqueue and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	chunkInsertTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intranest",
			Subsystem: "worker",
			Name:      "chunk_insert_total",
			Help:      "Vector index chunk inserts by result.",
		},
		[]string{"service", "result"},
	)

	registerer.MustRegister(processTotal, processDuration, processInFlight, queueLag, chunkInsertTotal)

	return &WorkerMetrics{
		registry:         registerer,
		gatherer:         gatherer,
		service:          service,
		processTotal:     processTotal,
		processDuration:  processDuration,
		processInFlight:  processInFlight,
		queueLag:         queueLag,
		chunkInsertTotal: chunkInsertTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RegisterQueueDepth exposes the local job buffer length as a gauge.
func (m *WorkerMetrics) RegisterQueueDepth(depth func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   "intranest",
			Subsystem:   "worker",
			Name:        "queue_depth",
			Help:        "Jobs buffered and waiting for a worker.",
			ConstLabels: prometheus.Labels{"service": m.service},
		},
		func() float64 { return float64(depth()) },
	))
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(status domain.DocumentStatus, duration time.Duration) {
	m.processInFlight.Dec()

	label := string(status)
	if label == "" {
		label = "unknown"
	}
	m.processTotal.WithLabelValues(m.service, label).Inc()
	m.processDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObserveChunkInsert(success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	m.chunkInsertTotal.WithLabelValues(m.service, result).Inc()
}
