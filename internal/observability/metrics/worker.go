package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	documentTotal     *prometheus.CounterVec
	documentsInFlight prometheus.Gauge
	batchTotal        *prometheus.CounterVec
	batchStarted      prometheus.Counter
	queueLag          *prometheus.HistogramVec
	promotionsTotal   *prometheus.CounterVec
	relocatedTotal    prometheus.Counter
	rollbacksTotal    prometheus.Counter
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	documentTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pf",
			Subsystem: "worker",
			Name:      "documents_total",
			Help:      "Total processed documents by terminal status.",
		},
		[]string{"service", "status"},
	)
	documentsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pf",
			Subsystem: "worker",
			Name:      "documents_in_flight",
			Help:      "Number of documents currently in the pipeline.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	batchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pf",
			Subsystem: "worker",
			Name:      "batches_total",
			Help:      "Total finished batches by terminal status.",
		},
		[]string{"service", "status"},
	)
	batchStarted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pf",
			Subsystem: "worker",
			Name:      "batches_started_total",
			Help:      "Total batch runs started.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pf",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between batch submission and run start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	promotionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pf",
			Subsystem: "taxonomy",
			Name:      "subfolder_promotions_total",
			Help:      "Total issuer subfolder promotions by category.",
		},
		[]string{"service", "category"},
	)
	relocatedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pf",
			Subsystem: "taxonomy",
			Name:      "documents_relocated_total",
			Help:      "Total documents moved retroactively into issuer subfolders.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	rollbacksTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pf",
			Subsystem: "worker",
			Name:      "rollbacks_total",
			Help:      "Total batch rollbacks performed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		documentTotal,
		documentsInFlight,
		batchTotal,
		batchStarted,
		queueLag,
		promotionsTotal,
		relocatedTotal,
		rollbacksTotal,
	)

	return &WorkerMetrics{
		registry:          registry,
		service:           service,
		documentTotal:     documentTotal,
		documentsInFlight: documentsInFlight,
		batchTotal:        batchTotal,
		batchStarted:      batchStarted,
		queueLag:          queueLag,
		promotionsTotal:   promotionsTotal,
		relocatedTotal:    relocatedTotal,
		rollbacksTotal:    rollbacksTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) BatchStarted() {
	m.batchStarted.Inc()
}

func (m *WorkerMetrics) BatchFinished(status string) {
	m.batchTotal.WithLabelValues(m.service, status).Inc()
}

func (m *WorkerMetrics) DocumentFinished(status string) {
	m.documentTotal.WithLabelValues(m.service, status).Inc()
}

func (m *WorkerMetrics) DocumentsInFlight(delta int) {
	m.documentsInFlight.Add(float64(delta))
}

func (m *WorkerMetrics) RollbackPerformed() {
	m.rollbacksTotal.Inc()
}

func (m *WorkerMetrics) SubfolderPromoted(category string) {
	m.promotionsTotal.WithLabelValues(m.service, category).Inc()
}

func (m *WorkerMetrics) DocumentsRelocated(n int) {
	if n <= 0 {
		return
	}
	m.relocatedTotal.Add(float64(n))
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}
