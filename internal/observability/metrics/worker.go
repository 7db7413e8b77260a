package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	llmTokensTotal  *prometheus.CounterVec
	scanTotal       *prometheus.CounterVec
	scanEnqueued    *prometheus.CounterVec
	staleReclaimed  *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paiq",
			Subsystem: "worker",
			Name:      "queue_item_process_total",
			Help:      "Total processed queue items by outcome.",
		},
		[]string{"service", "outcome"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paiq",
			Subsystem: "worker",
			Name:      "queue_item_process_duration_seconds",
			Help:      "Queue item processing duration in seconds by outcome.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "outcome"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paiq",
			Subsystem: "worker",
			Name:      "queue_item_process_in_flight",
			Help:      "Number of in-flight queue items.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paiq",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between scheduled time and claim.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paiq",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Token usage by direction and provider.",
		},
		[]string{"service", "direction", "provider"},
	)
	scanTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paiq",
			Subsystem: "scheduler",
			Name:      "scans_total",
			Help:      "Total instance scans by status.",
		},
		[]string{"service", "status"},
	)
	scanEnqueued := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paiq",
			Subsystem: "scheduler",
			Name:      "enqueued_total",
			Help:      "Total documents enqueued by scans.",
		},
		[]string{"service"},
	)
	staleReclaimed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paiq",
			Subsystem: "worker",
			Name:      "stale_reclaimed_total",
			Help:      "Total queue items reclaimed after a processing timeout.",
		},
		[]string{"service"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, queueLag, llmTokensTotal, scanTotal, scanEnqueued, staleReclaimed)

	return &WorkerMetrics{
		registry:        registry,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueLag:        queueLag,
		llmTokensTotal:  llmTokensTotal,
		scanTotal:       scanTotal,
		scanEnqueued:    scanEnqueued,
		staleReclaimed:  staleReclaimed,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartItem() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishItem(service, outcome string, duration time.Duration) {
	m.processInFlight.Dec()
	m.processTotal.WithLabelValues(service, outcome).Inc()
	m.processDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordTokens(service, provider string, inputTokens, outputTokens int64) {
	if provider == "" {
		provider = "unknown"
	}
	if inputTokens > 0 {
		m.llmTokensTotal.WithLabelValues(service, "in", provider).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokensTotal.WithLabelValues(service, "out", provider).Add(float64(outputTokens))
	}
}

func (m *WorkerMetrics) RecordScan(service string, enqueued int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.scanTotal.WithLabelValues(service, status).Inc()
	if enqueued > 0 {
		m.scanEnqueued.WithLabelValues(service).Add(float64(enqueued))
	}
}

func (m *WorkerMetrics) RecordStaleReclaimed(service string, n int) {
	if n > 0 {
		m.staleReclaimed.WithLabelValues(service).Add(float64(n))
	}
}

// WorkerObserver binds WorkerMetrics to one service label.
type WorkerObserver struct {
	metrics *WorkerMetrics
	service string
}

func (m *WorkerMetrics) Observer(service string) *WorkerObserver {
	return &WorkerObserver{metrics: m, service: service}
}

func (o *WorkerObserver) ItemStarted() {
	o.metrics.StartItem()
}

func (o *WorkerObserver) ItemFinished(outcome string, duration time.Duration) {
	o.metrics.FinishItem(o.service, outcome, duration)
}

func (o *WorkerObserver) ClaimLag(lag time.Duration) {
	o.metrics.ObserveQueueLag(o.service, lag)
}

func (o *WorkerObserver) TokensUsed(provider string, inputTokens, outputTokens int64) {
	o.metrics.RecordTokens(o.service, provider, inputTokens, outputTokens)
}

func (o *WorkerObserver) StaleReclaimed(n int) {
	o.metrics.RecordStaleReclaimed(o.service, n)
}

func (o *WorkerObserver) ScanFinished(enqueued int, err error) {
	o.metrics.RecordScan(o.service, enqueued, err)
}
