// Package metrics содержит счётчики Prometheus для загрузки проездов и отчётов.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics собирает показатели сервиса. Нулевой указатель допустим и
// превращает все вызовы в no-op.
type Metrics struct {
	registry         *prometheus.Registry
	usagesWritten    *prometheus.CounterVec
	usagesRejected   *prometheus.CounterVec
	batchesEnqueued  prometheus.Counter
	batchesProcessed *prometheus.CounterVec
	reports          *prometheus.CounterVec
	reportDuration   *prometheus.HistogramVec
}

// New создаёт набор метрик в собственном реестре.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		usagesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollgate_usages_written_total",
			Help: "Usage records persisted by write strategy.",
		}, []string{"strategy"}),
		usagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollgate_usages_rejected_total",
			Help: "Usage records rejected before persistence.",
		}, []string{"reason"}),
		batchesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tollgate_batches_enqueued_total",
			Help: "Batches accepted for asynchronous processing.",
		}),
		batchesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollgate_batches_processed_total",
			Help: "Queued batches handled by dispatcher workers.",
		}, []string{"result"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollgate_reports_total",
			Help: "Report executions by kind and terminal status.",
		}, []string{"kind", "status"}),
		reportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tollgate_report_duration_seconds",
			Help:    "Report execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.usagesWritten,
		m.usagesRejected,
		m.batchesEnqueued,
		m.batchesProcessed,
		m.reports,
		m.reportDuration,
	)

	return m
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AddWritten учитывает сохранённые записи.
func (m *Metrics) AddWritten(strategy string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.usagesWritten.WithLabelValues(strategy).Add(float64(n))
}

// AddRejected учитывает отклонённые записи.
func (m *Metrics) AddRejected(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.usagesRejected.WithLabelValues(reason).Add(float64(n))
}

// IncEnqueued учитывает пакет, поставленный в очередь.
func (m *Metrics) IncEnqueued() {
	if m == nil {
		return
	}
	m.batchesEnqueued.Inc()
}

// IncProcessed учитывает пакет, обработанный из очереди.
func (m *Metrics) IncProcessed(result string) {
	if m == nil {
		return
	}
	m.batchesProcessed.WithLabelValues(result).Inc()
}

// ObserveReport учитывает завершённый отчёт.
func (m *Metrics) ObserveReport(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(kind, status).Inc()
	m.reportDuration.WithLabelValues(kind).Observe(d.Seconds())
}
