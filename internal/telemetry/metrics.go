package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "stepflow"

// Metrics — Prometheus метрики движка.
//
// Все методы безопасны для nil-получателя: компоненты, созданные без
// метрик, просто ничего не записывают.
type Metrics struct {
	executionsStarted  *prometheus.CounterVec
	executionsFinished *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	activeExecutions   prometheus.Gauge
	stateTransitions   *prometheus.CounterVec
	taskInvocations    *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics создаёт метрики в собственном реестре.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		executionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "executions_started_total",
				Help:      "Total number of executions started",
			},
			[]string{"state_machine"},
		),
		executionsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "executions_finished_total",
				Help:      "Total number of executions finished",
			},
			[]string{"state_machine", "status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of executions in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"state_machine", "status"},
		),
		activeExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_executions",
				Help:      "Current number of running executions",
			},
		),
		stateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "state_transitions_total",
				Help:      "Total number of completed states by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		taskInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "task_invocations_total",
				Help:      "Total number of task invocations by task and outcome",
			},
			[]string{"task", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task invocations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of API requests in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.executionsStarted,
		m.executionsFinished,
		m.executionDuration,
		m.activeExecutions,
		m.stateTransitions,
		m.taskInvocations,
		m.taskDuration,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler возвращает HTTP-обработчик для /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry возвращает реестр метрик.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ExecutionStarted учитывает запуск выполнения.
func (m *Metrics) ExecutionStarted(stateMachine string) {
	if m == nil {
		return
	}
	m.executionsStarted.WithLabelValues(stateMachine).Inc()
	m.activeExecutions.Inc()
}

// ExecutionFinished учитывает завершение выполнения.
func (m *Metrics) ExecutionFinished(stateMachine, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.executionsFinished.WithLabelValues(stateMachine, status).Inc()
	m.executionDuration.WithLabelValues(stateMachine, status).Observe(duration.Seconds())
	m.activeExecutions.Dec()
}

// StateCompleted учитывает завершение состояния.
// outcome — "succeeded", "failed" или "caught".
func (m *Metrics) StateCompleted(stateType, outcome string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(stateType, outcome).Inc()
}

// TaskInvoked учитывает вызов задачи.
// outcome — "succeeded" или вид ошибки.
func (m *Metrics) TaskInvoked(task, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskInvocations.WithLabelValues(task, outcome).Inc()
	m.taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// HTTPRequest учитывает запрос к API. route — шаблон маршрута ServeMux,
// а не фактический путь, чтобы не плодить метки.
func (m *Metrics) HTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
