// Package metrics exposes Prometheus collectors for the HTTP surface, the
// device bridge and the inference backends.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KushalM23/SmartAgriNode/internal/bridge"
)

const namespace = "agrinode"

// Metrics holds every collector. A nil *Metrics is a valid no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	commandsIssued     *prometheus.CounterVec
	commandsDelivered  *prometheus.CounterVec
	cycleSteps         *prometheus.CounterVec
	fallbackSuperseded *prometheus.CounterVec
	uploadsRejected    *prometheus.CounterVec

	breakerState   *prometheus.GaugeVec
	historyErrors  *prometheus.CounterVec
	queueDepthFunc prometheus.GaugeFunc
}

var _ bridge.Metrics = (*Metrics)(nil)

// New registers the collectors on reg. A nil reg uses a fresh registry.
// queueDepth, when non-nil, is exported as the inference queue depth gauge.
func New(reg *prometheus.Registry, queueDepth func() int) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		commandsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_issued_total",
			Help:      "Device commands set by clients.",
		}, []string{"command"}),
		commandsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_delivered_total",
			Help:      "Device commands handed to polling devices.",
		}, []string{"command"}),
		cycleSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_steps_total",
			Help:      "Stored sensor readings and scan results by kind and source.",
		}, []string{"kind", "source"}),
		fallbackSuperseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_superseded_total",
			Help:      "Simulated results discarded because the cycle moved on.",
		}, []string{"kind"}),
		uploadsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_rejected_total",
			Help:      "Device image uploads rejected by outcome code.",
		}, []string{"code"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_breaker_state",
			Help:      "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"model"}),
		historyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_write_errors_total",
			Help:      "History records that could not be stored.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.commandsIssued,
		m.commandsDelivered,
		m.cycleSteps,
		m.fallbackSuperseded,
		m.uploadsRejected,
		m.breakerState,
		m.historyErrors,
	)

	if queueDepth != nil {
		m.queueDepthFunc = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_queue_depth",
			Help:      "Inference jobs waiting for a worker.",
		}, func() float64 { return float64(queueDepth()) })
		reg.MustRegister(m.queueDepthFunc)
	}

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// WrapHandler counts requests and observes latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the exposition format for the registry passed to New.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) CommandIssued(cmd bridge.Command) {
	if m == nil {
		return
	}
	m.commandsIssued.WithLabelValues(string(cmd)).Inc()
}

func (m *Metrics) CommandDelivered(cmd bridge.Command) {
	if m == nil {
		return
	}
	m.commandsDelivered.WithLabelValues(string(cmd)).Inc()
}

func (m *Metrics) CycleStep(kind string, source bridge.Source) {
	if m == nil {
		return
	}
	m.cycleSteps.WithLabelValues(kind, string(source)).Inc()
}

func (m *Metrics) FallbackSuperseded(kind string) {
	if m == nil {
		return
	}
	m.fallbackSuperseded.WithLabelValues(kind).Inc()
}

func (m *Metrics) UploadRejected(code string) {
	if m == nil {
		return
	}
	m.uploadsRejected.WithLabelValues(code).Inc()
}

// HistoryWriteFailed counts a history record that was dropped.
func (m *Metrics) HistoryWriteFailed(kind string) {
	if m == nil {
		return
	}
	m.historyErrors.WithLabelValues(kind).Inc()
}

// SetBreakerState records a circuit breaker transition. state is the
// breaker's own name for it: "closed", "half-open" or "open".
func (m *Metrics) SetBreakerState(model, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(model).Set(v)
}
