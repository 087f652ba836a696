package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsActive  prometheus.Gauge

	// Session metrics
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	SessionsActive   prometheus.Gauge
	TrackingEvents   *prometheus.CounterVec
	FormsSubmitted   *prometheus.CounterVec
	AIFallbacks      *prometheus.CounterVec
	ThankYouDetected *prometheus.CounterVec

	// Language model metrics
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec

	// Temporal workflow metrics
	WorkflowsStarted   *prometheus.CounterVec
	WorkflowsCompleted *prometheus.CounterVec
	WorkflowDuration   *prometheus.HistogramVec
	ActivitiesExecuted *prometheus.CounterVec

	// Run history
	RunsPersisted      *prometheus.CounterVec
	ScreenshotArchives *prometheus.CounterVec
}

// NewMetrics creates metrics registered on a fresh registry that also
// carries the Go and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "trackingtester"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .05, .25, 1, 5, 15, 30, 60, 120, 180},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_active",
				Help:      "Number of active HTTP requests",
			},
		),

		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Tracking test sessions by outcome",
			},
			[]string{"outcome"}, // success, failed, timeout
		),
		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Tracking test session duration in seconds",
				Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180},
			},
			[]string{"runner"},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of sessions holding a browser",
			},
		),
		TrackingEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_events_total",
				Help:      "Classified tracking events by platform and status",
			},
			[]string{"platform", "status"},
		),
		FormsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forms_submitted_total",
				Help:      "Submission attempts by result",
			},
			[]string{"result"}, // submitted, failed, no_button, no_form
		),
		AIFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ai_fallbacks_total",
				Help:      "AI navigation fallback outcomes",
			},
			[]string{"outcome"}, // disabled, selected, none, failed
		),
		ThankYouDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "thank_you_pages_total",
				Help:      "Sessions by thank-you page detection",
			},
			[]string{"detected"},
		),

		LLMRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Language model requests",
			},
			[]string{"provider", "model", "status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Language model request duration in seconds",
				Buckets:   []float64{.25, .5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"provider", "model"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_used_total",
				Help:      "Total number of tokens used",
			},
			[]string{"provider", "type"}, // type: input, output
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"name"},
		),

		WorkflowsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_started_total",
				Help:      "Total number of workflows started",
			},
			[]string{"workflow_type"},
		),
		WorkflowsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_completed_total",
				Help:      "Total number of workflows completed",
			},
			[]string{"workflow_type", "status"},
		),
		WorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "Workflow execution duration in seconds",
				Buckets:   []float64{10, 30, 60, 120, 180, 300},
			},
			[]string{"workflow_type"},
		),
		ActivitiesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activities_executed_total",
				Help:      "Total number of activities executed",
			},
			[]string{"activity_type", "status"},
		),

		RunsPersisted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_persisted_total",
				Help:      "Run history writes by result",
			},
			[]string{"status"},
		),
		ScreenshotArchives: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "screenshot_archives_total",
				Help:      "Screenshot uploads by result",
			},
			[]string{"status"},
		),
	}

	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSession records the outcome of one session.
func (m *Metrics) RecordSession(runner, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	m.SessionDuration.WithLabelValues(runner).Observe(duration.Seconds())
}

// SessionStarted and SessionEnded track browsers in use.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordTrackingEvent counts one classified event.
func (m *Metrics) RecordTrackingEvent(platform, status string) {
	if m == nil {
		return
	}
	m.TrackingEvents.WithLabelValues(platform, status).Inc()
}

// RecordSubmission counts one submission attempt.
func (m *Metrics) RecordSubmission(result string) {
	if m == nil {
		return
	}
	m.FormsSubmitted.WithLabelValues(result).Inc()
}

// RecordAIFallback counts one fallback outcome.
func (m *Metrics) RecordAIFallback(outcome string) {
	if m == nil {
		return
	}
	m.AIFallbacks.WithLabelValues(outcome).Inc()
}

// RecordThankYou counts one confirmation check.
func (m *Metrics) RecordThankYou(detected bool) {
	if m == nil {
		return
	}
	m.ThankYouDetected.WithLabelValues(strconv.FormatBool(detected)).Inc()
}

// RecordLLMRequest records language model metrics
func (m *Metrics) RecordLLMRequest(provider, model, status string, duration time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	m.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

// SetBreakerState publishes a breaker state as its numeric value.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordWorkflowStart records workflow start
func (m *Metrics) RecordWorkflowStart(workflowType string) {
	if m == nil {
		return
	}
	m.WorkflowsStarted.WithLabelValues(workflowType).Inc()
}

// RecordWorkflowComplete records workflow completion
func (m *Metrics) RecordWorkflowComplete(workflowType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowsCompleted.WithLabelValues(workflowType, status).Inc()
	m.WorkflowDuration.WithLabelValues(workflowType).Observe(duration.Seconds())
}

// RecordActivityExecution records activity execution
func (m *Metrics) RecordActivityExecution(activityType, status string) {
	if m == nil {
		return
	}
	m.ActivitiesExecuted.WithLabelValues(activityType, status).Inc()
}

// RecordRunPersisted counts one run history write.
func (m *Metrics) RecordRunPersisted(status string) {
	if m == nil {
		return
	}
	m.RunsPersisted.WithLabelValues(status).Inc()
}

// RecordScreenshotArchive counts one archive attempt.
func (m *Metrics) RecordScreenshotArchive(status string) {
	if m == nil {
		return
	}
	m.ScreenshotArchives.WithLabelValues(status).Inc()
}

// HTTPMiddleware records request count, latency and in-flight requests.
// Paths are labelled by their chi route pattern.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPRequestsActive.Inc()
		defer m.HTTPRequestsActive.Dec()

		began := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.RecordHTTPRequest(r.Method, route, status, time.Since(began))
	})
}
