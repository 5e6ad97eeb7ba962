// Package metrics owns the Prometheus registry for the API server.
//
// Labels are restricted to bounded values (method, route pattern, status,
// tier, error kind, operation name) so user input never creates series.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/coachdesk-api/internal/apperr"
	"github.com/keithlinneman/coachdesk-api/internal/ratelimit"
	"github.com/keithlinneman/coachdesk-api/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight  prometheus.Gauge
	reqTotal  *prometheus.CounterVec
	reqDur    *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec
	serverErr *prometheus.CounterVec

	panicTotal     prometheus.Counter
	pipelineErrors *prometheus.CounterVec

	ratelimitDecisions   *prometheus.CounterVec
	ratelimitStoreErrors prometheus.Counter

	outboundRetries  *prometheus.CounterVec
	outboundFailures *prometheus.CounterVec

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New returns metrics on a fresh registry with the Go and process collectors.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{128, 512, 2048, 8192, 32768, 131072, 524288},
		}, []string{"method", "route"}),
		serverErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		panicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered panics",
		}),
		pipelineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_errors_total",
			Help: "Errors converted to responses by the error boundary, by kind and status",
		}, []string{"kind", "status"}),
		ratelimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limit checks by tier and outcome",
		}, []string{"tier", "outcome"}),
		ratelimitStoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Rate limit store failures; each one applied the fail-open or fail-closed policy",
		}),
		outboundRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbound_retries_total",
			Help: "Retried attempts of outbound operations by operation name",
		}, []string{"operation"}),
		outboundFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbound_failures_total",
			Help: "Outbound operations that failed after all attempts, by operation name",
		}, []string{"operation"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.serverErr,
		m.panicTotal,
		m.pipelineErrors,
		m.ratelimitDecisions,
		m.ratelimitStoreErrors,
		m.outboundRetries,
		m.outboundFailures,
		m.buildInfo,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry exposes the registry for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ServerMetrics) IncPanic() { m.panicTotal.Inc() }

// ObservePipelineError matches api.Options.OnError.
func (m *ServerMetrics) ObservePipelineError(kind apperr.Kind, status int) {
	m.pipelineErrors.WithLabelValues(kind.String(), strconv.Itoa(status)).Inc()
}

// ObserveRateLimit matches ratelimit.WithOnDecision.
func (m *ServerMetrics) ObserveRateLimit(tier ratelimit.Tier, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.ratelimitDecisions.WithLabelValues(tier.Name, outcome).Inc()
}

// IncRateLimitStoreError matches ratelimit.WithOnStoreError.
func (m *ServerMetrics) IncRateLimitStoreError(error) { m.ratelimitStoreErrors.Inc() }

// ObserveRetry matches retry.Options.OnRetry.
func (m *ServerMetrics) ObserveRetry(name string, _ int, _ error) {
	m.outboundRetries.WithLabelValues(name).Inc()
}

// ObserveExhausted matches retry.Options.OnExhausted.
func (m *ServerMetrics) ObserveExhausted(name string, _ int, _ error) {
	m.outboundFailures.WithLabelValues(name).Inc()
}

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
		return
	}
	m.profilingActive.Set(0)
}
