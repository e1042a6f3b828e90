package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/windowguard/internal/version"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	// rate limiting
	decisionsTotal  *prometheus.CounterVec
	storeDur        *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec
	limitsDisabled  prometheus.Gauge
	killswitchPolls prometheus.Counter
	killswitchErrs  prometheus.Counter
	killswitchFlips prometheus.Counter
}

// New returns a fresh registry + standard collectors + HTTP and limiter metrics.
// Labels are bounded: route patterns, operation ids and outcomes, never raw
// paths or client addresses.
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
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Admission decisions by operation and outcome (admitted, rejected, bypassed, unavailable)",
		}, []string{"operation", "outcome"}),
		storeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratelimit_store_duration_seconds",
			Help:    "Counter store round trip latency by command and result",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"op", "result"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Counter store failures by command and kind (timeout, error)",
		}, []string{"op", "kind"}),
		limitsDisabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_disabled",
			Help: "Whether the kill switch bypasses rate limiting (1) or not (0)",
		}),
		killswitchPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_killswitch_polls_total",
			Help: "Total number of kill switch parameter polls",
		}),
		killswitchErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_killswitch_errors_total",
			Help: "Total failed kill switch parameter polls",
		}),
		killswitchFlips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_killswitch_flips_total",
			Help: "Total kill switch state changes applied from the parameter",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.decisionsTotal,
		m.storeDur,
		m.storeErrors,
		m.limitsDisabled,
		m.killswitchPolls,
		m.killswitchErrs,
		m.killswitchFlips,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
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
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

// ObserveDecision counts one admission decision.
func (m *ServerMetrics) ObserveDecision(operation, outcome string) {
	m.decisionsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveStore has the counterstore.Observer signature.
func (m *ServerMetrics) ObserveStore(op string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		kind := "error"
		if isTimeout(err) {
			kind = "timeout"
		}
		m.storeErrors.WithLabelValues(op, kind).Inc()
	}
	m.storeDur.WithLabelValues(op, result).Observe(elapsed.Seconds())
}

func (m *ServerMetrics) SetRateLimitsDisabled(disabled bool) {
	m.limitsDisabled.Set(boolGauge(disabled))
}

func (m *ServerMetrics) IncKillswitchPolls() { m.killswitchPolls.Inc() }
func (m *ServerMetrics) IncKillswitchError() { m.killswitchErrs.Inc() }
func (m *ServerMetrics) IncKillswitchFlips() { m.killswitchFlips.Inc() }

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
