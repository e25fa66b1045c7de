// Package metrics holds the prometheus collectors of the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight    prometheus.Gauge
	reqTotal    *prometheus.CounterVec
	reqDur      *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
	buildInfo   *prometheus.GaugeVec

	ratelimitDenied *prometheus.CounterVec
	smsSent         *prometheus.CounterVec
	aiDur           *prometheus.HistogramVec
}

// New returns a fresh registry with the Go and process collectors.
// Route labels use echo route patterns to keep cardinality bounded.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
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
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route",
		}, []string{"method", "route"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "env", "build"}),
		ratelimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter, by limiter",
		}, []string{"limiter"}),
		smsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_sent_total",
			Help: "Text messages handed to the SMS provider, by template and outcome",
		}, []string{"template", "outcome"}),
		aiDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ai_completion_duration_seconds",
			Help:    "Chat completion latency by model and outcome",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"model", "outcome"}),
	}
	reg.MustRegister(m.inflight, m.reqTotal, m.reqDur, m.errorsTotal, m.buildInfo, m.ratelimitDenied, m.smsSent, m.aiDur)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// set once at startup.
func (m *Metrics) SetBuildInfo(app, env, build string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(app, env, build).Set(1)
}

func (m *Metrics) IncRateLimitDenied(limiter string) {
	if m == nil {
		return
	}
	m.ratelimitDenied.WithLabelValues(limiter).Inc()
}

func (m *Metrics) IncSMSSent(template string, ok bool) {
	if m == nil {
		return
	}
	if template == "" {
		template = "custom"
	}
	m.smsSent.WithLabelValues(template, outcome(ok)).Inc()
}

func (m *Metrics) ObserveAICompletion(model string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.aiDur.WithLabelValues(model, outcome(ok)).Observe(d.Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Middleware measures in-flight requests, totals and latency per echo route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			m.inflight.Inc()
			defer m.inflight.Dec()

			err := next(c)
			if err != nil {
				// let the error handler write the response so the status is known
				c.Error(err)
			}

			req := c.Request()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			m.reqTotal.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
			if status >= http.StatusInternalServerError {
				m.errorsTotal.WithLabelValues(req.Method, route).Inc()
			}

			lat := time.Since(start).Seconds()
			observer := m.reqDur.WithLabelValues(req.Method, route)
			if ex := traceExemplar(c); ex != nil {
				if eo, ok := observer.(prometheus.ExemplarObserver); ok {
					eo.ObserveWithExemplar(lat, ex)
					return nil
				}
			}
			observer.Observe(lat)
			return nil
		}
	}
}

// if a sampled trace is present attach its trace_id as an exemplar
func traceExemplar(c echo.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(c.Request().Context())
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
