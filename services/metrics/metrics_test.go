package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/v1/classes/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("id"))
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "boom")
	})

	for _, path := range []string{"/v1/classes/1", "/v1/classes/2", "/boom"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reqTotal.WithLabelValues(http.MethodGet, "/v1/classes/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reqTotal.WithLabelValues(http.MethodGet, "/boom", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues(http.MethodGet, "/boom")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))
}

func TestCounters(t *testing.T) {
	m := New()
	m.IncSMSSent("otp", true)
	m.IncSMSSent("", false)
	m.IncRateLimitDenied("otp")
	m.ObserveAICompletion("gpt", true, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.smsSent.WithLabelValues("otp", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.smsSent.WithLabelValues("custom", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ratelimitDenied.WithLabelValues("otp")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ai_completion_duration_seconds"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.IncSMSSent("otp", true)
	m.IncRateLimitDenied("login")
	m.ObserveAICompletion("gpt", false, time.Second)
	m.SetBuildInfo("app", "TEST", "dev")

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
