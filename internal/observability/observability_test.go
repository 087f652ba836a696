package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/testforge/trackingtester/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewLoggerTo_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(config.LogConfig{Level: "info", Production: true}, zapcore.AddSync(&buf))

	logger.Debug("hidden")
	logger.Info("session finished", zap.String("run_id", "r1"))
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "session finished", entry["msg"])
	assert.Equal(t, "r1", entry["run_id"])
}

func TestNewLoggerTo_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tester.log")
	var console bytes.Buffer

	logger := NewLoggerTo(config.LogConfig{Level: "debug", File: path, MaxSizeMB: 1}, zapcore.AddSync(&console))
	logger.Warn("captcha detected", zap.String("url", "https://example.com"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"captcha detected"`)
	assert.Contains(t, console.String(), "captcha detected")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordSession("inprocess", "success", time.Second)
	m.RecordTrackingEvent("Google Tag Manager", "success")
	m.RecordAIFallback("disabled")
	m.RecordLLMRequest("claude", "x", "success", time.Second, 1, 1)
	m.SessionStarted()
	m.SessionEnded()

	h := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics("test")

	m.RecordSession("inprocess", "success", 12*time.Second)
	m.RecordSession("inprocess", "timeout", 2*time.Minute)
	m.RecordTrackingEvent("Google Analytics 4", "success")
	m.RecordTrackingEvent("Google Analytics 4", "success")
	m.RecordSubmission("submitted")
	m.RecordAIFallback("selected")
	m.RecordThankYou(true)
	m.SetBreakerState("claude", 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsTotal.WithLabelValues("timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TrackingEvents.WithLabelValues("Google Analytics 4", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FormsSubmitted.WithLabelValues("submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AIFallbacks.WithLabelValues("selected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThankYouDetected.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("claude")))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics("test")
	b := NewMetrics("test")
	a.RecordSubmission("failed")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.FormsSubmitted.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FormsSubmitted.WithLabelValues("failed")))
}

func TestMetrics_HTTPMiddlewareUsesRoutePattern(t *testing.T) {
	m := NewMetrics("test")

	r := chi.NewRouter()
	r.Use(m.HTTPMiddleware)
	r.Get("/api/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/"+id, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/runs/{id}", "404")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.RecordAIFallback("disabled")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_ai_fallbacks_total{outcome="disabled"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
