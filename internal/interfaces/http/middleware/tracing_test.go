package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

// installSpanRecorder swaps the global tracer provider for an in-memory one
// and restores sane propagation. Spans land in the returned recorder once
// the request completes.
func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.Cleanup(func() {
		_ = tp.Shutdown(t.Context())
	})

	return sr
}

// tracedRequest drives a GET through the given middleware chain plus a
// handler answering with status, and returns the recorded server span.
func tracedRequest(t *testing.T, sr *tracetest.SpanRecorder, status int, headers map[string]string, mw ...gin.HandlerFunc) sdktrace.ReadOnlySpan {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw...)
	router.GET("/test", func(c *gin.Context) {
		c.JSON(status, gin.H{"status": "done"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)
	require.Equal(t, status, w.Code)

	for _, span := range sr.Ended() {
		if span.Name() == "GET /test" {
			return span
		}
	}
	t.Fatal("server span not recorded")
	return nil
}

func spanAttrString(span sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			return attr.Value.AsString(), true
		}
	}
	return "", false
}

func spanAttrInt(span sdktrace.ReadOnlySpan, key string) (int64, bool) {
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			return attr.Value.AsInt64(), true
		}
	}
	return 0, false
}

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()

	assert.Equal(t, "projectlink-backend", cfg.ServiceName)
	assert.True(t, cfg.Enabled)
}

func TestTracingWithConfigDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sr := installSpanRecorder(t)

	router := gin.New()
	router.Use(TracingWithConfig(TracingConfig{Enabled: false, ServiceName: "sync-test"}))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "done"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sr.Ended(), "disabled tracing must not record spans")
}

func TestTracingWithConfigRecordsServerSpan(t *testing.T) {
	sr := installSpanRecorder(t)

	span := tracedRequest(t, sr, http.StatusOK, nil,
		TracingWithConfig(TracingConfig{Enabled: true, ServiceName: "sync-test"}))

	assert.Equal(t, "GET /test", span.Name())
}

func TestTracingDefaultConstructor(t *testing.T) {
	sr := installSpanRecorder(t)

	span := tracedRequest(t, sr, http.StatusOK, nil, Tracing())

	assert.Equal(t, "GET /test", span.Name())
}

func TestTracingEnrichesSpanAttributes(t *testing.T) {
	t.Run("request id from middleware chain", func(t *testing.T) {
		sr := installSpanRecorder(t)

		span := tracedRequest(t, sr, http.StatusOK,
			map[string]string{"X-Request-ID": "req-abc-123"},
			RequestID(), Tracing())

		got, ok := spanAttrString(span, "request_id")
		require.True(t, ok, "request_id attribute missing")
		assert.Equal(t, "req-abc-123", got)
	})

	t.Run("org id from valid header", func(t *testing.T) {
		sr := installSpanRecorder(t)

		span := tracedRequest(t, sr, http.StatusOK,
			map[string]string{"X-Org-ID": "12345678-1234-1234-1234-123456789abc"},
			Tracing())

		got, ok := spanAttrString(span, "org_id")
		require.True(t, ok, "org_id attribute missing")
		assert.Equal(t, "12345678-1234-1234-1234-123456789abc", got)
	})

	t.Run("malformed org id is dropped", func(t *testing.T) {
		sr := installSpanRecorder(t)

		span := tracedRequest(t, sr, http.StatusOK,
			map[string]string{"X-Org-ID": "not-a-uuid"},
			Tracing())

		_, ok := spanAttrString(span, "org_id")
		assert.False(t, ok, "invalid org id must not reach the span")
	})
}

func TestSpanErrorMarker(t *testing.T) {
	cases := []struct {
		name        string
		status      int
		description string
	}{
		{"not found", http.StatusNotFound, "Not Found"},
		{"unauthorized", http.StatusUnauthorized, "Unauthorized"},
		{"forbidden", http.StatusForbidden, "Forbidden"},
		{"generic client error", http.StatusBadRequest, "Client Error"},
		{"conflict maps to client error", http.StatusConflict, "Client Error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sr := installSpanRecorder(t)

			span := tracedRequest(t, sr, tc.status, nil, Tracing(), SpanErrorMarker())

			assert.Equal(t, codes.Error, span.Status().Code)
			assert.Equal(t, tc.description, span.Status().Description)

			got, ok := spanAttrInt(span, "http.status_code")
			require.True(t, ok, "http.status_code attribute missing")
			assert.Equal(t, int64(tc.status), got)
		})
	}
}

func TestSpanErrorMarkerServerError(t *testing.T) {
	sr := installSpanRecorder(t)

	span := tracedRequest(t, sr, http.StatusInternalServerError, nil, Tracing(), SpanErrorMarker())

	// otelgin may mark 5xx itself; either way the code must end up Error.
	assert.Equal(t, codes.Error, span.Status().Code)
}

func TestSpanErrorMarkerLeavesSuccessAlone(t *testing.T) {
	sr := installSpanRecorder(t)

	span := tracedRequest(t, sr, http.StatusOK, nil, Tracing(), SpanErrorMarker())

	assert.NotEqual(t, codes.Error, span.Status().Code)
}

func TestSpanErrorMarkerNonRecordingSpan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	otel.SetTracerProvider(noop.NewTracerProvider())

	router := gin.New()
	router.Use(SpanErrorMarker())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestErrorStatusMessage(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{http.StatusInternalServerError, "Internal Server Error"},
		{http.StatusBadGateway, "Internal Server Error"},
		{http.StatusUnauthorized, "Unauthorized"},
		{http.StatusForbidden, "Forbidden"},
		{http.StatusNotFound, "Not Found"},
		{http.StatusTeapot, "Client Error"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, errorStatusMessage(tc.status), "status %d", tc.status)
	}
}

func TestGetRequestIDForTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(t *testing.T, setup func(*gin.Context), header string) string {
		t.Helper()
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)
		if header != "" {
			c.Request.Header.Set("X-Request-ID", header)
		}
		if setup != nil {
			setup(c)
		}
		return getRequestID(c)
	}

	t.Run("prefers gin context value", func(t *testing.T) {
		got := run(t, func(c *gin.Context) { c.Set("request_id", "ctx-id") }, "header-id")
		assert.Equal(t, "ctx-id", got)
	})

	t.Run("falls back to header", func(t *testing.T) {
		assert.Equal(t, "header-id", run(t, nil, "header-id"))
	})

	t.Run("truncates oversized header", func(t *testing.T) {
		got := run(t, nil, strings.Repeat("r", MaxRequestIDLength+60))
		assert.Len(t, got, MaxRequestIDLength)
	})

	t.Run("empty when absent", func(t *testing.T) {
		assert.Empty(t, run(t, nil, ""))
	})
}

func TestGetOrgIDForTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(t *testing.T, header string) string {
		t.Helper()
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)
		if header != "" {
			c.Request.Header.Set("X-Org-ID", header)
		}
		return getOrgIDForTrace(c)
	}

	assert.Equal(t, "12345678-1234-1234-1234-123456789abc", run(t, "12345678-1234-1234-1234-123456789abc"))
	assert.Empty(t, run(t, "garbage"), "malformed org id must be rejected")
	assert.Empty(t, run(t, ""), "absent header yields empty org id")
}

func TestIsValidOrgID(t *testing.T) {
	cases := []struct {
		name  string
		orgID string
		want  bool
	}{
		{"lowercase uuid", "12345678-1234-1234-1234-123456789abc", true},
		{"uppercase uuid", "12345678-1234-1234-1234-123456789ABC", true},
		{"mixed case uuid", "12345678-1234-1234-1234-123456789AbC", true},
		{"too short", "12345678-1234-1234", false},
		{"missing dashes", "12345678123412341234123456789abc", false},
		{"special characters", "12345678-1234-1234-1234-123456789<>!", false},
		{"script injection", "<script>alert(1)</script>", false},
		{"embedded space", "12345678-1234 -1234-1234-123456789abc", false},
		{"empty", "", false},
		{"over length limit", strings.Repeat("12345678-1234-1234-1234-123456789abc", 3), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isValidOrgID(tc.orgID))
		})
	}
}
