package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "tailscale"),
		attribute.String("org_id", "123"),
		attribute.String("device_id", "456"),
		attribute.String("outcome", "success"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "org_id" || attr.Key == "device_id" {
			t.Fatalf("unexpected label %s retained", attr.Key)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordOnboarding(ctx, "success")
	m.RecordEnrollment(ctx, "verify", "failed")
	m.RecordRateLimitDenied(ctx, "verify")
	m.RecordJobRun(ctx, "session_expiry", "success", time.Second)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	httpMetrics, err := NewHTTPMetrics(registry)
	if err != nil {
		t.Fatalf("register metrics: %v", err)
	}

	r := gin.New()
	r.Use(GinMiddleware(httpMetrics))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	}

	got := testutil.ToFloat64(httpMetrics.requests.WithLabelValues("/health", http.MethodGet, "200"))
	if got != 3 {
		t.Fatalf("expected 3 requests recorded, got %v", got)
	}
}
