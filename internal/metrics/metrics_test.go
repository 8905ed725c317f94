package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareCountsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/defects/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", m.Handler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/defects/4", nil))
	}

	if got := testutil.ToFloat64(m.requestCount.WithLabelValues("GET", "/defects/:id", "200")); got != 3 {
		t.Fatalf("request count = %v, want 3", got)
	}

	m.ObserveExport("defects", "pdf")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `exports_total{entity="defects",format="pdf"} 1`) {
		t.Fatalf("export counter missing from /metrics output")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveExport("defects", "csv")
	m.ObserveDeletion("floor_plan")
	m.ObserveTransition("closed")
	m.ObserveLoginFailure()
}
