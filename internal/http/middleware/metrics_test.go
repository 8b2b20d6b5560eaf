package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabelsAndInflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/organizers/:id/slots", func(c *gin.Context) { c.String(http.StatusOK, "[]") })
	r.DELETE("/organizers/:id/meetings/:meetingID", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	const route = "/organizers/:id/slots"
	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", route, "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "unmatched", "404"))

	for _, path := range []string{"/organizers/a/slots", "/organizers/b/slots"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s -> %d", path, w.Code)
		}
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/organizers/a/meetings/m1", nil))

	// Both organizers share one series.
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", route, "200")); got != baseOK+2 {
		t.Fatalf("slots counter = %v; want %v", got, baseOK+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "unmatched", "404")); got != base404+1 {
		t.Fatalf("unmatched counter = %v; want %v", got, base404+1)
	}
	if got := testutil.ToFloat64(httpInflight); got != 0 {
		t.Fatalf("httpInflight = %v; want 0", got)
	}
}
