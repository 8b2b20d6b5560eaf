package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecure(t *testing.T, opt SecurityOptions, req *http.Request, pre gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	r.GET("/*any", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	w := serveSecure(t, SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/api/v1/organizers/o/slots", nil), nil)

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Fatalf("%s = %q, want %q", k, got, v)
		}
	}
	for _, k := range []string{"Cache-Control", "Strict-Transport-Security", "Permissions-Policy"} {
		if w.Header().Get(k) != "" {
			t.Fatalf("%s should be unset by default", k)
		}
	}
}

func TestSecurityHeaders_NoStoreSkipsCacheablePrefixes(t *testing.T) {
	opt := SecurityOptions{NoStore: true, EnablePolicy: true, CacheablePrefixes: []string{"/swagger"}}

	w := serveSecure(t, opt, httptest.NewRequest(http.MethodGet, "/api/v1/organizers/o/slots", nil), nil)
	if w.Header().Get("Cache-Control") != "no-store" || w.Header().Get("Pragma") != "no-cache" {
		t.Fatalf("api response should be no-store: %v", w.Header())
	}
	if w.Header().Get("Permissions-Policy") == "" {
		t.Fatalf("policy headers missing")
	}

	w = serveSecure(t, opt, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil), nil)
	if w.Header().Get("Cache-Control") != "" {
		t.Fatalf("swagger should be cacheable, got %q", w.Header().Get("Cache-Control"))
	}
}

func TestSecurityHeaders_HSTSOnlyOverHTTPS(t *testing.T) {
	opt := SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}

	w := serveSecure(t, opt, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be sent over plain HTTP")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	w = serveSecure(t, opt, req, nil)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains" {
		t.Fatalf("HSTS = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	w = serveSecure(t, SecurityOptions{EnableHSTS: true}, req, nil)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains" {
		t.Fatalf("default HSTS = %q", got)
	}
}

func TestSecurityHeaders_ExposesRequestID(t *testing.T) {
	setRID := func(c *gin.Context) { c.Header(requestIDHeader, "rid-1"); c.Next() }
	w := serveSecure(t, SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/", nil), setRID)
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != requestIDHeader {
		t.Fatalf("expose = %q", got)
	}

	withExisting := func(c *gin.Context) {
		c.Header(requestIDHeader, "rid-1")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Next()
	}
	w = serveSecure(t, SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/", nil), withExisting)
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "Content-Length, X-Request-ID" {
		t.Fatalf("expose = %q", got)
	}
}
