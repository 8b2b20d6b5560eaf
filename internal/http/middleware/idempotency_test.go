package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestHelpers_GetIdempotencyKey_IsReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := testContext("/")

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected empty key when not set")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}
	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key must read as absent")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("expected IsReplay=true")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("non-bool must read as false")
	}
}

func TestIdempotencyValidator_NoHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	called := false
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(context.Context, string, string, time.Time) (bool, error) {
		called = true
		return false, nil
	}))
	r.POST("/organizers/:id/meetings", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Fatalf("key should not be present")
		}
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/organizers/o1/meetings", nil))
	if w.Code != http.StatusCreated || called {
		t.Fatalf("code=%d lookupCalled=%v", w.Code, called)
	}
}

func TestIdempotencyValidator_RejectsInvalidKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
		{"default pattern", IdempotencyOptions{}, "has space"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(IdempotencyValidator(tc.opts, nil))
			r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			req.Header.Set(HeaderIdempotencyKey, tc.key)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["code"] != "bad_idempotency_key" {
				t.Fatalf("unexpected body %v (err=%v)", body, err)
			}
		})
	}
}

func TestIdempotencyValidator_LookupMissHitAndError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(t *testing.T, lookup IdempotencyLookup) (replay, bypass bool) {
		t.Helper()
		r := gin.New()
		r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
		r.POST("/organizers/:id/meetings", func(c *gin.Context) {
			if key, ok := GetIdempotencyKey(c); !ok || key != "k-9" {
				t.Fatalf("key = %q ok=%v", key, ok)
			}
			replay, bypass = IsReplay(c), IsRateBypass(c)
			c.Status(http.StatusOK)
		})
		req := httptest.NewRequest(http.MethodPost, "/organizers/org-5/meetings", nil)
		req.Header.Set(HeaderIdempotencyKey, "k-9")
		r.ServeHTTP(httptest.NewRecorder(), req)
		return replay, bypass
	}

	if replay, bypass := run(t, func(_ context.Context, org, key string, now time.Time) (bool, error) {
		if org != "org-5" || key != "k-9" || now.IsZero() {
			t.Fatalf("lookup args: org=%q key=%q now=%v", org, key, now)
		}
		return false, nil
	}); replay || bypass {
		t.Fatalf("miss flagged as replay")
	}

	if replay, bypass := run(t, func(context.Context, string, string, time.Time) (bool, error) {
		return true, nil
	}); !replay || !bypass {
		t.Fatalf("hit not flagged: replay=%v bypass=%v", replay, bypass)
	}

	if replay, _ := run(t, func(context.Context, string, string, time.Time) (bool, error) {
		return true, errors.New("db down")
	}); replay {
		t.Fatalf("lookup error must be treated as a miss")
	}
}
