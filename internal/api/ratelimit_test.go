package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kestrelsec/kestrel/internal/api"
)

func TestRateLimiter_enforcesBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.RateLimiter(1, 2))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		router.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := do(); w.Code != http.StatusNoContent {
			t.Fatalf("request %d inside burst: got %d, want 204", i+1, w.Code)
		}
	}

	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("request past burst: got %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 should carry a Retry-After hint")
	}
}

func TestRateLimiter_separateBucketsPerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.RateLimiter(1, 1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(addr string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = addr
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := do("203.0.113.7:1234"); code != http.StatusNoContent {
		t.Fatalf("first client: got %d, want 204", code)
	}
	if code := do("203.0.113.7:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("first client exhausted: got %d, want 429", code)
	}
	if code := do("198.51.100.9:1234"); code != http.StatusNoContent {
		t.Fatalf("second client should have its own bucket: got %d, want 204", code)
	}
}
