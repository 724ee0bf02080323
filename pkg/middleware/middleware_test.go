package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kevin07696/escrow-service/internal/auth"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Shutdown()

	r := gin.New()
	r.Use(rl.Middleware(func(c *gin.Context) string { return c.GetHeader("X-Caller") }))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(caller string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Caller", caller)
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusTooManyRequests, call("a"))
	assert.Equal(t, http.StatusOK, call("b"), "buckets are per key")
}

func TestRateLimiter_CleanupAndEviction(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Shutdown()
	rl.maxSize = 2

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(time.Second)
	rl.Allow("b")
	now = now.Add(time.Second)
	rl.Allow("c")
	assert.Len(t, rl.limiters, 2)
	assert.NotContains(t, rl.limiters, "a", "oldest key is evicted at capacity")

	now = now.Add(rl.cleanupInterval + time.Second)
	assert.Equal(t, 2, rl.cleanup())
	assert.Empty(t, rl.limiters)
}

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name     string
		dev      bool
		wantHSTS bool
	}{
		{name: "production", dev: false, wantHSTS: true},
		{name: "development", dev: true, wantHSTS: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(SecurityHeaders(tt.dev))
			r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, tt.wantHSTS, w.Header().Get("Strict-Transport-Security") != "")
		})
	}
}

func TestRequestContext(t *testing.T) {
	r := gin.New()
	r.Use(RequestContext(resilience.TestTimeoutConfig()))

	var seenID string
	var hasDeadline bool
	r.GET("/", func(c *gin.Context) {
		seenID = auth.GetRequestID(c.Request.Context())
		_, hasDeadline = c.Request.Context().Deadline()
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := serve(r, req)
	assert.Equal(t, "req-42", seenID)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	assert.True(t, hasDeadline)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, w.Header().Get(RequestIDHeader), seenID)
}

func TestAccessLog_RecoversPanic(t *testing.T) {
	r := gin.New()
	r.Use(AccessLog(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
