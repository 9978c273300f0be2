package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hirecall/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func rateLimitedRouter(cfg *config.Config, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", handler)
	return router
}

func get(router http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w
}

func TestHTTPRateLimitMiddleware_Disabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := rateLimitedRouter(cfg, func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1000").Code)
	}
}

func TestHTTPRateLimitMiddleware_PerClient(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	router := rateLimitedRouter(cfg, func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1000").Code)

	limited := get(router, "10.0.0.1:1001")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMIT_EXCEEDED")

	// Another client has its own budget.
	assert.Equal(t, http.StatusOK, get(router, "10.0.0.2:1000").Code)
}

func TestHTTPRateLimitMiddleware_MaxConcurrent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 100
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 1

	entered := make(chan struct{})
	release := make(chan struct{})
	router := rateLimitedRouter(cfg, func(c *gin.Context) {
		select {
		case entered <- struct{}{}:
			<-release
		default:
		}
		c.Status(http.StatusOK)
	})

	done := make(chan int)
	go func() { done <- get(router, "10.0.0.1:1000").Code }()
	<-entered

	assert.Equal(t, http.StatusServiceUnavailable, get(router, "10.0.0.2:1000").Code)
	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestRateLimiterStore_EvictsIdleClients(t *testing.T) {
	now := time.Now()
	store := newRateLimiterStore(rate.Limit(1), 1)
	store.now = func() time.Time { return now }

	store.getLimiter("a")
	store.getLimiter("b")
	assert.Equal(t, 2, store.size())

	now = now.Add(limiterIdleTTL + time.Second)
	store.getLimiter("b")
	assert.Equal(t, 1, store.size())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "192.0.2.1", clientIP(req))
}
