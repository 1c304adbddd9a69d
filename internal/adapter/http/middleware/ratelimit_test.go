package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deposit-ledger/internal/adapter/http/middleware"
	redisStore "deposit-ledger/internal/adapter/storage/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRateLimitRouter(store middleware.RateLimitBackend) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	rule := middleware.RateLimitRule{Limit: 3, Window: time.Minute}

	// Stand-in for OperatorAuth: the test header names the operator.
	r.Use(func(c *gin.Context) {
		if op := c.GetHeader("X-Test-Operator"); op != "" {
			c.Set(middleware.CtxOperator, op)
		}
		c.Next()
	})
	r.GET("/test", middleware.RateLimiter(store, "test", rule, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	return r
}

func newRedisStore(t *testing.T) *redisStore.RateLimitStore {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisStore.NewRateLimitStore(client)
}

func doGet(router *gin.Engine, operator string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), "GET", "/test", nil)
	if operator != "" {
		req.Header.Set("X-Test-Operator", operator)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_Backends(t *testing.T) {
	backends := map[string]func(t *testing.T) middleware.RateLimitBackend{
		"redis": func(t *testing.T) middleware.RateLimitBackend { return newRedisStore(t) },
		"local": func(t *testing.T) middleware.RateLimitBackend { return middleware.NewLocalRateLimiter() },
	}

	for name, newBackend := range backends {
		t.Run(name+"/allows within limit", func(t *testing.T) {
			router := setupRateLimitRouter(newBackend(t))
			for i := 0; i < 3; i++ {
				w := doGet(router, "")
				assert.Equal(t, 200, w.Code, "request %d should succeed", i+1)
				assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
				assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
				assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
			}
		})

		t.Run(name+"/blocks over limit", func(t *testing.T) {
			router := setupRateLimitRouter(newBackend(t))
			for i := 0; i < 3; i++ {
				require.Equal(t, 200, doGet(router, "").Code)
			}
			w := doGet(router, "")
			assert.Equal(t, 429, w.Code)
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		})

		t.Run(name+"/counts operators separately", func(t *testing.T) {
			router := setupRateLimitRouter(newBackend(t))
			for i := 0; i < 3; i++ {
				require.Equal(t, 200, doGet(router, "alice").Code)
			}
			assert.Equal(t, 429, doGet(router, "alice").Code)
			assert.Equal(t, 200, doGet(router, "bob").Code)
		})
	}
}

func TestRateLimiter_DegradedModeAllows(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	router := setupRateLimitRouter(redisStore.NewRateLimitStore(client))

	mr.Close()
	w := doGet(router, "")
	assert.Equal(t, 200, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestLocalRateLimiter_RejectsBadRule(t *testing.T) {
	_, err := middleware.NewLocalRateLimiter().Allow(context.Background(), "k", 0, time.Minute)
	assert.Error(t, err)
}

func TestDefaultRateLimitRules(t *testing.T) {
	rules := middleware.DefaultRateLimitRules()
	assert.Equal(t, int64(120), rules["accounts_read"].Limit)
	assert.Equal(t, int64(60), rules["accounts_write"].Limit)
	assert.Equal(t, int64(60), rules["purchases"].Limit)
	assert.Equal(t, int64(6), rules["sweeps"].Limit)
	assert.Equal(t, int64(30), rules["reports"].Limit)
	assert.Equal(t, int64(20), rules["settings"].Limit)
	for group, rule := range rules {
		assert.Equal(t, time.Minute, rule.Window, group)
	}
}
