package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	m.ObserveChainCall("balance", "ok", time.Millisecond)
	m.ObserveAttribution("credited", 10)
	m.ObserveCycle(3, time.Second)
	m.ObserveSweep("swept", 100)
	m.ObserveNotification("sent")
	m.SetNotifyQueueLength(2)
	assert.NotNil(t, m.Handler())
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveAttribution("credited", 1_000)
	m.ObserveAttribution("credited", 500)
	m.ObserveAttribution("already_processed", 0)
	m.ObserveSweep("swept", 2_000)
	m.ObserveSweep("skipped", 0)
	m.ObserveChainCall("recent_signatures", "error", 10*time.Millisecond)
	m.ObserveCycle(4, time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.attributions.WithLabelValues("credited")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.attributions.WithLabelValues("already_processed")))
	assert.Equal(t, float64(1_500), testutil.ToFloat64(m.creditedLamports))
	assert.Equal(t, float64(2_000), testutil.ToFloat64(m.sweptLamports))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.chainRequests.WithLabelValues("recent_signatures", "error")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.monitorAccounts))
}

func TestHandler_ExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveNotification("sent")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `deposit_ledger_notifications_total{outcome="sent"} 1`)
}

func TestGinMiddleware(t *testing.T) {
	m := New()
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/v1/accounts/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/7", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/accounts/:id", "200")))
}
