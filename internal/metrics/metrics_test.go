package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveWebhook("order", "success", time.Millisecond)
	m.StatusCache("hit")
	m.RemOnline("order", "ok")
	m.ObserveHTTP("/x", http.MethodGet, 200, time.Millisecond)
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ObserveWebhook("order", "success", 5*time.Millisecond)
	m.ObserveWebhook("order", "success", 0)
	m.StatusCache("miss")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("order", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusCacheLookups.WithLabelValues("miss")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "repairsync_webhook_deliveries_total")
}
