package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	WebhookDeliveries   *prometheus.CounterVec
	WebhookProcessing   *prometheus.HistogramVec
	StatusCacheLookups  *prometheus.CounterVec
	RemOnlineRequests   *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repairsync_webhook_deliveries_total",
			Help: "Webhook deliveries by event group and terminal audit status",
		}, []string{"event_group", "status"}),
		WebhookProcessing: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repairsync_webhook_processing_seconds",
			Help:    "Time spent dispatching a webhook",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_group"}),
		StatusCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repairsync_status_cache_lookups_total",
			Help: "Status lookups by cache result",
		}, []string{"result"}),
		RemOnlineRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repairsync_remonline_requests_total",
			Help: "Calls to the RemOnline API",
		}, []string{"endpoint", "outcome"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repairsync_http_requests_total",
			Help: "HTTP requests by route pattern",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repairsync_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

func (m *Metrics) ObserveWebhook(group, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(group, status).Inc()
	if took > 0 {
		m.WebhookProcessing.WithLabelValues(group).Observe(took.Seconds())
	}
}

func (m *Metrics) StatusCache(result string) {
	if m == nil {
		return
	}
	m.StatusCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RemOnline(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.RemOnlineRequests.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) ObserveHTTP(route, method string, status int, took time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(took.Seconds())
}
