package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry for HTTP, cache, meeting host,
// provisioning and notification instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	gatewayCalls    *prometheus.CounterVec
	provisioning    *prometheus.CounterVec
	provisionWait   prometheus.Observer
	notifications   *prometheus.CounterVec
}

// NewMetricsService registers all collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache reads",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meeting_gateway_call_duration_seconds",
		Help:    "Latency of meeting host API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"call"})

	gatewayCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_gateway_calls_total",
		Help: "Meeting host API calls by outcome",
	}, []string{"call", "outcome"})

	provisioning := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "room_provisioning_total",
		Help: "Room provisioning attempts by outcome",
	}, []string{"outcome"})

	provisionWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "room_provisioning_wait_seconds",
		Help:    "Time callers spent waiting for a room to be provisioned",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification jobs by template and result",
	}, []string{"template", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups,
		gatewayDuration, gatewayCalls, provisioning, provisionWait, notifications, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheLookups:    cacheLookups,
		gatewayDuration: gatewayDuration,
		gatewayCalls:    gatewayCalls,
		provisioning:    provisioning,
		provisionWait:   provisionWait,
		notifications:   notifications,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache read.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveGatewayCall satisfies meeting.CallObserver.
func (m *MetricsService) ObserveGatewayCall(call, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(call).Observe(duration.Seconds())
	m.gatewayCalls.WithLabelValues(call, outcome).Inc()
}

// RecordProvisioning counts a provisioning attempt outcome.
func (m *MetricsService) RecordProvisioning(outcome string) {
	if m == nil {
		return
	}
	m.provisioning.WithLabelValues(outcome).Inc()
}

// ObserveProvisioningWait records how long a caller waited for a room.
func (m *MetricsService) ObserveProvisioningWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.provisionWait.Observe(duration.Seconds())
}

// RecordNotification counts a finished notification job.
func (m *MetricsService) RecordNotification(template, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(template, result).Inc()
}
