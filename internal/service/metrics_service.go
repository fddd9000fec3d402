package service

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	matchDistance  prometheus.Histogram
	matchTotal     *prometheus.CounterVec
	markedTotal    *prometheus.CounterVec
	enrollTotal    prometheus.Counter

	cacheLatency prometheus.Observer
	cacheWrite   prometheus.Observer
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
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

	matchDistance := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "face_match_distance",
		Help:    "Best Euclidean distance found per face match attempt",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.48, 0.6, 0.8, 1.0, 1.5},
	})

	matchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "face_match_total",
		Help: "Face match attempts by outcome",
	}, []string{"outcome"})

	markedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_marked_total",
		Help: "Attendance records created by source and status",
	}, []string{"source", "status"})

	enrollTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "face_enrollments_total",
		Help: "Successful face enrollments",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	registry.MustRegister(requestDuration, requestTotal, matchDistance, matchTotal, markedTotal, enrollTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		matchDistance:   matchDistance,
		matchTotal:      matchTotal,
		markedTotal:     markedTotal,
		enrollTotal:     enrollTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler returns the Prometheus scrape handler.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records duration and count for a finished request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveMatch records the outcome of a face match attempt. Infinite
// distances (empty candidate pool) are not observed in the histogram.
func (s *MetricsService) ObserveMatch(distance float64, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	s.matchTotal.WithLabelValues(outcome).Inc()
	if !math.IsNaN(distance) && !math.IsInf(distance, 0) {
		s.matchDistance.Observe(distance)
	}
}

// RecordAttendanceMarked counts a created attendance record.
func (s *MetricsService) RecordAttendanceMarked(source, status string) {
	s.markedTotal.WithLabelValues(source, status).Inc()
}

// RecordEnrollment counts a successful face enrollment.
func (s *MetricsService) RecordEnrollment() {
	s.enrollTotal.Inc()
}

// RecordCacheOperation tracks a cache lookup.
func (s *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	s.cacheLatency.Observe(duration.Seconds())
	if hit {
		s.cacheHits.Inc()
	} else {
		s.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks a cache set.
func (s *MetricsService) ObserveCacheWrite(duration time.Duration) {
	s.cacheWrite.Observe(duration.Seconds())
}
