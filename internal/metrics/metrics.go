package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// EventsProcessed counts vehicle events by kind and outcome
	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vehicle_events_total", Help: "Vehicle state-change events by kind and outcome."},
		[]string{"kind", "outcome"},
	)

	// SpatialQueryDuration tracks restriction lookup latency in seconds
	SpatialQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "spatial_query_duration_seconds", Help: "Restriction lookup latency in seconds.", Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5}},
	)
	// SpatialRowsSkipped counts malformed geospatial rows dropped by the parser
	SpatialRowsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "spatial_rows_skipped_total", Help: "Malformed restriction rows skipped."},
	)

	// WarningsScheduled counts sweep warnings armed
	WarningsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sweep_warnings_scheduled_total", Help: "Sweep warnings armed."},
	)
	// WarningsSent counts sweep warnings handed to the push sender
	WarningsSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sweep_warnings_sent_total", Help: "Sweep warnings sent."},
	)
	// WarningsCanceled counts sweep warnings canceled before firing
	WarningsCanceled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sweep_warnings_canceled_total", Help: "Sweep warnings canceled before firing."},
	)
	// WarningsStale counts timer fires superseded by a newer epoch
	WarningsStale = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sweep_warnings_stale_total", Help: "Timer fires superseded by cancel/reschedule."},
	)
	// PushSends counts push notification sends by type and status
	PushSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "push_sends_total", Help: "Push sends by type (visible/silent) and status."},
		[]string{"type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(EventsProcessed)
		Registry.MustRegister(SpatialQueryDuration)
		Registry.MustRegister(SpatialRowsSkipped)
		Registry.MustRegister(WarningsScheduled)
		Registry.MustRegister(WarningsSent)
		Registry.MustRegister(WarningsCanceled)
		Registry.MustRegister(WarningsStale)
		Registry.MustRegister(PushSends)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
