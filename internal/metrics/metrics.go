package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
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

	// OptimizeRuns counts optimization calls by outcome status
	OptimizeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimize_runs_total", Help: "Optimization runs by solution status."},
		[]string{"status"},
	)
	// OptimizeDuration tracks wall time of a full optimization in seconds
	OptimizeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "optimize_duration_seconds", Help: "Optimization wall time in seconds.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}},
		[]string{"status"},
	)
	// UnassignedStops observes how many stops each run could not place
	UnassignedStops = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "optimize_unassigned_stops", Help: "Unassigned stops per optimization.", Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100}},
	)
	// DegradedBuilds counts builds that fell back to haversine
	DegradedBuilds = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "distance_provider_degraded_total", Help: "Problem builds that fell back to haversine distances."},
	)
	// Superseded counts in-flight optimizations cancelled by a newer request
	Superseded = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "optimize_superseded_total", Help: "Optimizations cancelled by a newer request for the same batch."},
	)
	// UpstreamCalls counts calls to road distance and ETA services
	UpstreamCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstream_calls_total", Help: "Calls to external distance and ETA services."},
		[]string{"service", "outcome"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OptimizeRuns)
		Registry.MustRegister(OptimizeDuration)
		Registry.MustRegister(UnassignedStops)
		Registry.MustRegister(DegradedBuilds)
		Registry.MustRegister(Superseded)
		Registry.MustRegister(UpstreamCalls)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
