// README: Prometheus collectors for the dispatch engine and HTTP layer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated registry served on /metrics.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "dispatch_http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path"},
	)

	// Allocations counts allocation rounds by outcome (assigned, pending_no_drivers, error, conflict).
	Allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_allocations_total", Help: "Allocation rounds by outcome."},
		[]string{"outcome"},
	)
	AllocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dispatch_allocation_duration_seconds", Help: "Wall time of one allocation round.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}},
	)
	PlannerCandidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_planner_candidates_total", Help: "Insertion candidates by verdict."},
		[]string{"verdict"},
	)

	// TravelTimeLookups counts oracle lookups by result (hit, miss, penalty).
	TravelTimeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_traveltime_lookups_total", Help: "Travel-time oracle lookups by result."},
		[]string{"result"},
	)

	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_job_runs_total", Help: "Scheduled job runs by task and status."},
		[]string{"task", "status"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "dispatch_job_duration_seconds", Help: "Scheduled job duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900}},
		[]string{"task"},
	)

	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "dispatch_op_duration_seconds", Help: "Duration of timed internal operations.", Buckets: prometheus.DefBuckets},
		[]string{"op", "status"},
	)
)

var regOnce sync.Once

// Register adds every collector to Registry. Safe to call more than once.
func Register() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Allocations)
		Registry.MustRegister(AllocationDuration)
		Registry.MustRegister(PlannerCandidates)
		Registry.MustRegister(TravelTimeLookups)
		Registry.MustRegister(JobRuns)
		Registry.MustRegister(JobDuration)
		Registry.MustRegister(OpDuration)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
