package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Library metrics
	ContainersLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_containers_loaded_total",
			Help: "Number of container definitions in the loaded library",
		},
	)

	LibraryRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_library_refreshes_total",
			Help: "Library refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Matcher metrics
	MatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_matches_total",
			Help: "Matcher passes by outcome",
		},
		[]string{"outcome"},
	)

	MatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drover_match_duration_seconds",
			Help:    "Time taken for one matcher pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Queue metrics
	TasksQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_tasks_queued_total",
			Help: "Total number of operation tasks enqueued",
		},
	)

	TasksCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_tasks_completed_total",
			Help: "Total number of operation tasks completed",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_tasks_failed_total",
			Help: "Total number of operation tasks failed",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_queue_depth",
			Help: "Pending operation tasks by container id",
		},
		[]string{"container"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drover_task_duration_seconds",
			Help:    "Operation task run time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Checkpoint metrics
	CheckpointDetections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_checkpoint_detections_total",
			Help: "Checkpoint detections by platform and checkpoint",
		},
		[]string{"platform", "checkpoint"},
	)

	CheckpointRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_checkpoint_recoveries_total",
			Help: "Recovery attempts by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// Workflow metrics
	WorkflowRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_workflow_runs_total",
			Help: "Workflow runs by outcome",
		},
		[]string{"outcome"},
	)

	BlockDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drover_block_duration_seconds",
			Help:    "Workflow block run time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"block"},
	)

	// Bridge metrics
	BridgeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_bridge_calls_total",
			Help: "Bridge RPC calls by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// Session metrics
	SessionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_sessions_live",
			Help: "Live browser sessions tracked by the session manager",
		},
	)
)

// init registers all metrics with the default registry
func init() {
	prometheus.MustRegister(
		ContainersLoaded,
		LibraryRefreshes,
		MatchesTotal,
		MatchDuration,
		TasksQueued,
		TasksCompleted,
		TasksFailed,
		QueueDepth,
		TaskDuration,
		CheckpointDetections,
		CheckpointRecoveries,
		WorkflowRuns,
		BlockDuration,
		BridgeCalls,
		SessionsLive,
	)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures operation durations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(time.Since(t.start).Seconds())
}
