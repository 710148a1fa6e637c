package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qsched_queue_depth",
			Help: "Number of jobs in each queue",
		},
		[]string{"queue"},
	)

	JobsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qsched_jobs_by_state",
			Help: "Number of jobs currently in each state",
		},
		[]string{"state"},
	)

	// Scheduling loop metrics
	SchedulingPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qsched_scheduling_pass_duration_seconds",
			Help:    "Time taken to complete one scheduling loop pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulingPassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qsched_scheduling_passes_total",
			Help: "Total number of scheduling loop passes run",
		},
	)

	JobsExaminedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qsched_jobs_examined_total",
			Help: "Total number of jobs examined across all scheduling passes",
		},
	)

	JobsAllocatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qsched_jobs_allocated_total",
			Help: "Total number of jobs that received an immediate resource allocation",
		},
	)

	JobsReservedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qsched_jobs_reserved_total",
			Help: "Total number of jobs that received a future reservation instead of an allocation",
		},
	)

	// Plugin metrics
	PluginInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qsched_plugin_invocation_duration_seconds",
			Help:    "Time taken by a policy plugin call, by plugin name and entry point",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin", "entrypoint"},
	)

	PluginFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qsched_plugin_failures_total",
			Help: "Total number of policy plugin calls that returned an error, by plugin name and entry point",
		},
		[]string{"plugin", "entrypoint"},
	)

	// State machine metrics
	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qsched_state_transitions_total",
			Help: "Total number of job state transitions, by from and to state",
		},
		[]string{"from", "to"},
	)

	IllegalTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qsched_illegal_transitions_total",
			Help: "Total number of rejected illegal job state transitions, by from state and attempted event",
		},
		[]string{"from", "event"},
	)

	// Resource tree metrics
	ResourceUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qsched_resource_utilization_ratio",
			Help: "Fraction of resources allocated, by resource type (core, gpu, node)",
		},
		[]string{"type"},
	)

	ResourceReleaseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qsched_resource_release_duration_seconds",
			Help:    "Time taken to release a job's resource subtree back to the inventory",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Event coalescer metrics
	CoalescedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qsched_coalesced_events_total",
			Help: "Total number of scheduling passes run at a coalescer check boundary, each covering every event that marked the queue dirty since the previous boundary",
		},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(JobsByState)
	prometheus.MustRegister(SchedulingPassDuration)
	prometheus.MustRegister(SchedulingPassesTotal)
	prometheus.MustRegister(JobsExaminedTotal)
	prometheus.MustRegister(JobsAllocatedTotal)
	prometheus.MustRegister(JobsReservedTotal)
	prometheus.MustRegister(PluginInvocationDuration)
	prometheus.MustRegister(PluginFailuresTotal)
	prometheus.MustRegister(StateTransitionsTotal)
	prometheus.MustRegister(IllegalTransitionsTotal)
	prometheus.MustRegister(ResourceUtilization)
	prometheus.MustRegister(ResourceReleaseDuration)
	prometheus.MustRegister(CoalescedEventsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
