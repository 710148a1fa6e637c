package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Timing helpers back every latency metric in the package, so these
// tests drive them the way the scheduling loop does: start a timer
// around some work, then observe into a pass-duration histogram or a
// plugin-call histogram vec.

func passHistogram() prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_scheduling_pass_duration_seconds",
		Help:    "Scheduling pass latency recorded during tests",
		Buckets: prometheus.DefBuckets,
	})
}

func TestTimerDurationGrowsWithElapsedWork(t *testing.T) {
	timer := NewTimer()

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	require.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	second := timer.Duration()
	assert.Greater(t, second, first, "a second reading must include the extra work")
}

func TestTimerObserveDurationRecordsOnePassSample(t *testing.T) {
	hist := passHistogram()
	timer := NewTimer()

	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(hist)

	assert.Equal(t, 1, testutil.CollectAndCount(hist))
}

func TestTimerObserveDurationVecLabelsPluginCalls(t *testing.T) {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_plugin_invocation_duration_seconds",
			Help:    "Plugin call latency recorded during tests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin", "entrypoint"},
	)

	entrypoints := []string{"find_resources", "select_resources", "allocate_resources"}
	for _, ep := range entrypoints {
		timer := NewTimer()
		timer.ObserveDurationVec(vec, "sched.fcfs", ep)
	}

	// One labeled series per entry point, all under the same plugin.
	assert.Equal(t, len(entrypoints), testutil.CollectAndCount(vec))
}

func TestIndependentTimersDoNotShareStart(t *testing.T) {
	outer := NewTimer()
	time.Sleep(20 * time.Millisecond)
	inner := NewTimer()
	time.Sleep(10 * time.Millisecond)

	assert.Greater(t, outer.Duration(), inner.Duration(),
		"a pass timer started before a plugin-call timer must read longer")
}
