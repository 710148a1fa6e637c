package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/qsched/pkg/bus"
	"github.com/cuemby/qsched/pkg/jobqueue"
	"github.com/cuemby/qsched/pkg/plugin/fcfs"
	"github.com/cuemby/qsched/pkg/plugin/priority"
	"github.com/cuemby/qsched/pkg/qerr"
	"github.com/cuemby/qsched/pkg/resource"
	"github.com/cuemby/qsched/pkg/types"
)

type staticResolver struct{}

func (staticResolver) Resolve(hostname, digest string) (int, error) { return 0, nil }

// clusterOf builds a cluster -> node -> cores inventory, coresPerHost
// cores under each named host.
func clusterOf(coresPerHost int, hostnames ...string) *resource.Node {
	root := resource.NewNode(resource.KindCluster, "test")
	for _, h := range hostnames {
		node := resource.NewNode(resource.KindNode, h)
		for i := 0; i < coresPerHost; i++ {
			node.Children = append(node.Children, resource.NewNode(resource.KindCore, h))
		}
		root.Children = append(root.Children, node)
	}
	return root
}

type testCore struct {
	core   *Core
	queues *jobqueue.Queues
	root   *resource.Node
	bus    *bus.Bus
	router *bus.Router
}

func newTestCore(root *resource.Node, params types.SchedulingParams, reap, inSim bool) *testCore {
	q := jobqueue.New(params.QueueDepth)
	b := bus.New()
	core := New(Deps{
		Queues:        q,
		Root:          root,
		Behavior:      fcfs.New(),
		Priority:      priority.NewFIFO(),
		Resolver:      staticResolver{},
		Bus:           b,
		ReapMode:      reap,
		InSim:         inSim,
		InitialParams: params,
	})
	router := bus.NewRouter()
	core.RegisterHandlers(router)
	return &testCore{core: core, queues: q, root: root, bus: b, router: router}
}

func defaultParams() types.SchedulingParams {
	return types.SchedulingParams{QueueDepth: types.DefaultQueueDepth}
}

// drain counts the events currently buffered on ch without blocking.
func drain(ch <-chan bus.Event) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

func TestCancelViaControlSurface(t *testing.T) {
	// Two nodes requested against a one-node inventory: the submitted
	// job can't be placed and stays in sched-req.
	tc := newTestCore(clusterOf(1, "node1"), defaultParams(), false, false)
	cancelled := tc.bus.Subscribe(types.EventJobCancelled)

	require.NoError(t, tc.core.HandleJobStatus(1, types.StateSubmitted, types.ResourceSpec{Nnodes: 2, Ncores: 2, Walltime: 60}, 0))

	resp := tc.router.Handle(bus.Request{Topic: types.TopicSchedCancel, Payload: map[string]any{"jobid": 1}})
	require.NoError(t, resp.Err)
	assert.Equal(t, map[string]any{"jobid": int64(1)}, resp.Payload)
	assert.Equal(t, 1, drain(cancelled))

	_, err := tc.queues.Find(1)
	require.Error(t, err)
	kind, _ := qerr.KindOf(err)
	assert.Equal(t, qerr.NotFound, kind)
}

func TestCancelUnknownJob(t *testing.T) {
	tc := newTestCore(clusterOf(1, "node1"), defaultParams(), false, false)

	resp := tc.router.Handle(bus.Request{Topic: types.TopicSchedCancel, Payload: map[string]any{"jobid": 42}})
	require.Error(t, resp.Err)
	kind, _ := qerr.KindOf(resp.Err)
	assert.Equal(t, qerr.NotFound, kind)
}

func TestDoubleCancelReapOn(t *testing.T) {
	tc := newTestCore(clusterOf(1, "node1"), defaultParams(), true, false)
	require.NoError(t, tc.core.HandleJobStatus(1, types.StateSubmitted, types.ResourceSpec{Nnodes: 2, Ncores: 2}, 0))

	resp := tc.router.Handle(bus.Request{Topic: types.TopicSchedCancel, Payload: map[string]any{"jobid": 1}})
	require.NoError(t, resp.Err)

	resp = tc.router.Handle(bus.Request{Topic: types.TopicSchedCancel, Payload: map[string]any{"jobid": 1}})
	require.Error(t, resp.Err)
	kind, _ := qerr.KindOf(resp.Err)
	assert.Equal(t, qerr.InvalidState, kind)
}

func TestExcludeWithKill(t *testing.T) {
	tc := newTestCore(clusterOf(2, "nodeX", "nodeY"), defaultParams(), false, false)

	// Two jobs allocated on nodeX, one core each.
	nodeX := tc.root.Children[0]
	nodeX.Children[0].State = types.NodeAllocated
	nodeX.Children[0].JobID = 10
	nodeX.Children[1].State = types.NodeAllocated
	nodeX.Children[1].JobID = 11

	kill10 := tc.bus.Subscribe("wreck.10.kill")
	kill11 := tc.bus.Subscribe("wreck.11.kill")
	excluded := tc.bus.Subscribe(types.EventResourcesExcluded)

	resp := tc.router.Handle(bus.Request{Topic: types.TopicSchedExclude, Payload: map[string]any{"node": "nodeX", "kill": true}})
	require.NoError(t, resp.Err)
	assert.Equal(t, map[string]any{}, resp.Payload)

	assert.Equal(t, 1, drain(kill10))
	assert.Equal(t, 1, drain(kill11))
	assert.Equal(t, 1, drain(excluded))

	for _, n := range tc.root.MatchHostname("nodeX") {
		assert.Equal(t, types.NodeExcluded, n.State)
	}
	for _, n := range tc.root.MatchHostname("nodeY") {
		assert.Equal(t, types.NodeIdle, n.State)
	}
}

func TestExcludeUnknownHost(t *testing.T) {
	tc := newTestCore(clusterOf(1, "node1"), defaultParams(), false, false)

	resp := tc.router.Handle(bus.Request{Topic: types.TopicSchedExclude, Payload: map[string]any{"node": "ghost", "kill": false}})
	require.Error(t, resp.Err)
	kind, _ := qerr.KindOf(resp.Err)
	assert.Equal(t, qerr.NotFound, kind)
}

func TestExcludeThenIncludeRestoresIdle(t *testing.T) {
	tc := newTestCore(clusterOf(2, "node1"), defaultParams(), false, false)
	included := tc.bus.Subscribe(types.EventResourcesIncluded)

	resp := tc.router.Handle(bus.Request{Topic: types.TopicSchedExclude, Payload: map[string]any{"node": "node1", "kill": false}})
	require.NoError(t, resp.Err)

	resp = tc.router.Handle(bus.Request{Topic: types.TopicSchedInclude, Payload: map[string]any{"node": "node1"}})
	require.NoError(t, resp.Err)
	assert.Equal(t, 1, drain(included))

	for _, n := range tc.root.MatchHostname("node1") {
		assert.Equal(t, types.NodeIdle, n.State)
	}
}

func TestParamsSetGetRoundTrip(t *testing.T) {
	tc := newTestCore(clusterOf(1, "node1"), defaultParams(), false, false)

	resp := tc.router.Handle(bus.Request{Topic: types.TopicParamsSet, Payload: map[string]any{"param": "queue-depth=7,delay-sched=true"}})
	require.NoError(t, resp.Err)

	resp = tc.router.Handle(bus.Request{Topic: types.TopicParamsGet, Payload: map[string]any{}})
	require.NoError(t, resp.Err)
	got := resp.Payload.(map[string]any)
	assert.Equal(t, 7, got["queue-depth"])
	assert.Equal(t, true, got["delay-sched"])
	assert.Equal(t, "sched.fcfs", got["plugin"])

	assert.True(t, tc.core.watchersConsistent())
}

func TestParamsSetRejectsMalformedInput(t *testing.T) {
	tc := newTestCore(clusterOf(1, "node1"), defaultParams(), false, false)

	resp := tc.router.Handle(bus.Request{Topic: types.TopicParamsSet, Payload: map[string]any{"param": "queue-depth=0"}})
	require.Error(t, resp.Err)
	kind, _ := qerr.KindOf(resp.Err)
	assert.Equal(t, qerr.InvalidArg, kind)

	// The failed set must not have touched the live value.
	resp = tc.router.Handle(bus.Request{Topic: types.TopicParamsGet, Payload: map[string]any{}})
	require.NoError(t, resp.Err)
	assert.Equal(t, types.DefaultQueueDepth, resp.Payload.(map[string]any)["queue-depth"])
}

func TestCoalescingRunsOncePerBoundary(t *testing.T) {
	params := defaultParams()
	params.DelaySched = true
	tc := newTestCore(clusterOf(1, "node1"), params, false, false)
	passes := tc.bus.Subscribe(types.EventSchedPassCompleted)

	// Three resource events in one reactor iteration: no pass yet.
	tc.core.HandleResourceEvent(types.EventResourcesFreed)
	tc.core.HandleResourceEvent(types.EventResourcesFreed)
	tc.core.HandleResourceEvent(types.EventResourcesFreed)
	assert.Equal(t, 0, drain(passes))

	// The check boundary runs the pass exactly once.
	tc.core.Check()
	assert.Equal(t, 1, drain(passes))

	// A boundary with a clean flag runs nothing.
	tc.core.Check()
	assert.Equal(t, 0, drain(passes))
}

func TestInlineModeSchedulesPerEvent(t *testing.T) {
	tc := newTestCore(clusterOf(1, "node1"), defaultParams(), false, false)
	passes := tc.bus.Subscribe(types.EventSchedPassCompleted)

	tc.core.HandleResourceEvent(types.EventResourcesFreed)
	tc.core.HandleResourceEvent(types.EventResourcesFreed)
	assert.Equal(t, 2, drain(passes))
}

func TestSetDelaySchedFalseRunsPromptPass(t *testing.T) {
	params := defaultParams()
	params.DelaySched = true
	tc := newTestCore(clusterOf(1, "node1"), params, false, false)
	passes := tc.bus.Subscribe(types.EventSchedPassCompleted)
	paramUpdates := tc.bus.Subscribe(types.EventParamUpdate)

	// An event is pending at the moment the mode flips.
	tc.core.HandleResourceEvent(types.EventResourcesFreed)
	assert.Equal(t, 0, drain(passes))

	tc.core.SetDelaySched(false)
	assert.Equal(t, 1, drain(passes))
	assert.Equal(t, 1, drain(paramUpdates))
	assert.True(t, tc.core.watchersConsistent())
}

func TestSubmissionAllocatesAndRequestsRun(t *testing.T) {
	tc := newTestCore(clusterOf(4, "node1"), defaultParams(), false, false)
	allocs := tc.bus.Subscribe(types.EventAllocateUpdate)
	runs := tc.bus.Subscribe(types.EventRunRequestPrefix + "1")

	require.NoError(t, tc.core.HandleJobStatus(1, types.StateSubmitted, types.ResourceSpec{Ncores: 2, Walltime: 60}, 0))

	job, err := tc.queues.Find(1)
	require.NoError(t, err)
	assert.Equal(t, types.StateSelected, job.State)
	assert.NotNil(t, job.ResourceTree)
	assert.Equal(t, 1, drain(allocs))

	// The run request follows the allocated notification round-trip.
	require.NoError(t, tc.core.HandleJobStatus(1, types.StateAllocated, types.ResourceSpec{}, 0))
	assert.Equal(t, 1, drain(runs))
}

func TestCompletionFreesResources(t *testing.T) {
	tc := newTestCore(clusterOf(4, "node1"), defaultParams(), false, false)
	freed := tc.bus.Subscribe(types.EventResourcesFreed)

	require.NoError(t, tc.core.HandleJobStatus(1, types.StateSubmitted, types.ResourceSpec{Ncores: 2, Walltime: 60}, 0))
	for _, state := range []types.JobState{
		types.StateAllocated, types.StateRunRequest, types.StateStarting,
		types.StateRunning, types.StateCompleting, types.StateComplete,
	} {
		require.NoError(t, tc.core.HandleJobStatus(1, state, types.ResourceSpec{}, 0))
	}

	assert.Equal(t, 1, drain(freed))
	for _, leaf := range tc.root.Leaves() {
		assert.NotEqual(t, int64(1), leaf.JobID)
		assert.Equal(t, types.NodeIdle, leaf.State)
	}
	_, err := tc.queues.Find(1)
	assert.Error(t, err)
}

func TestSimulatorQueuesEventsUntilTrigger(t *testing.T) {
	tc := newTestCore(clusterOf(4, "node1"), defaultParams(), false, true)

	require.NoError(t, tc.core.HandleJobStatus(1, types.StateSubmitted, types.ResourceSpec{Ncores: 1, Walltime: 60}, 0))
	_, err := tc.queues.Find(1)
	require.Error(t, err, "queued, not yet dispatched")

	require.NoError(t, tc.core.Trigger(100))

	job, err := tc.queues.Find(1)
	require.NoError(t, err)
	assert.Equal(t, types.StateSelected, job.State)
	assert.Equal(t, int64(100), tc.core.simTime)
}

func TestTriggerOutsideSimulatorFails(t *testing.T) {
	tc := newTestCore(clusterOf(1, "node1"), defaultParams(), false, false)

	err := tc.core.Trigger(100)
	require.Error(t, err)
	kind, _ := qerr.KindOf(err)
	assert.Equal(t, qerr.InvalidState, kind)
}

func TestSimRunRequestTopic(t *testing.T) {
	tc := newTestCore(clusterOf(4, "node1"), defaultParams(), false, true)
	simRuns := tc.bus.Subscribe(types.EventSimRunRequestPrefix + "1")

	require.NoError(t, tc.core.HandleJobStatus(1, types.StateSubmitted, types.ResourceSpec{Ncores: 1}, 0))
	require.NoError(t, tc.core.Trigger(10))
	require.NoError(t, tc.core.HandleJobStatus(1, types.StateAllocated, types.ResourceSpec{}, 0))
	require.NoError(t, tc.core.Trigger(20))

	assert.Equal(t, 1, drain(simRuns))
}
