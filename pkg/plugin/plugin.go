package plugin

import (
	"github.com/cuemby/qsched/pkg/resource"
	"github.com/cuemby/qsched/pkg/types"
)

// Properties is the static capability set a behavior plugin reports once
// via GetSchedProperties.
type Properties struct {
	// OutOfOrderCapable, when true, lets the scheduling loop release all
	// outstanding reservations before each pass because this plugin can
	// re-establish them from scratch without losing progress.
	OutOfOrderCapable bool
}

// Job is the narrow view of a job the policy plugins need: enough to
// build a resource request and report an id, without exposing the rest of
// pkg/jobqueue.Job's fields or the state-machine transition surface. It
// keeps plugins from retaining or mutating anything beyond what they're
// handed for the duration of one call.
type Job struct {
	ID       int64
	Priority int
	Spec     types.ResourceSpec
}

// Behavior is the match/select/allocate/reserve contract.
type Behavior interface {
	// Name identifies the plugin for logs and sched.params.get.
	Name() string

	// ProcessArgs configures the plugin from its scheduler-specific
	// plugin-opts= string.
	ProcessArgs(opts string) error

	// GetSchedProperties reports static capabilities, consulted once per
	// scheduling pass.
	GetSchedProperties() Properties

	// SchedLoopSetup is called once per pass before any job is examined;
	// a non-nil error aborts the pass.
	SchedLoopSetup() error

	// FindResources returns a candidate subtree and match count for req
	// against root.
	FindResources(root *resource.Node, req *resource.Request) (count int, candidates *resource.Node, err error)

	// SelectResources narrows candidates to req.Quantity matches (leaves
	// for a flat request, nodes for a node-level one). prior, if non-nil, is a previously reserved subtree an out-of-order-capable
	// plugin may prefer.
	SelectResources(candidates *resource.Node, req *resource.Request, prior *resource.Node) (*resource.Node, error)

	// AllocateResources tags selected with jobID for interval.
	AllocateResources(selected *resource.Node, jobID int64, interval types.Interval) error

	// ReserveResources attempts a future reservation for a request that
	// couldn't be fully satisfied immediately. On failure the caller
	// destroys *selected itself; ReserveResources never deallocates it.
	ReserveResources(selected **resource.Node, jobID int64, start int64, walltime int64, root *resource.Node, req *resource.Request) error
}

// Priority is the optional prioritize/record contract.
type Priority interface {
	Name() string

	// PrioritySetup runs once at load time.
	PrioritySetup() error

	// PrioritizeJobs may mutate each job's Priority field in place; the
	// scheduling loop stable-sorts by descending Priority afterward.
	PrioritizeJobs(queue []*Job)

	// RecordJobUsage is invoked on reap, for fair-share accounting
	// external to this core.
	RecordJobUsage(job *Job)
}
