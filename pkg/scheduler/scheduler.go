package scheduler

import (
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/qsched/pkg/jobqueue"
	"github.com/cuemby/qsched/pkg/log"
	"github.com/cuemby/qsched/pkg/metrics"
	"github.com/cuemby/qsched/pkg/plugin"
	"github.com/cuemby/qsched/pkg/resource"
	"github.com/cuemby/qsched/pkg/types"
)

// Resolver turns an allocated leaf's {hostname, digest} pair into a cluster
// rank. pkg/topology.LookupTable is the one concrete implementation; it's
// an interface here so a pass can be tested without bbolt.
type Resolver interface {
	Resolve(hostname, digest string) (int, error)
}

// Assignment is one resolved, deduplicated per-host leaf of an allocate
// update.
type Assignment struct {
	Hostname string
	Digest   string
	Rank     int
}

// Notifier posts the allocate update that follows a successful
// scheduleJob call. The run request that follows it is triggered
// separately, by pkg/statemachine's selected->allocated handling once
// the job-status service round-trips the update; Notifier only covers
// the outbound half of that exchange.
type Notifier interface {
	NotifyAllocated(job *jobqueue.Job, assignment []Assignment) error
}

// Transitioner is the slice of pkg/statemachine.Machine the loop drives
// jobs through. An interface so tests can fake it and so this package
// doesn't import pkg/statemachine, which already imports pkg/jobqueue and
// pkg/resource. The loop only ever needs Apply.
type Transitioner interface {
	Apply(jobID int64, newState types.JobState) error
}

// Summary reports one pass's outcome: how many jobs were examined, and
// how many of those ended up allocated or reserved.
type Summary struct {
	Examined  int
	Allocated int
	Reserved  int
}

// outcome is scheduleJob's internal result, used only to update Summary.
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeAllocated
	outcomeReserved
)

// Loop runs one scheduling pass at a time.
type Loop struct {
	queues       *jobqueue.Queues
	root         *resource.Node
	behavior     plugin.Behavior
	priority     plugin.Priority
	resolver     Resolver
	notifier     Notifier
	transitioner Transitioner
	logger       zerolog.Logger
}

// NewLoop constructs a Loop. priority may be nil, meaning no priority
// plugin is loaded; pass priority.NewFIFO() instead of nil if a no-op
// plugin object is preferred over a branch; pkg/reactor's wiring makes
// that call.
func NewLoop(queues *jobqueue.Queues, root *resource.Node, behavior plugin.Behavior, priority plugin.Priority, resolver Resolver, notifier Notifier, transitioner Transitioner) *Loop {
	return &Loop{
		queues:       queues,
		root:         root,
		behavior:     behavior,
		priority:     priority,
		resolver:     resolver,
		notifier:     notifier,
		transitioner: transitioner,
		logger:       log.WithComponent("scheduler"),
	}
}

// RunPass prioritizes and sorts the pending queue, prepares the behavior
// plugin, then walks up to queue_depth sched-req jobs, attempting to
// allocate or reserve resources for each. It returns a summary of what
// it did.
func (l *Loop) RunPass(starttime int64) Summary {
	timer := metrics.NewTimer()
	passID := uuid.New().String()
	logger := l.logger.With().Str("pass_id", passID).Logger()
	defer func() {
		timer.ObserveDuration(metrics.SchedulingPassDuration)
		metrics.SchedulingPassesTotal.Inc()
	}()

	pending := l.queues.Pending()

	if l.priority != nil {
		narrow := make([]*plugin.Job, len(pending))
		for i, j := range pending {
			narrow[i] = &plugin.Job{ID: j.ID, Priority: j.Priority, Spec: j.Spec}
		}
		l.priority.PrioritizeJobs(narrow)
		for i, j := range pending {
			j.Priority = narrow[i].Priority
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority > pending[j].Priority
	})

	// An out-of-order-capable plugin re-establishes reservations from
	// scratch each pass, so release whatever is outstanding first.
	if l.behavior.GetSchedProperties().OutOfOrderCapable {
		resource.ReleaseReservations(l.root, starttime)
	}

	if err := l.behavior.SchedLoopSetup(); err != nil {
		l.pluginFailed(logger, "sched_loop_setup", 0, err)
		return Summary{}
	}

	depth := l.queues.QueueDepth()
	var summary Summary
	for _, job := range pending {
		if summary.Examined >= depth {
			break
		}
		if job.State != types.StateSchedReq {
			continue
		}
		summary.Examined++
		metrics.JobsExaminedTotal.Inc()

		switch l.scheduleJob(job, starttime, logger) {
		case outcomeAllocated:
			summary.Allocated++
		case outcomeReserved:
			summary.Reserved++
		}
	}
	return summary
}

// scheduleJob tries to place one job. Every failure path logs and
// returns outcomeSkipped; nothing here ever aborts the pass for the jobs
// that follow.
func (l *Loop) scheduleJob(job *jobqueue.Job, starttime int64, logger zerolog.Logger) outcome {
	req, coresPerNode, gpusPerNode, err := resource.Build(job.Spec, starttime)
	if err != nil {
		logger.Warn().Int64("job_id", job.ID).Err(err).Msg("resource request build failed, skipping job")
		return outcomeSkipped
	}
	job.CoresPerNode = coresPerNode
	job.GPUsPerNode = gpusPerNode

	count, candidates, err := l.behavior.FindResources(l.root, req)
	if err != nil {
		l.pluginFailed(logger, "find_resources", job.ID, err)
		return outcomeSkipped
	}
	if count == 0 {
		return outcomeSkipped
	}

	l.root.Unstage()
	l.root.ClearFound()

	selected, err := l.behavior.SelectResources(candidates, req, nil)
	if err != nil {
		l.pluginFailed(logger, "select_resources", job.ID, err)
		return outcomeSkipped
	}

	if selected != nil {
		return l.allocate(job, req, selected, starttime, logger)
	}
	return l.reserve(job, req, selected, starttime, logger)
}

// allocate handles the fully-satisfied branch: resolve the hostname->rank
// assignment before committing any allocation, so a failed resolution
// aborts before the resource tree or the job record is touched.
func (l *Loop) allocate(job *jobqueue.Job, req *resource.Request, selected *resource.Node, starttime int64, logger zerolog.Logger) outcome {
	assignment, err := l.resolveAssignment(selected)
	if err != nil {
		logger.Warn().Int64("job_id", job.ID).Err(err).Msg("hostname->rank resolution failed, aborting allocation")
		return outcomeSkipped
	}

	if err := l.behavior.AllocateResources(selected, job.ID, req.Interval); err != nil {
		l.pluginFailed(logger, "allocate_resources", job.ID, err)
		return outcomeSkipped
	}

	job.StartTime = starttime
	job.AttachResources(selected)
	metrics.JobsAllocatedTotal.Inc()

	if err := l.transitioner.Apply(job.ID, types.StateSelected); err != nil {
		logger.Error().Int64("job_id", job.ID).Err(err).Msg("transition to selected rejected after allocation")
	}
	if err := l.notifier.NotifyAllocated(job, assignment); err != nil {
		logger.Warn().Int64("job_id", job.ID).Err(err).Msg("allocate update delivery failed")
	}
	return outcomeAllocated
}

// reserve handles the not-fully-satisfied branch. selected is whatever
// SelectResources returned (nil under the default resource package,
// which never partially selects); a plugin is free to hand
// ReserveResources a non-nil partial subtree of its own construction.
func (l *Loop) reserve(job *jobqueue.Job, req *resource.Request, selected *resource.Node, starttime int64, logger zerolog.Logger) outcome {
	err := l.behavior.ReserveResources(&selected, job.ID, starttime, job.Spec.Walltime, l.root, req)
	if err != nil {
		l.pluginFailed(logger, "reserve_resources", job.ID, err)
		return outcomeSkipped
	}

	job.AttachResources(selected)
	metrics.JobsReservedTotal.Inc()
	return outcomeReserved
}

// resolveAssignment reduces a selected subtree to one resolved entry per
// distinct hostname.
func (l *Loop) resolveAssignment(selected *resource.Node) ([]Assignment, error) {
	seen := make(map[string]bool)
	var out []Assignment
	for _, leaf := range selected.Leaves() {
		if seen[leaf.Hostname] {
			continue
		}
		seen[leaf.Hostname] = true
		rank, err := l.resolver.Resolve(leaf.Hostname, leaf.Digest)
		if err != nil {
			return nil, err
		}
		out = append(out, Assignment{Hostname: leaf.Hostname, Digest: leaf.Digest, Rank: rank})
	}
	return out, nil
}

func (l *Loop) pluginFailed(logger zerolog.Logger, entrypoint string, jobID int64, err error) {
	logger.Warn().
		Int64("job_id", jobID).
		Str("plugin", l.behavior.Name()).
		Str("entrypoint", entrypoint).
		Err(err).
		Msg("policy plugin call failed")
	metrics.PluginFailuresTotal.WithLabelValues(l.behavior.Name(), entrypoint).Inc()
}
