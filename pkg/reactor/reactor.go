package reactor

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/qsched/pkg/bus"
	"github.com/cuemby/qsched/pkg/config"
	"github.com/cuemby/qsched/pkg/jobqueue"
	"github.com/cuemby/qsched/pkg/log"
	"github.com/cuemby/qsched/pkg/metrics"
	"github.com/cuemby/qsched/pkg/plugin"
	"github.com/cuemby/qsched/pkg/qerr"
	"github.com/cuemby/qsched/pkg/resource"
	"github.com/cuemby/qsched/pkg/scheduler"
	"github.com/cuemby/qsched/pkg/statemachine"
	"github.com/cuemby/qsched/pkg/types"
)

// eventKind distinguishes the two inbound event shapes queued under the
// simulator driver.
type eventKind int

const (
	eventJobStatus eventKind = iota
	eventResource
)

type simEvent struct {
	kind        eventKind
	jobID       int64
	newState    types.JobState
	spec        types.ResourceSpec
	submittedAt int64
	topic       string
}

// AllocateUpdate is the payload published on types.EventAllocateUpdate.
type AllocateUpdate struct {
	JobID      int64
	Assignment []scheduler.Assignment
}

// Core is the whole scheduler, wired together. It implements
// statemachine.Effects and scheduler.Notifier so the state machine and the
// scheduling loop can drive it without either depending on this package.
type Core struct {
	queues   *jobqueue.Queues
	root     *resource.Node
	behavior plugin.Behavior
	priority plugin.Priority
	bus      *bus.Bus
	machine  *statemachine.Machine
	loop     *scheduler.Loop

	delaySched bool
	reapMode   bool
	schedOnce  bool
	inSim      bool

	// prepArmed/checkArmed track whether the coalescer's watcher pair is
	// allocated; the pair must always be armed or disarmed together, so
	// every place that changes one changes the other in the same step.
	prepArmed  bool
	checkArmed bool

	simTime  int64
	simQueue []simEvent

	logger zerolog.Logger
}

// Deps bundles Core's construction-time collaborators.
type Deps struct {
	Queues        *jobqueue.Queues
	Root          *resource.Node
	Behavior      plugin.Behavior
	Priority      plugin.Priority // never nil; pass priority.NewFIFO() for "none configured"
	Resolver      scheduler.Resolver
	Bus           *bus.Bus
	ReapMode      bool
	SchedOnce     bool
	InSim         bool
	InitialParams types.SchedulingParams
}

// New wires a Core together: the state machine and the scheduling loop are
// constructed here because each needs a reference back to Core itself
// (as Effects and as Notifier, respectively; the loop's Transitioner is
// the state machine), an ownership cycle
// that's only safe to build up inside the owning constructor.
func New(d Deps) *Core {
	c := &Core{
		queues:     d.Queues,
		root:       d.Root,
		behavior:   d.Behavior,
		priority:   d.Priority,
		bus:        d.Bus,
		delaySched: d.InitialParams.DelaySched,
		reapMode:   d.ReapMode,
		schedOnce:  d.SchedOnce,
		inSim:      d.InSim,
		logger:     log.WithComponent("reactor"),
	}
	c.queues.SetQueueDepth(d.InitialParams.QueueDepth)
	if c.delaySched {
		c.prepArmed, c.checkArmed = true, true
	}

	c.machine = statemachine.New(d.Queues, c, d.ReapMode, d.SchedOnce)
	c.loop = scheduler.NewLoop(d.Queues, d.Root, d.Behavior, d.Priority, d.Resolver, c, c.machine)
	return c
}

// RegisterHandlers binds every control-surface topic onto router.
func (c *Core) RegisterHandlers(router *bus.Router) {
	router.Register(types.TopicSchedCancel, c.handleCancel)
	router.Register(types.TopicSchedExclude, c.handleExclude)
	router.Register(types.TopicSchedInclude, c.handleInclude)
	router.Register(types.TopicParamsSet, c.handleParamsSet)
	router.Register(types.TopicParamsGet, c.handleParamsGet)
}

// HandleJobStatus processes one job-status notification. In simulator
// mode it's queued for the next Trigger; otherwise it's dispatched inline.
func (c *Core) HandleJobStatus(jobID int64, newState types.JobState, spec types.ResourceSpec, submittedAt int64) error {
	if c.inSim {
		c.simQueue = append(c.simQueue, simEvent{kind: eventJobStatus, jobID: jobID, newState: newState, spec: spec, submittedAt: submittedAt})
		return nil
	}
	return c.dispatchJobStatus(jobID, newState, spec, submittedAt)
}

// dispatchJobStatus detects a job's first observation by whether the id
// is already indexed, rather than by comparing newState to a specific
// value: any notification for an unknown id is the job's first
// observation.
func (c *Core) dispatchJobStatus(jobID int64, newState types.JobState, spec types.ResourceSpec, submittedAt int64) error {
	if _, err := c.queues.Find(jobID); err != nil {
		return c.machine.HandleSubmitted(jobID, spec, submittedAt)
	}
	return c.machine.Apply(jobID, newState)
}

// HandleResourceEvent processes one sched.res.* inbound event, queuing
// it under the simulator driver the same way job-status events are.
func (c *Core) HandleResourceEvent(topic string) {
	if c.inSim {
		c.simQueue = append(c.simQueue, simEvent{kind: eventResource, topic: topic})
		return
	}
	c.dispatchResourceEvent(topic)
}

func (c *Core) dispatchResourceEvent(topic string) {
	c.queues.MarkDirty()
	if c.delaySched {
		return
	}
	c.RunScheduler()
}

// Trigger drives one simulator step: it drains the queued job-status and
// resource events in FIFO order, runs the coalescer boundary, advances
// the simulated clock, and returns.
func (c *Core) Trigger(simulatedTime int64) error {
	if !c.inSim {
		return qerr.New(qerr.InvalidState, "trigger is only valid under the simulator driver")
	}
	pending := c.simQueue
	c.simQueue = nil
	for _, ev := range pending {
		switch ev.kind {
		case eventJobStatus:
			if err := c.dispatchJobStatus(ev.jobID, ev.newState, ev.spec, ev.submittedAt); err != nil {
				c.logger.Warn().Int64("job_id", ev.jobID).Err(err).Msg("simulated job-status event failed")
			}
		case eventResource:
			c.dispatchResourceEvent(ev.topic)
		}
	}
	c.Prep()
	c.Check()
	c.simTime = simulatedTime
	return nil
}

// RunScheduler runs one scheduling pass and publishes its summary on the
// process-local sched.pass.completed topic.
func (c *Core) RunScheduler() {
	summary := c.loop.RunPass(c.now())
	c.queues.ClearDirty()
	c.bus.Publish(types.EventSchedPassCompleted, summary)
}

func (c *Core) now() int64 {
	if c.inSim {
		return c.simTime
	}
	return time.Now().Unix()
}

// Prep is the coalescer's before-wait watcher. This embedding drives the
// reactor synchronously through explicit Prep/Check calls rather than a
// real async multiplexer, so there's no idle watcher to arm; Prep is
// kept for symmetry with Check and as the hook a future async embedding
// would use.
func (c *Core) Prep() {}

// Check is the coalescer's after-wait watcher: at the event-loop
// boundary, if the dirty flag is set, run one scheduling pass (which
// clears it).
func (c *Core) Check() {
	if !c.delaySched {
		return
	}
	if c.queues.Dirty() {
		metrics.CoalescedEventsTotal.Inc()
		c.RunScheduler()
	}
}

// SetDelaySched reconfigures the coalescer at runtime. Switching to true
// arms the watcher pair; switching to false disarms it and synthesizes a
// single param-update event so a pass that was waiting on the next check
// boundary runs immediately instead.
func (c *Core) SetDelaySched(enabled bool) {
	c.delaySched = enabled
	if enabled {
		c.prepArmed, c.checkArmed = true, true
		return
	}
	c.prepArmed, c.checkArmed = false, false
	c.bus.Publish(types.EventParamUpdate, nil)
	c.queues.MarkDirty()
	c.RunScheduler()
}

// watchersConsistent reports whether the prep/check watcher pair is
// allocated together, never just one.
func (c *Core) watchersConsistent() bool {
	return c.prepArmed == c.checkArmed
}

// QueueDepths reports the current size of each lifecycle queue, sampled
// by pkg/metrics.Collector.
func (c *Core) QueueDepths() map[string]int {
	return map[string]int{
		"pending":   len(c.queues.Pending()),
		"running":   len(c.queues.Running()),
		"completed": len(c.queues.Completed()),
	}
}

// JobStateCounts reports how many jobs currently sit in each lifecycle
// state, sampled by pkg/metrics.Collector.
func (c *Core) JobStateCounts() map[types.JobState]int {
	counts := make(map[types.JobState]int)
	for _, list := range [][]*jobqueue.Job{c.queues.Pending(), c.queues.Running(), c.queues.Completed()} {
		for _, job := range list {
			counts[job.State]++
		}
	}
	return counts
}

// ResourceUtilization reports the allocated fraction of each resource
// kind in the inventory, sampled by pkg/metrics.Collector.
func (c *Core) ResourceUtilization() map[string]float64 {
	return resource.Utilization(c.root)
}

// --- statemachine.Effects ---

func (c *Core) DelaySched() bool { return c.delaySched }

func (c *Core) RequestRun(job *jobqueue.Job) {
	topic := types.EventRunRequestPrefix + strconv.FormatInt(job.ID, 10)
	if c.inSim {
		topic = types.EventSimRunRequestPrefix + strconv.FormatInt(job.ID, 10)
	}
	c.bus.Publish(topic, job.ID)
}

func (c *Core) BroadcastResourcesFreed(job *jobqueue.Job) {
	c.bus.Publish(types.EventResourcesFreed, job.ID)
}

func (c *Core) BroadcastCancelled(job *jobqueue.Job) {
	c.bus.Publish(types.EventJobCancelled, job.ID)
}

func (c *Core) RecordJobUsage(job *jobqueue.Job) {
	c.priority.RecordJobUsage(&plugin.Job{ID: job.ID, Priority: job.Priority, Spec: job.Spec})
}

// --- scheduler.Notifier ---

func (c *Core) NotifyAllocated(job *jobqueue.Job, assignment []scheduler.Assignment) error {
	c.bus.Publish(types.EventAllocateUpdate, AllocateUpdate{JobID: job.ID, Assignment: assignment})
	return nil
}

// --- control surface ---

func (c *Core) handleCancel(payload any) (any, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, qerr.New(qerr.InvalidArg, "sched.cancel requires a jobid")
	}
	jobID, err := intFromAny(m["jobid"])
	if err != nil {
		return nil, err
	}
	job, err := c.machine.Cancel(jobID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"jobid": job.ID}, nil
}

func (c *Core) handleExclude(payload any) (any, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, qerr.New(qerr.InvalidArg, "sched.exclude requires node and kill")
	}
	hostname, _ := m["node"].(string)
	kill, _ := m["kill"].(bool)

	matched := resource.Exclude(c.root, hostname)
	if len(matched) == 0 {
		return nil, qerr.New(qerr.NotFound, "no resource node matches "+hostname)
	}

	if kill {
		killed := make(map[int64]bool)
		for _, n := range matched {
			if n.JobID == 0 || killed[n.JobID] {
				continue
			}
			killed[n.JobID] = true
			topic := types.EventKillPrefix + strconv.FormatInt(n.JobID, 10) + types.EventKillSuffix
			c.bus.Publish(topic, n.JobID)
		}
	}
	c.bus.Publish(types.EventResourcesExcluded, hostname)
	return map[string]any{}, nil
}

func (c *Core) handleInclude(payload any) (any, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, qerr.New(qerr.InvalidArg, "sched.include requires node")
	}
	hostname, _ := m["node"].(string)

	_, skipped := resource.Include(c.root, hostname)
	for _, n := range skipped {
		c.logger.Warn().Str("hostname", hostname).Str("state", string(n.State)).Msg("include skipped node not in excluded/idle/invalid")
	}
	c.bus.Publish(types.EventResourcesIncluded, hostname)
	return map[string]any{}, nil
}

func (c *Core) handleParamsSet(payload any) (any, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, qerr.New(qerr.InvalidArg, "sched.params.set requires param")
	}
	raw, _ := m["param"].(string)

	base := types.SchedulingParams{QueueDepth: c.queues.QueueDepth(), DelaySched: c.delaySched}
	next, err := config.ParseSchedParams(raw, base)
	if err != nil {
		return nil, err
	}

	c.queues.SetQueueDepth(next.QueueDepth)
	if next.DelaySched != c.delaySched {
		c.SetDelaySched(next.DelaySched)
	}
	return map[string]any{}, nil
}

func (c *Core) handleParamsGet(payload any) (any, error) {
	return map[string]any{
		"queue-depth": c.queues.QueueDepth(),
		"delay-sched": c.delaySched,
		"plugin":      c.behavior.Name(),
		"priority":    c.priority.Name(),
	}, nil
}

func intFromAny(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, qerr.New(qerr.InvalidArg, "expected an integer jobid")
	}
}
