package statemachine

import (
	"github.com/rs/zerolog"

	"github.com/cuemby/qsched/pkg/jobqueue"
	"github.com/cuemby/qsched/pkg/log"
	"github.com/cuemby/qsched/pkg/metrics"
	"github.com/cuemby/qsched/pkg/qerr"
	"github.com/cuemby/qsched/pkg/resource"
	"github.com/cuemby/qsched/pkg/types"
)

// legalTransitions enumerates every transition the lifecycle allows.
// Anything not in this set is logged and dropped, never mutating the job.
//
// cancelled->reaped, complete->reaped, and failed->reaped are always
// applied in the same call as the transition that precedes them (Cancel,
// and releaseAndDispose for failed/complete) rather than waiting for a
// separate later notification.
var legalTransitions = map[types.JobState]map[types.JobState]bool{
	types.StateNull:       {types.StateSubmitted: true},
	types.StateSubmitted:  {types.StatePending: true},
	types.StatePending:    {types.StateSchedReq: true},
	types.StateSchedReq:   {types.StateSelected: true, types.StateCancelled: true},
	types.StateSelected:   {types.StateAllocated: true},
	types.StateAllocated:  {types.StateRunRequest: true},
	types.StateRunRequest: {types.StateStarting: true, types.StateFailed: true},
	types.StateStarting:   {types.StateRunning: true, types.StateFailed: true},
	types.StateRunning:    {types.StateCompleting: true},
	types.StateCompleting: {types.StateComplete: true},
	types.StateComplete:   {types.StateReaped: true},
	types.StateFailed:     {types.StateReaped: true},
	types.StateCancelled:  {types.StateReaped: true},
}

// Effects is the set of side-channel operations the state machine
// triggers but doesn't own: running a scheduling pass, issuing the run
// request to the execution service, and publishing broadcast events.
// Implemented by pkg/reactor.Core: an explicit value threaded in, not a
// package global.
type Effects interface {
	// DelaySched reports the live value of the delay_sched knob.
	DelaySched() bool
	// RunScheduler runs one scheduling loop pass inline.
	RunScheduler()
	// RequestRun issues the run request for a job that has just been
	// allocated, on a topic derived from the job id.
	RequestRun(job *jobqueue.Job)
	// BroadcastResourcesFreed publishes sched.res.freed.
	BroadcastResourcesFreed(job *jobqueue.Job)
	// BroadcastCancelled publishes wreck.state.cancelled.
	BroadcastCancelled(job *jobqueue.Job)
	// RecordJobUsage invokes the priority plugin's accounting hook, or
	// does nothing if none is loaded.
	RecordJobUsage(job *jobqueue.Job)
}

// Machine interprets notifications and drives job transitions.
type Machine struct {
	queues    *jobqueue.Queues
	effects   Effects
	reapMode  bool
	schedOnce bool
	logger    zerolog.Logger
}

// New constructs a Machine. reapMode and schedOnce are static startup
// configuration; unlike queue_depth/delay_sched they are never
// live-tunable.
func New(queues *jobqueue.Queues, effects Effects, reapMode, schedOnce bool) *Machine {
	return &Machine{
		queues:    queues,
		effects:   effects,
		reapMode:  reapMode,
		schedOnce: schedOnce,
		logger:    log.WithComponent("statemachine"),
	}
}

// HandleSubmitted processes the first observation of a job id: it
// creates the job record, parses the request fields onto it, and falls
// through the implicit submitted -> pending -> sched-req transitions in
// the same call before invoking or deferring the scheduling loop.
func (m *Machine) HandleSubmitted(jobID int64, spec types.ResourceSpec, submittedAt int64) error {
	job, err := m.queues.EnqueuePending(jobID, spec, submittedAt)
	if err != nil {
		m.logger.Warn().Int64("job_id", jobID).Err(err).Msg("duplicate submission ignored")
		return err
	}

	m.transition(job, types.StateSubmitted)
	m.transition(job, types.StatePending)
	m.transition(job, types.StateSchedReq)

	if m.effects.DelaySched() {
		m.queues.MarkSchedulable(job)
	} else {
		m.effects.RunScheduler()
	}
	return nil
}

// Apply processes any other external status notification, enforcing the
// legal transition table and running the associated terminal actions. An
// illegal attempt is logged and ignored; the job's state is left
// unchanged and the function returns a qerr.InternalInvariant error so
// the caller's handler can log/respond without killing the service.
func (m *Machine) Apply(jobID int64, newState types.JobState) error {
	job, err := m.queues.Find(jobID)
	if err != nil {
		m.logger.Warn().Int64("job_id", jobID).Str("to", string(newState)).Msg("notification for unknown job ignored")
		return qerr.Wrap(qerr.InternalInvariant, "notification for unknown job", err)
	}
	if !m.transition(job, newState) {
		return qerr.New(qerr.InternalInvariant, "illegal transition "+string(job.State)+" -> "+string(newState))
	}

	switch newState {
	case types.StateAllocated:
		m.effects.RequestRun(job)
	case types.StateStarting:
		m.queues.MoveToRunning(job)
	case types.StateFailed, types.StateComplete:
		m.releaseAndDispose(job)
	case types.StateReaped:
		m.finalizeReap(job)
	}
	return nil
}

// Cancel requires the job to exist in sched-req, removes it from
// pending, and cascades straight through cancelled -> reaped in the same
// call.
func (m *Machine) Cancel(jobID int64) (*jobqueue.Job, error) {
	job, err := m.queues.Find(jobID)
	if err != nil {
		return nil, qerr.New(qerr.NotFound, "no such job")
	}
	if job.State != types.StateSchedReq {
		return nil, qerr.New(qerr.InvalidState, "job is not in sched-req")
	}

	m.queues.RemoveFromPending(job)
	m.transition(job, types.StateCancelled)
	m.effects.BroadcastCancelled(job)
	m.transition(job, types.StateReaped)
	m.finalizeReap(job)
	return job, nil
}

// releaseAndDispose is the single cleanup path shared by the
// run-request/starting->failed and completing->complete transitions:
// release the job's resources, broadcast that they're free, then cascade
// into the reaped transition.
func (m *Machine) releaseAndDispose(job *jobqueue.Job) {
	if !m.schedOnce {
		resource.Release(job.ResourceTree, job.ID)
	}
	if !m.effects.DelaySched() {
		m.effects.BroadcastResourcesFreed(job)
	}
	// In coalesced mode the check handler observes the dirty flag set
	// here and schedules anyway.
	m.queues.MarkDirty()
	m.transition(job, types.StateReaped)
	m.finalizeReap(job)
}

// finalizeReap invokes the priority plugin's usage accounting and then
// either retains the job in the completed queue (reap mode on) or
// destroys it outright (reap mode off).
func (m *Machine) finalizeReap(job *jobqueue.Job) {
	m.effects.RecordJobUsage(job)
	if m.reapMode {
		m.queues.MoveToCompleted(job)
	} else {
		m.queues.Destroy(job)
	}
}

// transition validates old->new against legalTransitions, updates
// job.State on success, and logs+counts the outcome either way. It
// returns whether the transition was applied. Re-entrant calls to
// transition(job, types.StateReaped) from both Apply's switch and
// releaseAndDispose/Cancel are intentional; transition validates the
// job's current state each time, so a caller never applies the same hop
// twice without it genuinely being legal from wherever the job now sits.
func (m *Machine) transition(job *jobqueue.Job, to types.JobState) bool {
	from := job.State
	if !legalTransitions[from][to] {
		m.logger.Error().
			Int64("job_id", job.ID).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("illegal state transition rejected")
		metrics.IllegalTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
		return false
	}
	job.State = to
	metrics.StateTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	m.logger.Debug().
		Int64("job_id", job.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("job transitioned")
	return true
}
