package jobqueue

import (
	"github.com/cuemby/qsched/pkg/qerr"
	"github.com/cuemby/qsched/pkg/resource"
	"github.com/cuemby/qsched/pkg/types"
)

// Job is one job record. Every field is mutated only by the single
// scheduler thread (statemachine, scheduler, control surface).
type Job struct {
	ID              int64
	State           types.JobState
	Spec            types.ResourceSpec
	CoresPerNode    int
	GPUsPerNode     int
	Priority        int
	EnqueuePosition int
	ResourceTree    *resource.Node
	SubmittedAt     int64
	StartTime       int64
}

// AttachResources replaces the job's resource subtree, dropping any
// previously attached subtree.
func (j *Job) AttachResources(tree *resource.Node) {
	j.ResourceTree = tree
}

// queueKind identifies which of the three lifecycle buckets a job sits
// in, used internally to keep the index and queue membership consistent.
type queueKind int

const (
	queueNone queueKind = iota
	queuePending
	queueRunning
	queueCompleted
)

// Queues owns the job index and the pending/running/completed queues.
// All methods assume single-threaded, cooperative callers; there is no
// internal locking.
type Queues struct {
	index map[int64]*Job
	in    map[int64]queueKind

	pending   []*Job
	running   []*Job
	completed []*Job

	queueDepth int
	dirty      bool
}

// New constructs an empty set of queues with the given initial
// queue_depth.
func New(queueDepth int) *Queues {
	return &Queues{
		index:      make(map[int64]*Job),
		in:         make(map[int64]queueKind),
		queueDepth: queueDepth,
	}
}

// SetQueueDepth updates the live queue_depth knob.
func (q *Queues) SetQueueDepth(depth int) {
	q.queueDepth = depth
}

// QueueDepth returns the current queue_depth knob.
func (q *Queues) QueueDepth() int {
	return q.queueDepth
}

// EnqueuePending creates a job in the null state, appends it to the
// pending queue, and inserts it into the index. It fails with
// qerr.InvalidState if id is already indexed.
func (q *Queues) EnqueuePending(id int64, spec types.ResourceSpec, submittedAt int64) (*Job, error) {
	if _, exists := q.index[id]; exists {
		return nil, qerr.New(qerr.InvalidState, "job already exists")
	}
	job := &Job{
		ID:          id,
		State:       types.StateNull,
		Spec:        spec,
		SubmittedAt: submittedAt,
	}
	q.pending = append(q.pending, job)
	job.EnqueuePosition = len(q.pending)
	q.index[id] = job
	q.in[id] = queuePending
	return job, nil
}

// Find looks up a job by id.
func (q *Queues) Find(id int64) (*Job, error) {
	job, ok := q.index[id]
	if !ok {
		return nil, qerr.New(qerr.NotFound, "no such job")
	}
	return job, nil
}

// Dirty reports whether a scheduling pass is owed.
func (q *Queues) Dirty() bool {
	return q.dirty
}

// ClearDirty clears the dirty flag, called by the coalescer's check
// handler or by an inline scheduling pass once it completes.
func (q *Queues) ClearDirty() {
	q.dirty = false
}

// MarkSchedulable sets the dirty flag if it's clear and the job's
// enqueue position is within the configured queue_depth: a job deep in
// the pending queue can't be reached by this pass, so there's no need to
// trigger one on its account alone. A later dequeue of an earlier job
// (RemoveFromPending/MoveToRunning/MoveToCompleted) always sets the flag
// unconditionally, since it may expose this job within depth even though
// marking it here was skipped.
func (q *Queues) MarkSchedulable(job *Job) {
	if !q.dirty && job.EnqueuePosition <= q.queueDepth {
		q.dirty = true
	}
}

// MarkDirty unconditionally sets the dirty flag. Unlike MarkSchedulable,
// it's not gated by any job's enqueue position: it's how an external
// resource event (sched.res.*) marks a pass as owed, since that kind of
// event isn't about one particular job's position in the queue.
func (q *Queues) MarkDirty() {
	q.dirty = true
}

// Pending returns the current pending queue in its stored order. Callers
// that reorder it (the scheduling loop's prioritize+sort step) operate on
// this slice directly; jobqueue doesn't impose an order of its own beyond
// insertion order.
func (q *Queues) Pending() []*Job {
	return q.pending
}

// Running returns the running queue.
func (q *Queues) Running() []*Job {
	return q.running
}

// Completed returns the completed queue, only ever populated in reap
// mode.
func (q *Queues) Completed() []*Job {
	return q.completed
}

// RemoveFromPending removes job from the pending queue, if present, and
// sets the dirty flag: any dequeue might expose a new candidate within
// depth.
func (q *Queues) RemoveFromPending(job *Job) {
	q.pending = removeJob(q.pending, job)
	q.in[job.ID] = queueNone
	q.dirty = true
}

// MoveToRunning moves job from the pending queue to the running queue.
func (q *Queues) MoveToRunning(job *Job) {
	q.pending = removeJob(q.pending, job)
	q.running = append(q.running, job)
	q.in[job.ID] = queueRunning
	q.dirty = true
}

// MoveToCompleted moves job to the completed queue. Callers are
// responsible for only calling this when reap mode is enabled.
func (q *Queues) MoveToCompleted(job *Job) {
	q.pending = removeJob(q.pending, job)
	q.running = removeJob(q.running, job)
	q.completed = append(q.completed, job)
	q.in[job.ID] = queueCompleted
	q.dirty = true
}

// Destroy removes job from whichever queue holds it and clears its index
// entry, the terminal operation for reap-mode-off dispositions and for
// reap-mode housekeeping. The index entry is cleared first so a
// reentrant lookup during teardown can never observe a half-destroyed
// job.
func (q *Queues) Destroy(job *Job) {
	delete(q.index, job.ID)
	switch q.in[job.ID] {
	case queuePending:
		q.pending = removeJob(q.pending, job)
	case queueRunning:
		q.running = removeJob(q.running, job)
	case queueCompleted:
		q.completed = removeJob(q.completed, job)
	}
	delete(q.in, job.ID)
}

func removeJob(list []*Job, job *Job) []*Job {
	for i, j := range list {
		if j.ID == job.ID {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
