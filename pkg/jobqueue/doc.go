/*
Package jobqueue implements the job record and queue operations: an
id-keyed index plus the pending/running/completed queue trio, and the
dirty flag that gates scheduling work.

Queues never interprets a job's State field beyond using EnqueuePosition
and queue membership for its own bookkeeping; interpreting status
notifications and driving state transitions is pkg/statemachine's job.
pkg/scheduler reads Pending() to run a pass; pkg/statemachine calls
MarkSchedulable on submission, and pkg/reactor's event coalescer calls
MarkDirty/Dirty/ClearDirty to decide when a pass is owed.
*/
package jobqueue
