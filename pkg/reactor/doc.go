/*
Package reactor wires the state machine, the scheduling loop, the job
queues, the resource tree, and the message bus into one Core value: the
event coalescer and the control surface, plus the statemachine.Effects
and scheduler.Notifier implementations that let those two packages drive
Core without depending on it.

Core is a purely reactive value with no goroutine and no lock of its
own. Every handler runs to completion before the next one starts; that
serialization is the embedding driver's job (cmd/qsched in this repo),
not this package's. Under the simulator driver, inbound events are
queued instead of dispatched and drained in FIFO order by Trigger, which
also advances the simulated clock.
*/
package reactor
