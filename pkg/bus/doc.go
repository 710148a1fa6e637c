/*
Package bus defines qsched's message-based control surface and event
broadcast boundary, in two shapes used throughout pkg/reactor:

  - Router/Responder for the five request/response control topics
    (sched.cancel, sched.exclude, sched.include, sched.params.set,
    sched.params.get).
  - Bus/Publisher/Subscriber for fire-and-forget broadcasts
    (sched.res.freed, sched.res.excluded, sched.res.included,
    sched.res.param_update, wreck.state.cancelled) and per-job run/kill
    requests addressed to the execution service.

A real deployment supplies its own Responder/Publisher backed by the RPC
broker transport. Bus and Router are the in-memory stand-ins used by
tests and cmd/qsched.
*/
package bus
