/*
Package scheduler runs one scheduling pass at a time: prioritize the
pending queue, stable-sort it by descending priority, release
outstanding reservations for an out-of-order-capable plugin, run the
plugin's per-pass setup, then walk up to queue_depth sched-req jobs
attempting to place each one.

Resolver and Notifier are the two narrow collaborators RunPass needs
beyond the job queue, resource tree, and plugins: Resolver turns an
allocated leaf into a cluster rank and Notifier delivers the resulting
allocate update. pkg/reactor supplies the concrete implementations
(pkg/topology.LookupTable and a pkg/bus publisher) when it wires a Loop
together with a *statemachine.Machine as the Transitioner.
*/
package scheduler
