/*
Package plugin declares the two pluggable policy contracts, Behavior
(match/select/allocate/reserve) and Priority (prioritize/record), as
ordinary Go interfaces selected once at startup. pkg/plugin/fcfs
implements the default behavior plugin (sched.fcfs); pkg/plugin/priority
implements the default priority plugins. pkg/scheduler and pkg/reactor
hold a Behavior and, optionally, a Priority chosen at startup from the
plugin= and priority-plugin= arguments and never switch on a type name:
every call site goes through the interface.
*/
package plugin
