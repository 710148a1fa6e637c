/*
Package statemachine drives the job lifecycle. Machine.Apply validates
every incoming notification against the legal transition table before
mutating a job; HandleSubmitted handles the special first-observation
case that creates the job record and falls through three implicit
transitions in one call. Cancel lives here too, since cancellation is
itself a transition the state machine must validate (sched-req only)
before the control surface acts on it.

releaseAndDispose and finalizeReap are the single consolidated cleanup
path shared by the failed and complete transitions.
*/
package statemachine
