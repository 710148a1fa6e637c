/*
Package metrics provides Prometheus metrics collection and exposition for
qsched's scheduling core.

Metrics are registered at package init with prometheus.MustRegister and
exposed over HTTP for scraping:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Queue: depth per queue, jobs by state      │          │
	│  │  Scheduling loop: pass duration, counts     │          │
	│  │  Plugin: invocation duration, failures      │          │
	│  │  State machine: transitions, illegal moves  │          │
	│  │  Resource tree: utilization, release time   │          │
	│  │  Event coalescer: coalesced pass count      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metrics that are naturally updated on the write path (scheduling pass
duration, plugin failures, state transitions) are incremented directly by
the packages that produce them (pkg/scheduler, which also counts plugin
failures, and pkg/statemachine).
Metrics that describe a point-in-time snapshot of the system (queue depth,
jobs-by-state, resource utilization) are sampled periodically by Collector,
which polls a Source (implemented by pkg/reactor.Core) on a ticker.

Timer is a small helper that wraps a start time and reports elapsed duration
to a histogram or histogram vector; every latency metric in this package is
recorded through it.

# Health

health.go implements a separate, narrower concern: a process liveness/
readiness surface for load balancers and orchestrators, independent of the
Prometheus registry. Components (reactor, resource, topology) register their
health with RegisterComponent/UpdateComponent; GetReadiness treats a fixed
list of those names as critical to the "ready" verdict.
*/
package metrics
