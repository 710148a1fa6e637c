/*
Package log provides structured logging for qsched using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog instance                         │          │
	│  │  - initialized via log.Init()               │          │
	│  │  - thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("scheduler")                │          │
	│  │  - WithJobID(42)                             │          │
	│  │  - WithPass("pass-19")                       │          │
	│  │  - WithPlugin("sched.fcfs")                  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON format:                                │          │
	│  │  {                                           │          │
	│  │    "level": "info",                          │          │
	│  │    "component": "statemachine",              │          │
	│  │    "job_id": 42,                             │          │
	│  │    "time": "2026-07-29T10:30:00Z",           │          │
	│  │    "message": "job transitioned"             │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console format:                             │          │
	│  │  10:30AM INF job transitioned job_id=42      │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

Every package that logs holds a zerolog.Logger field set at construction
time, built from one of the With* helpers, rather than reaching for the
package-level Logger directly. This keeps log fields consistent per
component and makes it possible to swap in a test logger without touching
global state.

	logger := log.WithComponent("scheduler")
	logger.Info().Int64("job_id", job.ID).Msg("allocated")

WithPass exists specifically to correlate every log line produced during a
single scheduling loop pass (prioritize, sort, walk, allocate/reserve) under
one pass_id, the way a trace ID correlates a request.
*/
package log
