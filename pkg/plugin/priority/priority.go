// Package priority implements the default priority plugins: FIFO (the
// null-object default used when no priority plugin is configured) and
// Multifactor (age-weighted, giving older pending jobs a priority boost
// so jobs don't starve behind a steady stream of high-priority arrivals).
package priority

import (
	"sort"

	"github.com/cuemby/qsched/pkg/plugin"
)

// FIFO is the null-object priority plugin: PrioritizeJobs leaves each
// job's Priority field untouched, so the scheduling loop's descending
// stable sort preserves submission order. RecordJobUsage is a no-op,
// keeping the reap path structurally identical whether or not a "real"
// priority plugin is loaded.
type FIFO struct{}

// NewFIFO constructs the null-object priority plugin.
func NewFIFO() *FIFO { return &FIFO{} }

func (f *FIFO) Name() string { return "sched.fifo" }
func (f *FIFO) PrioritySetup() error { return nil }
func (f *FIFO) PrioritizeJobs([]*plugin.Job) {}
func (f *FIFO) RecordJobUsage(*plugin.Job) {}

// Multifactor assigns each job a priority of base weight plus one point
// per AgeBoostInterval ticks it has waited, computed from the caller-
// supplied "now" rather than wall-clock time so it works identically
// under the simulator driver.
type Multifactor struct {
	// AgeBoostInterval is how many time units of waiting earn one point
	// of priority boost. Zero disables aging (equivalent to FIFO).
	AgeBoostInterval int64

	// Now returns the current time (Unix seconds or simulated ticks); set
	// by the caller so tests and the simulator driver can control it.
	Now func() int64

	// SubmittedAt, keyed by job id, holds each job's submission time so
	// PrioritizeJobs can compute elapsed wait without threading it through
	// plugin.Job. The caller fills it; a job with no entry keeps its base
	// priority.
	SubmittedAt map[int64]int64
}

// NewMultifactor constructs a Multifactor plugin with the given aging
// interval and clock function.
func NewMultifactor(ageBoostInterval int64, now func() int64) *Multifactor {
	return &Multifactor{
		AgeBoostInterval: ageBoostInterval,
		Now:              now,
		SubmittedAt:      make(map[int64]int64),
	}
}

func (m *Multifactor) Name() string { return "sched.multifactor" }
func (m *Multifactor) PrioritySetup() error { return nil }

// PrioritizeJobs adds an age-based boost to each job's base Priority. The
// scheduling loop still performs the actual descending stable sort; this
// only mutates the field it sorts on.
func (m *Multifactor) PrioritizeJobs(queue []*plugin.Job) {
	if m.AgeBoostInterval <= 0 || m.Now == nil {
		return
	}
	now := m.Now()
	for _, job := range queue {
		submitted, ok := m.SubmittedAt[job.ID]
		if !ok {
			continue
		}
		waited := now - submitted
		if waited <= 0 {
			continue
		}
		job.Priority += int(waited / m.AgeBoostInterval)
	}
}

// RecordJobUsage drops the job's submission bookkeeping on reap; fair-
// share accounting itself lives outside this core.
func (m *Multifactor) RecordJobUsage(job *plugin.Job) {
	delete(m.SubmittedAt, job.ID)
}

// SortDescending stable-sorts queue by descending Priority. It lives
// here, rather than in pkg/scheduler, because it's the shared second half
// of "prioritize then sort" every priority plugin configuration needs
// identically.
func SortDescending(queue []*plugin.Job) {
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Priority > queue[j].Priority
	})
}
