package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/qsched/pkg/plugin"
)

func TestFIFOLeavesPriorityUntouched(t *testing.T) {
	f := NewFIFO()
	queue := []*plugin.Job{{ID: 1, Priority: 5}, {ID: 2, Priority: 1}}
	f.PrioritizeJobs(queue)
	assert.Equal(t, 5, queue[0].Priority)
	assert.Equal(t, 1, queue[1].Priority)
}

func TestSortDescendingStableOnTies(t *testing.T) {
	// A(1), B(5), C(3), D(3) -> B, C, D, A: C and D tie, C stays first.
	a := &plugin.Job{ID: 1, Priority: 1}
	b := &plugin.Job{ID: 2, Priority: 5}
	c := &plugin.Job{ID: 3, Priority: 3}
	d := &plugin.Job{ID: 4, Priority: 3}
	queue := []*plugin.Job{a, b, c, d}

	SortDescending(queue)

	assert.Equal(t, []*plugin.Job{b, c, d, a}, queue)
}

func TestMultifactorBoostsOlderJobs(t *testing.T) {
	now := int64(1000)
	m := NewMultifactor(10, func() int64 { return now })
	m.SubmittedAt[1] = 900 // waited 100 -> +10
	m.SubmittedAt[2] = 995 // waited 5 -> +0

	queue := []*plugin.Job{
		{ID: 1, Priority: 0},
		{ID: 2, Priority: 0},
	}
	m.PrioritizeJobs(queue)

	assert.Equal(t, 10, queue[0].Priority)
	assert.Equal(t, 0, queue[1].Priority)
}

func TestMultifactorRecordJobUsageForgetsJob(t *testing.T) {
	m := NewMultifactor(10, func() int64 { return 0 })
	m.SubmittedAt[1] = 0
	m.RecordJobUsage(&plugin.Job{ID: 1})
	_, ok := m.SubmittedAt[1]
	assert.False(t, ok)
}

func TestMultifactorDisabledWithZeroInterval(t *testing.T) {
	m := NewMultifactor(0, func() int64 { return 1000 })
	m.SubmittedAt[1] = 0
	queue := []*plugin.Job{{ID: 1, Priority: 7}}
	m.PrioritizeJobs(queue)
	assert.Equal(t, 7, queue[0].Priority)
}
