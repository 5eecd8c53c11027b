package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusInProgress, false},
		{StatusConfirmed, StatusInProgress, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, false},
		{StatusCompleted, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{Status("bogus"), StatusConfirmed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
}

func TestJob_AssignedTo(t *testing.T) {
	w := "w-1"
	empty := ""

	j := Job{WorkerID: &w}
	assert.True(t, j.AssignedTo("w-1"))
	assert.False(t, j.AssignedTo("w-2"))

	j.WorkerID = &empty
	assert.False(t, j.HasWorker())

	j.WorkerID = nil
	assert.False(t, j.AssignedTo("w-1"))
}
