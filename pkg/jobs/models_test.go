package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSolveJobTableName(t *testing.T) {
	j := SolveJob{}
	assert.Equal(t, "solve_jobs", j.TableName())
}

func TestSolveJobIsTerminal(t *testing.T) {
	tests := []struct {
		state    JobState
		terminal bool
	}{
		{JobStateQueued, false},
		{JobStateRunning, false},
		{JobStateSucceeded, true},
		{JobStateFailed, true},
		{JobStateCanceled, true},
	}

	for _, tc := range tests {
		t.Run(string(tc.state), func(t *testing.T) {
			j := &SolveJob{State: tc.state}
			assert.Equal(t, tc.terminal, j.IsTerminal())
		})
	}
}
