package scanning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		{name: "pending to running", from: JobStatusPending, to: JobStatusRunning, wantErr: false},
		{name: "pending to cancelled", from: JobStatusPending, to: JobStatusCancelled, wantErr: false},
		{name: "pending to completed", from: JobStatusPending, to: JobStatusCompleted, wantErr: true},
		{name: "pending to failed", from: JobStatusPending, to: JobStatusFailed, wantErr: true},
		{name: "running to completed", from: JobStatusRunning, to: JobStatusCompleted, wantErr: false},
		{name: "running to failed", from: JobStatusRunning, to: JobStatusFailed, wantErr: false},
		{name: "running to cancelled", from: JobStatusRunning, to: JobStatusCancelled, wantErr: false},
		{name: "running to pending", from: JobStatusRunning, to: JobStatusPending, wantErr: true},
		{name: "completed is terminal", from: JobStatusCompleted, to: JobStatusRunning, wantErr: true},
		{name: "completed to cancelled", from: JobStatusCompleted, to: JobStatusCancelled, wantErr: true},
		{name: "failed is terminal", from: JobStatusFailed, to: JobStatusRunning, wantErr: true},
		{name: "cancelled is terminal", from: JobStatusCancelled, to: JobStatusRunning, wantErr: true},
		{name: "cancelled to completed", from: JobStatusCancelled, to: JobStatusCompleted, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.from.ValidateTransition(tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidStatusTransition)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
}

func TestParseJobStatus(t *testing.T) {
	tests := []struct {
		input string
		want  JobStatus
	}{
		{input: "PENDING", want: JobStatusPending},
		{input: "RUNNING", want: JobStatusRunning},
		{input: "COMPLETED", want: JobStatusCompleted},
		{input: "FAILED", want: JobStatusFailed},
		{input: "CANCELLED", want: JobStatusCancelled},
		{input: "pending", want: ""},
		{input: "bogus", want: ""},
		{input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseJobStatus(tt.input))
		})
	}
}
