package scanning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwarden/scanwarden/pkg/common/uuid"
)

// fakeClock is a TimeProvider that advances one second per call so each
// timeline mark gets a distinct, deterministic timestamp.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestJob(t *testing.T) (*Job, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	high := 5
	job := NewJobWithTimeProvider(
		uuid.New(),
		"shopfront",
		ScanTypeFull,
		Thresholds{High: &high},
		clock,
	)
	return job, clock
}

func TestNewJobStartsPending(t *testing.T) {
	job, _ := newTestJob(t)

	assert.Equal(t, JobStatusPending, job.Status())
	assert.Equal(t, "shopfront", job.Application())
	assert.Equal(t, ScanTypeFull, job.ScanType())
	assert.Zero(t, job.Progress())
	assert.True(t, job.Statistics().IsZero())
	assert.False(t, job.Timeline().CreatedAt().IsZero())
	assert.True(t, job.Timeline().StartedAt().IsZero())
	assert.True(t, job.Timeline().CompletedAt().IsZero())
}

func TestJobLifecycleCompletes(t *testing.T) {
	job, _ := newTestJob(t)

	require.NoError(t, job.Start())
	assert.Equal(t, JobStatusRunning, job.Status())
	assert.False(t, job.Timeline().StartedAt().IsZero())

	job.SetProgress(42)
	assert.Equal(t, 42, job.Progress())

	stats := Statistics{Critical: 1, High: 2, Total: 3}
	require.NoError(t, job.Complete(stats))
	assert.Equal(t, JobStatusCompleted, job.Status())
	assert.Equal(t, stats, job.Statistics())
	assert.Equal(t, 100, job.Progress())
	assert.True(t, job.Timeline().IsCompleted())
}

func TestJobFailRecordsReason(t *testing.T) {
	job, _ := newTestJob(t)
	require.NoError(t, job.Start())

	require.NoError(t, job.Fail("engine unreachable"))
	assert.Equal(t, JobStatusFailed, job.Status())
	assert.Equal(t, "engine unreachable", job.ErrorMessage())
	assert.True(t, job.Timeline().IsCompleted())
}

func TestJobCannotCompleteFromPending(t *testing.T) {
	job, _ := newTestJob(t)

	err := job.Complete(Statistics{})
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, JobStatusPending, job.Status())
}

func TestJobCancelIsIdempotent(t *testing.T) {
	job, _ := newTestJob(t)

	require.NoError(t, job.Cancel())
	assert.Equal(t, JobStatusCancelled, job.Status())
	completedAt := job.Timeline().CompletedAt()

	// A second cancel is a no-op and does not touch the timeline.
	require.NoError(t, job.Cancel())
	assert.Equal(t, JobStatusCancelled, job.Status())
	assert.Equal(t, completedAt, job.Timeline().CompletedAt())
}

func TestJobCancelAfterCompletionIsNoOp(t *testing.T) {
	job, _ := newTestJob(t)
	require.NoError(t, job.Start())
	require.NoError(t, job.Complete(Statistics{Total: 1}))

	require.NoError(t, job.Cancel())
	assert.Equal(t, JobStatusCompleted, job.Status())
}

func TestJobProgressClampedAndFrozenWhenTerminal(t *testing.T) {
	job, _ := newTestJob(t)
	require.NoError(t, job.Start())

	job.SetProgress(-5)
	assert.Equal(t, 0, job.Progress())

	job.SetProgress(150)
	assert.Equal(t, 100, job.Progress())

	job.SetProgress(60)
	require.NoError(t, job.Fail("timeout"))

	job.SetProgress(90)
	assert.Equal(t, 60, job.Progress())
}

func TestJobSnapshot(t *testing.T) {
	job, _ := newTestJob(t)
	require.NoError(t, job.Start())
	require.NoError(t, job.Complete(Statistics{High: 6, Total: 6}))

	snap := job.Snapshot()
	assert.Equal(t, job.JobID(), snap.JobID)
	assert.Equal(t, "shopfront", snap.Application)
	assert.Equal(t, JobStatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, Statistics{High: 6, Total: 6}, snap.Statistics)
	require.NotNil(t, snap.StartedAt)
	require.NotNil(t, snap.CompletedAt)
	assert.Equal(t, job.Timeline().StartedAt(), *snap.StartedAt)
	assert.Equal(t, job.Timeline().CompletedAt(), *snap.CompletedAt)
}

func TestJobSnapshotPendingHasNilTimestamps(t *testing.T) {
	job, _ := newTestJob(t)

	snap := job.Snapshot()
	assert.Nil(t, snap.StartedAt)
	assert.Nil(t, snap.CompletedAt)
}

func TestReconstructJobRestoresState(t *testing.T) {
	jobID := uuid.New()
	created := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	completed := created.Add(10 * time.Minute)
	critical := 0

	job := ReconstructJob(
		jobID,
		"payments",
		ScanTypeQuick,
		JobStatusCompleted,
		100,
		Thresholds{Critical: &critical},
		Statistics{Medium: 3, Total: 3},
		"",
		ReconstructTimeline(created, started, completed),
	)

	assert.Equal(t, jobID, job.JobID())
	assert.Equal(t, JobStatusCompleted, job.Status())
	assert.Equal(t, Statistics{Medium: 3, Total: 3}, job.Statistics())
	assert.Equal(t, created, job.Timeline().CreatedAt())
	assert.Equal(t, started, job.Timeline().StartedAt())
	assert.Equal(t, completed, job.Timeline().CompletedAt())
}
