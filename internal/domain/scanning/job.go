package scanning

import (
	"fmt"
	"time"

	"github.com/scanwarden/scanwarden/pkg/common/uuid"
)

// Job is the scan job aggregate. It owns the lifecycle state machine for one
// scan: all field mutation happens through its transition methods, and the
// orchestrator is its only writer.
type Job struct {
	jobID       uuid.UUID
	application string
	scanType    ScanType
	status      JobStatus
	progress    int
	thresholds  Thresholds
	statistics  Statistics
	errMessage  string
	timeline    *Timeline
}

// NewJob creates a scan job in Pending state.
func NewJob(jobID uuid.UUID, application string, scanType ScanType, thresholds Thresholds) *Job {
	return newJob(jobID, application, scanType, thresholds, new(realTimeProvider))
}

// NewJobWithTimeProvider creates a scan job with a caller-supplied clock.
// Intended for tests that need deterministic timestamps.
func NewJobWithTimeProvider(jobID uuid.UUID, application string, scanType ScanType, thresholds Thresholds, tp TimeProvider) *Job {
	return newJob(jobID, application, scanType, thresholds, tp)
}

func newJob(jobID uuid.UUID, application string, scanType ScanType, thresholds Thresholds, tp TimeProvider) *Job {
	return &Job{
		jobID:       jobID,
		application: application,
		scanType:    scanType,
		status:      JobStatusPending,
		thresholds:  thresholds,
		timeline:    NewTimeline(tp),
	}
}

// ReconstructJob restores a Job from stored fields, bypassing creation
// invariants. This should only be used by repositories when loading from the
// DB.
func ReconstructJob(
	jobID uuid.UUID,
	application string,
	scanType ScanType,
	status JobStatus,
	progress int,
	thresholds Thresholds,
	statistics Statistics,
	errMessage string,
	timeline *Timeline,
) *Job {
	return &Job{
		jobID:       jobID,
		application: application,
		scanType:    scanType,
		status:      status,
		progress:    progress,
		thresholds:  thresholds,
		statistics:  statistics,
		errMessage:  errMessage,
		timeline:    timeline,
	}
}

// JobID returns the unique identifier for this scan job.
func (j *Job) JobID() uuid.UUID { return j.jobID }

// Application returns the application key this scan targets.
func (j *Job) Application() string { return j.application }

// ScanType returns the depth of this scan run.
func (j *Job) ScanType() ScanType { return j.scanType }

// Status returns the current execution status of the scan job.
func (j *Job) Status() JobStatus { return j.status }

// Progress returns the last reported engine progress, 0-100.
func (j *Job) Progress() int { return j.progress }

// Thresholds returns the per-severity limits configured for this job.
func (j *Job) Thresholds() Thresholds { return j.thresholds }

// Statistics returns the per-severity finding counts. Non-zero only once the
// job has completed.
func (j *Job) Statistics() Statistics { return j.statistics }

// ErrorMessage returns the failure reason for Failed jobs, "" otherwise.
func (j *Job) ErrorMessage() string { return j.errMessage }

// Timeline provides access to the job's timeline information.
func (j *Job) Timeline() *Timeline { return j.timeline }

// Start transitions the job from Pending to Running when a concurrency slot
// becomes available.
func (j *Job) Start() error {
	if err := j.status.ValidateTransition(JobStatusRunning); err != nil {
		return err
	}
	j.timeline.MarkStarted()
	j.status = JobStatusRunning
	return nil
}

// SetProgress records the engine's reported progress, clamped to 0-100.
// Progress updates for terminal jobs are discarded.
func (j *Job) SetProgress(progress int) {
	if j.status.IsTerminal() {
		return
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.progress = progress
	j.timeline.UpdateLastUpdate()
}

// Complete transitions the job to Completed and records the final finding
// counts reported by the engine.
func (j *Job) Complete(stats Statistics) error {
	if err := j.status.ValidateTransition(JobStatusCompleted); err != nil {
		return err
	}
	j.statistics = stats
	j.progress = 100
	j.status = JobStatusCompleted
	j.timeline.MarkCompleted()
	return nil
}

// Fail transitions the job to Failed with a human-readable reason.
func (j *Job) Fail(reason string) error {
	if err := j.status.ValidateTransition(JobStatusFailed); err != nil {
		return err
	}
	j.errMessage = reason
	j.status = JobStatusFailed
	j.timeline.MarkCompleted()
	return nil
}

// Cancel transitions the job to Cancelled. Cancelling an already-terminal job
// is a no-op so callers can treat Cancel as idempotent.
func (j *Job) Cancel() error {
	if j.status.IsTerminal() {
		return nil
	}
	if err := j.status.ValidateTransition(JobStatusCancelled); err != nil {
		return fmt.Errorf("cancel job %s: %w", j.jobID, err)
	}
	j.status = JobStatusCancelled
	j.timeline.MarkCompleted()
	return nil
}

// Snapshot returns an immutable copy of the job's externally visible state.
// External readers never see the live aggregate.
func (j *Job) Snapshot() JobSnapshot {
	snap := JobSnapshot{
		JobID:        j.jobID,
		Application:  j.application,
		ScanType:     j.scanType,
		Status:       j.status,
		Progress:     j.progress,
		Thresholds:   j.thresholds,
		Statistics:   j.statistics,
		ErrorMessage: j.errMessage,
		CreatedAt:    j.timeline.CreatedAt(),
	}
	if t := j.timeline.StartedAt(); !t.IsZero() {
		snap.StartedAt = &t
	}
	if t := j.timeline.CompletedAt(); !t.IsZero() {
		snap.CompletedAt = &t
	}
	return snap
}

// JobSnapshot is a point-in-time, read-only view of a scan job.
type JobSnapshot struct {
	JobID        uuid.UUID  `json:"id"`
	Application  string     `json:"application"`
	ScanType     ScanType   `json:"scan_type"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	Thresholds   Thresholds `json:"thresholds"`
	Statistics   Statistics `json:"statistics"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
