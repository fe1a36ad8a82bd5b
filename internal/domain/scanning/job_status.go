package scanning

import "fmt"

// JobStatus represents the current state of a scan job. It enables tracking
// of the job lifecycle from trigger through completion, failure, or
// cancellation.
type JobStatus string

const (
	// JobStatusPending indicates a job has been created but is waiting for a
	// concurrency slot.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning indicates the scan engine is actively executing the job.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusCompleted indicates the scan engine finished successfully.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed indicates the job encountered an unrecoverable error or
	// exceeded its time budget.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled indicates the job was cancelled by an explicit request.
	JobStatusCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether no further transitions are accepted from this
// status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "PENDING":
		return JobStatusPending
	case "RUNNING":
		return JobStatusRunning
	case "COMPLETED":
		return JobStatusCompleted
	case "FAILED":
		return JobStatusFailed
	case "CANCELLED":
		return JobStatusCancelled
	default:
		return "" // represents unspecified
	}
}

// ValidateTransition checks if a status transition is valid and returns an
// error if not.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target
// status. It enforces the job lifecycle rules to prevent invalid state changes.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		// From Pending, a job either gets a slot or is cancelled off the queue.
		return target == JobStatusRunning || target == JobStatusCancelled
	case JobStatusRunning:
		// From Running, the engine reports success or failure, the timeout
		// fires, or an explicit cancel lands.
		return target == JobStatusCompleted || target == JobStatusFailed || target == JobStatusCancelled
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
