package scanning

import (
	"time"

	"github.com/scanwarden/scanwarden/internal/domain/events"
	"github.com/scanwarden/scanwarden/pkg/common/uuid"
)

// Event types relevant to scan jobs:
const (
	EventTypeJobTriggered events.EventType = "JobTriggered"
	EventTypeJobStarted   events.EventType = "JobStarted"
	EventTypeJobCompleted events.EventType = "JobCompleted"
	EventTypeJobFailed    events.EventType = "JobFailed"
	EventTypeJobCancelled events.EventType = "JobCancelled"
)

// JobTriggeredEvent signals that a new scan job was accepted and queued.
type JobTriggeredEvent struct {
	occurredAt  time.Time
	JobID       uuid.UUID
	Application string
	ScanType    ScanType
}

// NewJobTriggeredEvent creates a new scan job triggered event.
func NewJobTriggeredEvent(jobID uuid.UUID, application string, scanType ScanType) JobTriggeredEvent {
	return JobTriggeredEvent{
		occurredAt:  time.Now(),
		JobID:       jobID,
		Application: application,
		ScanType:    scanType,
	}
}

func (e JobTriggeredEvent) EventType() events.EventType { return EventTypeJobTriggered }
func (e JobTriggeredEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobStartedEvent signals that a scan job was promoted to Running.
type JobStartedEvent struct {
	occurredAt time.Time
	JobID      uuid.UUID
}

// NewJobStartedEvent creates a new scan job started event.
func NewJobStartedEvent(jobID uuid.UUID) JobStartedEvent {
	return JobStartedEvent{occurredAt: time.Now(), JobID: jobID}
}

func (e JobStartedEvent) EventType() events.EventType { return EventTypeJobStarted }
func (e JobStartedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobCompletedEvent means the engine finished scanning successfully.
type JobCompletedEvent struct {
	occurredAt time.Time
	JobID      uuid.UUID
	Statistics Statistics
	Outcome    BuildOutcome
}

// NewJobCompletedEvent creates a new scan job completed event.
func NewJobCompletedEvent(jobID uuid.UUID, stats Statistics, outcome BuildOutcome) JobCompletedEvent {
	return JobCompletedEvent{
		occurredAt: time.Now(),
		JobID:      jobID,
		Statistics: stats,
		Outcome:    outcome,
	}
}

func (e JobCompletedEvent) EventType() events.EventType { return EventTypeJobCompleted }
func (e JobCompletedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobFailedEvent means the job encountered an unrecoverable error or timed
// out.
type JobFailedEvent struct {
	occurredAt time.Time
	JobID      uuid.UUID
	Reason     string
}

// NewJobFailedEvent creates a new scan job failed event.
func NewJobFailedEvent(jobID uuid.UUID, reason string) JobFailedEvent {
	return JobFailedEvent{occurredAt: time.Now(), JobID: jobID, Reason: reason}
}

func (e JobFailedEvent) EventType() events.EventType { return EventTypeJobFailed }
func (e JobFailedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobCancelledEvent means an explicit cancel request reached a terminal
// state.
type JobCancelledEvent struct {
	occurredAt time.Time
	JobID      uuid.UUID
}

// NewJobCancelledEvent creates a new scan job cancelled event.
func NewJobCancelledEvent(jobID uuid.UUID) JobCancelledEvent {
	return JobCancelledEvent{occurredAt: time.Now(), JobID: jobID}
}

func (e JobCancelledEvent) EventType() events.EventType { return EventTypeJobCancelled }
func (e JobCancelledEvent) OccurredAt() time.Time       { return e.occurredAt }
