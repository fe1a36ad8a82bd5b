package notification

import (
	"time"

	"github.com/scanwarden/scanwarden/internal/domain/events"
)

// EventTypeReportDispatched signals that a dispatch finished (successfully or
// not) for a terminal scan.
const EventTypeReportDispatched events.EventType = "ReportDispatched"

// ReportDispatchedEvent carries the aggregated dispatch report.
type ReportDispatchedEvent struct {
	occurredAt time.Time
	Report     DispatchReport
}

// NewReportDispatchedEvent creates a new report dispatched event.
func NewReportDispatchedEvent(report DispatchReport) ReportDispatchedEvent {
	return ReportDispatchedEvent{occurredAt: time.Now(), Report: report}
}

func (e ReportDispatchedEvent) EventType() events.EventType { return EventTypeReportDispatched }
func (e ReportDispatchedEvent) OccurredAt() time.Time       { return e.occurredAt }
