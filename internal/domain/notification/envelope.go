// Package notification models the fan-out of scan outcomes to independent
// delivery channels.
package notification

import (
	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/pkg/common/uuid"
)

// Envelope is the immutable notification payload produced once per terminal
// (Completed or Failed) scan and consumed by the dispatcher.
type Envelope struct {
	// ScanJobID identifies the scan this notification describes.
	ScanJobID uuid.UUID

	// Application is the configured application key the scan targeted.
	Application string

	// ScanType is the depth of the scan run.
	ScanType scanning.ScanType

	// Status is the scan's terminal lifecycle status.
	Status scanning.JobStatus

	// Outcome is the threshold verdict. For failed scans it is always
	// OutcomeFailure.
	Outcome scanning.BuildOutcome

	// Statistics carries the per-severity finding counts. Zero for failed
	// scans that produced no results.
	Statistics scanning.Statistics

	// ErrorMessage is the failure reason for failed scans, "" otherwise.
	ErrorMessage string

	// ReportLinks maps report format (html, pdf, json) to its URL.
	ReportLinks map[string]string
}

// ReportURL returns the most presentable report link, preferring HTML.
func (e Envelope) ReportURL() string {
	if url, ok := e.ReportLinks["html"]; ok {
		return url
	}
	for _, url := range e.ReportLinks {
		return url
	}
	return ""
}
