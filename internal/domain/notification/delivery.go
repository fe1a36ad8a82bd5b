package notification

import "time"

// DeliveryResult is the outcome of one delivery attempt.
type DeliveryResult string

const (
	// DeliverySent means the channel accepted the notification.
	DeliverySent DeliveryResult = "SENT"

	// DeliveryFailed means the attempt errored.
	DeliveryFailed DeliveryResult = "FAILED"

	// DeliverySkipped means the channel declined to send, e.g. no recipients
	// configured. Skips are not retried.
	DeliverySkipped DeliveryResult = "SKIPPED"
)

// DeliveryAttempt records a single try at delivering a notification to one
// channel. Attempts are ephemeral; only the final attempt per channel
// survives in the dispatch report.
type DeliveryAttempt struct {
	ChannelID     string         `json:"channel_id"`
	AttemptNumber int            `json:"attempt_number"`
	Result        DeliveryResult `json:"result"`
	Error         string         `json:"error,omitempty"`
	At            time.Time      `json:"at"`
}

// DispatchReport aggregates the final delivery attempt for every enabled
// channel of one dispatch. It always covers every channel, even when all of
// them failed.
type DispatchReport struct {
	ScanJobID string                     `json:"scan_job_id"`
	Channels  map[string]DeliveryAttempt `json:"channels"`
	StartedAt time.Time                  `json:"started_at"`
	EndedAt   time.Time                  `json:"ended_at"`
}

// AllSent reports whether every channel ended in DeliverySent.
func (r DispatchReport) AllSent() bool {
	for _, attempt := range r.Channels {
		if attempt.Result != DeliverySent {
			return false
		}
	}
	return true
}

// FailedChannels lists the channel ids whose final attempt failed.
func (r DispatchReport) FailedChannels() []string {
	var failed []string
	for id, attempt := range r.Channels {
		if attempt.Result == DeliveryFailed {
			failed = append(failed, id)
		}
	}
	return failed
}
