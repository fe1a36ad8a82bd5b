package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatchReportAllSent(t *testing.T) {
	now := time.Now()

	report := DispatchReport{
		ScanJobID: "5c29bd2f-3f74-4a1b-9d61-52a4a9a9e001",
		Channels: map[string]DeliveryAttempt{
			"email-sec":    {ChannelID: "email-sec", AttemptNumber: 1, Result: DeliverySent, At: now},
			"slack-appsec": {ChannelID: "slack-appsec", AttemptNumber: 2, Result: DeliverySent, At: now},
		},
		StartedAt: now,
		EndedAt:   now,
	}
	assert.True(t, report.AllSent())
	assert.Empty(t, report.FailedChannels())

	report.Channels["github-issues"] = DeliveryAttempt{
		ChannelID:     "github-issues",
		AttemptNumber: 3,
		Result:        DeliveryFailed,
		Error:         "422 Unprocessable Entity",
		At:            now,
	}
	assert.False(t, report.AllSent())
	assert.Equal(t, []string{"github-issues"}, report.FailedChannels())
}

func TestDispatchReportSkipsNeitherSentNorFailed(t *testing.T) {
	report := DispatchReport{
		Channels: map[string]DeliveryAttempt{
			"email-sec": {ChannelID: "email-sec", AttemptNumber: 1, Result: DeliverySkipped},
		},
	}

	// A skipped channel means not everything was sent, but it is not a
	// failure either.
	assert.False(t, report.AllSent())
	assert.Empty(t, report.FailedChannels())
}
