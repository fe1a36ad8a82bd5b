package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwarden/scanwarden/internal/domain/notification"
	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
	"github.com/scanwarden/scanwarden/pkg/common/uuid"
)

func newSlackForTest(t *testing.T, status int) (*captureServer, *SlackChannel) {
	t.Helper()
	cs, srv := newCaptureServer(t, status)
	cfg := SlackConfig{WebhookURL: srv.URL, Username: "scanwarden", MessagesPerSecond: 1000}
	return cs, NewSlackChannel("slack", cfg, srv.Client(), logger.Noop())
}

func decodeSlackMessage(t *testing.T, raw string) slackMessage {
	t.Helper()
	var msg slackMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return msg
}

func fieldValue(fields []slackField, title string) (string, bool) {
	for _, f := range fields {
		if f.Title == title {
			return f.Value, true
		}
	}
	return "", false
}

func TestSlackCompletedMessageContents(t *testing.T) {
	cs, ch := newSlackForTest(t, http.StatusOK)

	envelope := notification.Envelope{
		ScanJobID:   uuid.New(),
		Application: "shopfront",
		ScanType:    scanning.ScanTypeFull,
		Status:      scanning.JobStatusCompleted,
		Outcome:     scanning.OutcomeUnstable,
		Statistics:  scanning.Statistics{High: 3, Medium: 4, Total: 7},
		ReportLinks: map[string]string{"html": "https://reports/7.html"},
	}
	require.NoError(t, ch.Send(context.Background(), envelope))

	msg := decodeSlackMessage(t, cs.lastBody())
	assert.Equal(t, "scanwarden", msg.Username)
	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]

	assert.Equal(t, "warning", att.Color, "unstable outcome maps to warning")
	assert.Contains(t, att.Pretext, ":warning:")
	assert.Contains(t, att.Pretext, "3 high severity")
	assert.Equal(t, "Security Scan Report - shopfront", att.Title)
	assert.Equal(t, "ScanWarden", att.Footer)
	assert.NotZero(t, att.Ts)

	high, ok := fieldValue(att.Fields, "High")
	require.True(t, ok)
	assert.Equal(t, "3", high)
	report, ok := fieldValue(att.Fields, "Report")
	require.True(t, ok)
	assert.Equal(t, "https://reports/7.html", report)
	scanType, ok := fieldValue(att.Fields, "Scan Type")
	require.True(t, ok)
	assert.Equal(t, "FULL", scanType)
}

func TestSlackPretextReflectsSeverity(t *testing.T) {
	tests := []struct {
		name        string
		stats       scanning.Statistics
		wantPretext string
		wantColor   string
		outcome     scanning.BuildOutcome
	}{
		{"critical findings", scanning.Statistics{Critical: 2, Total: 2}, ":rotating_light:", "danger", scanning.OutcomeFailure},
		{"high findings", scanning.Statistics{High: 1, Total: 1}, ":warning:", "warning", scanning.OutcomeUnstable},
		{"low findings only", scanning.Statistics{Low: 5, Total: 5}, ":mag:", "good", scanning.OutcomeSuccess},
		{"clean scan", scanning.Statistics{}, ":white_check_mark:", "good", scanning.OutcomeSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope := notification.Envelope{
				Application: "app",
				ScanType:    scanning.ScanTypeQuick,
				Status:      scanning.JobStatusCompleted,
				Outcome:     tt.outcome,
				Statistics:  tt.stats,
			}
			msg := buildSlackMessage(envelope, "")
			require.Len(t, msg.Attachments, 1)
			assert.Contains(t, msg.Attachments[0].Pretext, tt.wantPretext)
			assert.Equal(t, tt.wantColor, msg.Attachments[0].Color)
		})
	}
}

func TestSlackFailedScanMessage(t *testing.T) {
	envelope := notification.Envelope{
		Application:  "shopfront",
		ScanType:     scanning.ScanTypeIncremental,
		Status:       scanning.JobStatusFailed,
		Outcome:      scanning.OutcomeFailure,
		ErrorMessage: "engine unreachable: connection refused",
	}
	msg := buildSlackMessage(envelope, "")

	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "danger", att.Color)
	assert.Equal(t, "Security Scan Failed - shopfront", att.Title)

	errField, ok := fieldValue(att.Fields, "Error")
	require.True(t, ok)
	assert.Equal(t, "engine unreachable: connection refused", errField)
}

func TestSlackClientErrorIsPermanent(t *testing.T) {
	_, ch := newSlackForTest(t, http.StatusNotFound)

	err := ch.Send(context.Background(), notification.Envelope{Status: scanning.JobStatusCompleted})
	require.Error(t, err)
	assert.ErrorIs(t, err, notification.ErrPermanent)
}

func TestSlackRateLimitResponseIsRetryable(t *testing.T) {
	_, ch := newSlackForTest(t, http.StatusTooManyRequests)

	err := ch.Send(context.Background(), notification.Envelope{Status: scanning.JobStatusCompleted})
	require.Error(t, err)
	assert.NotErrorIs(t, err, notification.ErrPermanent)
}

func TestSlackTestConnectionPostsProbe(t *testing.T) {
	cs, ch := newSlackForTest(t, http.StatusOK)

	require.NoError(t, ch.TestConnection(context.Background()))
	msg := decodeSlackMessage(t, cs.lastBody())
	assert.Contains(t, msg.Text, "connection successful")
	assert.Empty(t, msg.Attachments)
}
