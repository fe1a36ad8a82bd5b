package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/scanwarden/scanwarden/internal/domain/notification"
	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
)

// SlackConfig configures a chat webhook channel.
type SlackConfig struct {
	// WebhookURL is the incoming-webhook endpoint.
	WebhookURL string

	// Username overrides the webhook's display name when set.
	Username string

	// MessagesPerSecond throttles sends; chat providers rate-limit webhooks.
	// Zero means one message per second.
	MessagesPerSecond float64
}

// SlackChannel posts scan outcomes as attachment-formatted chat messages.
type SlackChannel struct {
	id      string
	cfg     SlackConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

var _ notification.ChannelAdapter = (*SlackChannel)(nil)

// NewSlackChannel creates a chat webhook channel.
func NewSlackChannel(id string, cfg SlackConfig, client *http.Client, logger *logger.Logger) *SlackChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	rps := cfg.MessagesPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &SlackChannel{
		id:      id,
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.With("component", "slack_channel", "channel_id", id),
	}
}

func (c *SlackChannel) ChannelID() string { return c.id }

// TestConnection posts a short test message, the only probe incoming
// webhooks support.
func (c *SlackChannel) TestConnection(ctx context.Context) error {
	msg := slackMessage{Text: "ScanWarden integration test - connection successful"}
	return c.post(ctx, msg)
}

func (c *SlackChannel) Send(ctx context.Context, envelope notification.Envelope) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return c.post(ctx, buildSlackMessage(envelope, c.cfg.Username))
}

func (c *SlackChannel) post(ctx context.Context, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting message: %w", err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("chat webhook returned status %d: %w", resp.StatusCode, notification.ErrPermanent)
	default:
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}
}

type slackMessage struct {
	Text        string            `json:"text"`
	Username    string            `json:"username,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Fallback string       `json:"fallback"`
	Color    string       `json:"color"`
	Pretext  string       `json:"pretext,omitempty"`
	Title    string       `json:"title"`
	Fields   []slackField `json:"fields"`
	Footer   string       `json:"footer"`
	Ts       int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func buildSlackMessage(envelope notification.Envelope, username string) slackMessage {
	stats := envelope.Statistics

	if envelope.Status == scanning.JobStatusFailed {
		return slackMessage{
			Text:     fmt.Sprintf("Security scan failed for *%s*", envelope.Application),
			Username: username,
			Attachments: []slackAttachment{{
				Fallback: fmt.Sprintf("Scan failed for %s: %s", envelope.Application, envelope.ErrorMessage),
				Color:    "danger",
				Title:    fmt.Sprintf("Security Scan Failed - %s", envelope.Application),
				Fields: []slackField{
					{Title: "Application", Value: envelope.Application, Short: true},
					{Title: "Scan Type", Value: strings.ToUpper(string(envelope.ScanType)), Short: true},
					{Title: "Error", Value: envelope.ErrorMessage, Short: false},
				},
				Footer: "ScanWarden",
				Ts:     time.Now().Unix(),
			}},
		}
	}

	var pretext string
	switch {
	case stats.Critical > 0:
		pretext = fmt.Sprintf(":rotating_light: *Critical Issues Found* - %d critical vulnerabilities detected!", stats.Critical)
	case stats.High > 0:
		pretext = fmt.Sprintf(":warning: *High Severity Issues* - %d high severity vulnerabilities found.", stats.High)
	case stats.Total > 0:
		pretext = fmt.Sprintf(":mag: Scan complete - %d issues identified.", stats.Total)
	default:
		pretext = ":white_check_mark: *Clean Scan* - No vulnerabilities detected!"
	}

	fields := []slackField{
		{Title: "Application", Value: envelope.Application, Short: true},
		{Title: "Scan Type", Value: strings.ToUpper(string(envelope.ScanType)), Short: true},
		{Title: "Critical", Value: strconv.Itoa(stats.Critical), Short: true},
		{Title: "High", Value: strconv.Itoa(stats.High), Short: true},
		{Title: "Medium", Value: strconv.Itoa(stats.Medium), Short: true},
		{Title: "Low", Value: strconv.Itoa(stats.Low), Short: true},
		{Title: "Total Vulnerabilities", Value: strconv.Itoa(stats.Total), Short: true},
		{Title: "Outcome", Value: envelope.Outcome.String(), Short: true},
	}
	if url := envelope.ReportURL(); url != "" {
		fields = append(fields, slackField{Title: "Report", Value: url, Short: false})
	}

	return slackMessage{
		Text:     fmt.Sprintf("Security scan completed for *%s*", envelope.Application),
		Username: username,
		Attachments: []slackAttachment{{
			Fallback: fmt.Sprintf("Scan complete for %s: %d vulnerabilities", envelope.Application, stats.Total),
			Color:    outcomeColor(envelope.Outcome),
			Pretext:  pretext,
			Title:    fmt.Sprintf("Security Scan Report - %s", envelope.Application),
			Fields:   fields,
			Footer:   "ScanWarden",
			Ts:       time.Now().Unix(),
		}},
	}
}

func outcomeColor(outcome scanning.BuildOutcome) string {
	switch outcome {
	case scanning.OutcomeSuccess:
		return "good"
	case scanning.OutcomeUnstable:
		return "warning"
	default:
		return "danger"
	}
}
