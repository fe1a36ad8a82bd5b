// Package notify implements the concrete delivery channels: SMTP email,
// chat webhooks, issue trackers, and generic webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scanwarden/scanwarden/internal/domain/notification"
	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
)

const userAgent = "ScanWarden-Notifier/1.0"

// WebhookConfig configures a generic webhook channel.
type WebhookConfig struct {
	// URL receives the JSON payload via POST.
	URL string

	// Headers are added to every request, e.g. an authorization header.
	Headers map[string]string
}

// WebhookChannel posts the scan outcome to an external receiver. The payload
// layout is a published contract; external systems parse it field by field.
type WebhookChannel struct {
	id     string
	cfg    WebhookConfig
	client *http.Client
	logger *logger.Logger

	// now is swapped in tests to pin the payload timestamp.
	now func() time.Time
}

var _ notification.ChannelAdapter = (*WebhookChannel)(nil)

// NewWebhookChannel creates a generic webhook channel.
func NewWebhookChannel(id string, cfg WebhookConfig, client *http.Client, logger *logger.Logger) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookChannel{
		id:     id,
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "webhook_channel", "channel_id", id),
		now:    time.Now,
	}
}

func (c *WebhookChannel) ChannelID() string { return c.id }

// TestConnection checks the receiver answers at all. Anything but a server
// error or transport failure counts as reachable; many receivers reject
// non-POST methods without being down.
func (c *WebhookChannel) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook unreachable: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Send posts the wire payload. Client errors (4xx) are permanent; the
// receiver will reject the retry just the same.
func (c *WebhookChannel) Send(ctx context.Context, envelope notification.Envelope) error {
	payload := buildWirePayload(envelope, c.now().UTC())

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusCreated,
		resp.StatusCode == http.StatusAccepted,
		resp.StatusCode == http.StatusNoContent:
		c.logger.Debug(ctx, "Webhook delivered", "event", payload.Event, "status", resp.StatusCode)
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status %d: %w", resp.StatusCode, notification.ErrPermanent)
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

// wirePayload is the published webhook contract. Field names and layout are
// parsed by external systems and must not change.
type wirePayload struct {
	Event      string              `json:"event"`
	Timestamp  string              `json:"timestamp"`
	ScanInfo   wireScanInfo        `json:"scan_info"`
	Statistics scanning.Statistics `json:"statistics"`
	Outcome    string              `json:"outcome"`
	ReportURL  string              `json:"report_url"`
}

type wireScanInfo struct {
	Application string `json:"application"`
	ScanID      string `json:"scan_id"`
	ScanType    string `json:"scan_type"`
}

func buildWirePayload(envelope notification.Envelope, now time.Time) wirePayload {
	return wirePayload{
		Event:     eventForEnvelope(envelope),
		Timestamp: now.Format(time.RFC3339),
		ScanInfo: wireScanInfo{
			Application: envelope.Application,
			ScanID:      envelope.ScanJobID.String(),
			ScanType:    string(envelope.ScanType),
		},
		Statistics: envelope.Statistics,
		Outcome:    envelope.Outcome.String(),
		ReportURL:  envelope.ReportURL(),
	}
}

// eventForEnvelope picks the wire event: failed scans report scan.failed,
// completed scans that broke a threshold report threshold.exceeded, and
// clean completions report scan.completed.
func eventForEnvelope(envelope notification.Envelope) string {
	switch {
	case envelope.Status == scanning.JobStatusFailed:
		return "scan.failed"
	case envelope.Outcome != scanning.OutcomeSuccess:
		return "threshold.exceeded"
	default:
		return "scan.completed"
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
