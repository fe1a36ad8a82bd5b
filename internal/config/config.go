// Package config defines the engine, orchestration and notification settings
// loaded at startup.
package config

import (
	"fmt"
	"time"

	"github.com/scanwarden/scanwarden/internal/domain/scanning"
)

// Config represents the top-level configuration.
type Config struct {
	Orchestrator OrchestratorConfig   `yaml:"orchestrator"`
	Engine       EngineConfig         `yaml:"engine"`
	Dispatch     DispatchConfig       `yaml:"dispatch"`
	Channels     []ChannelConfig      `yaml:"channels"`
	Applications map[string]AppConfig `yaml:"applications"`
}

// OrchestratorConfig bounds scan execution.
type OrchestratorConfig struct {
	MaxConcurrentScans   int           `yaml:"max_concurrent_scans"`
	ScanTimeout          time.Duration `yaml:"scan_timeout"`
	CancelGracePeriod    time.Duration `yaml:"cancel_grace_period"`
	ProgressPollInterval time.Duration `yaml:"progress_poll_interval"`
	ReportBaseURL        string        `yaml:"report_base_url"`
}

// EngineConfig points at the scan engine daemon.
type EngineConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	SpiderMaxChildren int           `yaml:"spider_max_children"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
}

// DispatchConfig bounds notification retries.
type DispatchConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// ChannelType enumerates the supported notification channel kinds.
type ChannelType string

const (
	ChannelTypeEmail        ChannelType = "email"
	ChannelTypeChatWebhook  ChannelType = "chat_webhook"
	ChannelTypeIssueTracker ChannelType = "issue_tracker"
	ChannelTypeWebhook      ChannelType = "webhook"
)

// ChannelConfig is a generic wrapper for the different channel kinds. Exactly
// one of the kind-specific blocks must be set, matching Type.
type ChannelConfig struct {
	ID   string      `yaml:"id"`
	Type ChannelType `yaml:"type"`

	Email        *EmailChannelConfig        `yaml:"email,omitempty"`
	ChatWebhook  *ChatWebhookChannelConfig  `yaml:"chat_webhook,omitempty"`
	IssueTracker *IssueTrackerChannelConfig `yaml:"issue_tracker,omitempty"`
	Webhook      *WebhookChannelConfig      `yaml:"webhook,omitempty"`
}

// EmailChannelConfig configures SMTP delivery.
type EmailChannelConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Username   string   `yaml:"username,omitempty"`
	Password   string   `yaml:"password,omitempty"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

// ChatWebhookChannelConfig configures chat incoming-webhook delivery.
type ChatWebhookChannelConfig struct {
	WebhookURL        string  `yaml:"webhook_url"`
	Username          string  `yaml:"username,omitempty"`
	MessagesPerSecond float64 `yaml:"messages_per_second,omitempty"`
}

// IssueTrackerChannelConfig configures issue creation.
type IssueTrackerChannelConfig struct {
	BaseURL string   `yaml:"base_url,omitempty"`
	Token   string   `yaml:"token"`
	Owner   string   `yaml:"owner"`
	Repo    string   `yaml:"repo"`
	Labels  []string `yaml:"labels,omitempty"`
}

// WebhookChannelConfig configures generic webhook delivery.
type WebhookChannelConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// AppConfig carries per-application defaults applied when a trigger request
// leaves them unset.
type AppConfig struct {
	Target     string              `yaml:"target"`
	ScanType   string              `yaml:"scan_type,omitempty"`
	Thresholds scanning.Thresholds `yaml:"thresholds"`
}

// Validate checks cross-field consistency the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("engine.base_url is required")
	}

	seen := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel id is required")
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		seen[ch.ID] = struct{}{}

		switch ch.Type {
		case ChannelTypeEmail:
			if ch.Email == nil {
				return fmt.Errorf("channel %q: email block is required", ch.ID)
			}
		case ChannelTypeChatWebhook:
			if ch.ChatWebhook == nil {
				return fmt.Errorf("channel %q: chat_webhook block is required", ch.ID)
			}
		case ChannelTypeIssueTracker:
			if ch.IssueTracker == nil {
				return fmt.Errorf("channel %q: issue_tracker block is required", ch.ID)
			}
		case ChannelTypeWebhook:
			if ch.Webhook == nil {
				return fmt.Errorf("channel %q: webhook block is required", ch.ID)
			}
		default:
			return fmt.Errorf("channel %q: unknown type %q", ch.ID, ch.Type)
		}
	}

	for name, app := range c.Applications {
		if app.Target == "" {
			return fmt.Errorf("application %q: target is required", name)
		}
		if app.ScanType != "" && scanning.ParseScanType(app.ScanType) == "" {
			return fmt.Errorf("application %q: unknown scan type %q", name, app.ScanType)
		}
		if err := app.Thresholds.Validate(); err != nil {
			return fmt.Errorf("application %q: %w", name, err)
		}
	}

	return nil
}
