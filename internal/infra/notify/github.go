package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/scanwarden/scanwarden/internal/domain/notification"
	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
)

// GitHubConfig configures the issue tracker channel.
type GitHubConfig struct {
	// BaseURL allows pointing at an enterprise instance; empty means
	// https://api.github.com.
	BaseURL string

	Token string
	Owner string
	Repo  string

	// Labels are attached to every created issue.
	Labels []string
}

// GitHubChannel files one summary issue per problematic scan. Clean scans
// are skipped; an issue tracker is for findings, not green runs.
type GitHubChannel struct {
	id     string
	cfg    GitHubConfig
	client *http.Client
	logger *logger.Logger
}

var _ notification.ChannelAdapter = (*GitHubChannel)(nil)

// NewGitHubChannel creates an issue tracker channel.
func NewGitHubChannel(id string, cfg GitHubConfig, client *http.Client, logger *logger.Logger) *GitHubChannel {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &GitHubChannel{
		id:     id,
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "github_channel", "channel_id", id),
	}
}

func (c *GitHubChannel) ChannelID() string { return c.id }

// TestConnection verifies the token can see the repository.
func (c *GitHubChannel) TestConnection(ctx context.Context) error {
	url := fmt.Sprintf("%s/repos/%s/%s", c.cfg.BaseURL, c.cfg.Owner, c.cfg.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("reaching issue tracker: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("repository check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *GitHubChannel) Send(ctx context.Context, envelope notification.Envelope) error {
	if envelope.Status == scanning.JobStatusCompleted && envelope.Outcome == scanning.OutcomeSuccess {
		return fmt.Errorf("clean scan, no issue to file: %w", notification.ErrSkipped)
	}

	issue := buildIssue(envelope, c.cfg.Labels)
	body, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("encoding issue: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues", c.cfg.BaseURL, c.cfg.Owner, c.cfg.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("creating issue: %w", err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusCreated:
		c.logger.Debug(ctx, "Issue created", "application", envelope.Application)
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("issue creation returned status %d: %w", resp.StatusCode, notification.ErrPermanent)
	default:
		return fmt.Errorf("issue creation returned status %d", resp.StatusCode)
	}
}

func (c *GitHubChannel) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "token "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
}

type githubIssue struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

func buildIssue(envelope notification.Envelope, labels []string) githubIssue {
	stats := envelope.Statistics

	if envelope.Status == scanning.JobStatusFailed {
		return githubIssue{
			Title: fmt.Sprintf("[Security Scan] %s: scan failed", envelope.Application),
			Body: fmt.Sprintf(
				"The %s security scan for **%s** failed.\n\n**Error:** %s\n\nScan ID: `%s`\n",
				envelope.ScanType, envelope.Application, envelope.ErrorMessage, envelope.ScanJobID,
			),
			Labels: labels,
		}
	}

	body := fmt.Sprintf(
		"The %s security scan for **%s** finished with outcome **%s**.\n\n"+
			"| Severity | Count |\n|---|---|\n"+
			"| Critical | %d |\n| High | %d |\n| Medium | %d |\n| Low | %d |\n| Info | %d |\n| **Total** | **%d** |\n",
		envelope.ScanType, envelope.Application, envelope.Outcome,
		stats.Critical, stats.High, stats.Medium, stats.Low, stats.Info, stats.Total,
	)
	if url := envelope.ReportURL(); url != "" {
		body += fmt.Sprintf("\n[Full report](%s)\n", url)
	}
	body += fmt.Sprintf("\nScan ID: `%s`\n", envelope.ScanJobID)

	return githubIssue{
		Title: fmt.Sprintf("[Security Scan] %s: %s (%d findings)",
			envelope.Application, envelope.Outcome, stats.Total),
		Body:   body,
		Labels: labels,
	}
}
