package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/scanwarden/scanwarden/internal/domain/notification"
	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
)

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// From is the sender address.
	From string

	// Recipients receive every notification. An empty list makes the
	// channel skip sends rather than fail.
	Recipients []string
}

// EmailChannel delivers scan summaries over SMTP.
type EmailChannel struct {
	id     string
	cfg    EmailConfig
	logger *logger.Logger

	// sendMail is swapped in tests; the default is smtp.SendMail, which
	// negotiates STARTTLS when the server offers it.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ notification.ChannelAdapter = (*EmailChannel)(nil)

// NewEmailChannel creates an SMTP channel.
func NewEmailChannel(id string, cfg EmailConfig, logger *logger.Logger) *EmailChannel {
	return &EmailChannel{
		id:       id,
		cfg:      cfg,
		logger:   logger.With("component", "email_channel", "channel_id", id),
		sendMail: smtp.SendMail,
	}
}

func (c *EmailChannel) ChannelID() string { return c.id }

// TestConnection dials the SMTP server and quits without sending.
func (c *EmailChannel) TestConnection(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return fmt.Errorf("dialing smtp server: %w", err)
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	return client.Quit()
}

// Send builds a plain-text summary and submits it. The smtp package has no
// context support, so the blocking call runs on its own goroutine and the
// caller's deadline still bounds the wait.
func (c *EmailChannel) Send(ctx context.Context, envelope notification.Envelope) error {
	if len(c.cfg.Recipients) == 0 {
		return fmt.Errorf("no recipients configured: %w", notification.ErrSkipped)
	}

	msg := buildEmailMessage(c.cfg.From, c.cfg.Recipients, envelope)

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.sendMail(c.addr(), auth, c.cfg.From, c.cfg.Recipients, msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("sending mail: %w", err)
		}
		c.logger.Debug(ctx, "Email delivered", "recipients", len(c.cfg.Recipients))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sending mail: %w", ctx.Err())
	}
}

func (c *EmailChannel) addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

func buildEmailMessage(from string, to []string, envelope notification.Envelope) []byte {
	var subject string
	if envelope.Status == scanning.JobStatusFailed {
		subject = fmt.Sprintf("[ScanWarden] Scan Failed - %s", envelope.Application)
	} else if envelope.Outcome != scanning.OutcomeSuccess {
		subject = fmt.Sprintf("[ScanWarden] ALERT: Thresholds Exceeded - %s", envelope.Application)
	} else {
		subject = fmt.Sprintf("[ScanWarden] Scan Report - %s", envelope.Application)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Security scan for %s (%s scan) finished with status %s.\r\n\r\n",
		envelope.Application, envelope.ScanType, envelope.Status)

	if envelope.Status == scanning.JobStatusFailed {
		fmt.Fprintf(&body, "Error: %s\r\n", envelope.ErrorMessage)
	} else {
		stats := envelope.Statistics
		fmt.Fprintf(&body, "Outcome: %s\r\n\r\n", envelope.Outcome)
		fmt.Fprintf(&body, "Findings by severity:\r\n")
		fmt.Fprintf(&body, "  Critical: %d\r\n", stats.Critical)
		fmt.Fprintf(&body, "  High:     %d\r\n", stats.High)
		fmt.Fprintf(&body, "  Medium:   %d\r\n", stats.Medium)
		fmt.Fprintf(&body, "  Low:      %d\r\n", stats.Low)
		fmt.Fprintf(&body, "  Info:     %d\r\n", stats.Info)
		fmt.Fprintf(&body, "  Total:    %d\r\n", stats.Total)
	}

	if url := envelope.ReportURL(); url != "" {
		fmt.Fprintf(&body, "\r\nFull report: %s\r\n", url)
	}
	fmt.Fprintf(&body, "\r\nScan ID: %s\r\n", envelope.ScanJobID)

	headers := []string{
		"From: " + from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body.String())
}
