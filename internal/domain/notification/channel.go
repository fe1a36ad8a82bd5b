package notification

import (
	"context"
	"errors"
)

// ErrSkipped is returned by a ChannelAdapter's Send when the channel declines
// to deliver (e.g. no recipients configured). Skips are recorded but never
// retried.
var ErrSkipped = errors.New("delivery skipped")

// ErrPermanent marks a delivery failure that retrying cannot fix, e.g. a
// 4xx response from a webhook receiver. The dispatcher records the failure
// without burning the remaining attempts.
var ErrPermanent = errors.New("permanent delivery failure")

// ChannelAdapter delivers one rendered notification to one destination.
// Variants (email, chat webhook, issue tracker, generic webhook) differ only
// in payload rendering and transport; the dispatcher is agnostic to which
// variants are configured.
type ChannelAdapter interface {
	// ChannelID uniquely names this channel in dispatch reports.
	ChannelID() string

	// TestConnection performs a best-effort reachability/credential check.
	// It is used for configuration diagnostics, not required before sends.
	TestConnection(ctx context.Context) error

	// Send renders and delivers the notification. Returning an error wrapping
	// ErrSkipped records the channel as skipped without retries.
	Send(ctx context.Context, envelope Envelope) error
}

// ReportRepository persists dispatch reports. Like job persistence it is
// fire-and-forget: failures never affect delivery results.
type ReportRepository interface {
	SaveDispatchReport(ctx context.Context, report DispatchReport) error
}
