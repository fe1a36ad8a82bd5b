// Package notification contains the application service that fans scan
// outcomes out to the configured delivery channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/scanwarden/scanwarden/internal/domain/events"
	domain "github.com/scanwarden/scanwarden/internal/domain/notification"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
)

// Metrics defines the metrics operations the dispatcher reports.
type Metrics interface {
	IncDeliverySent(ctx context.Context, channel string)
	IncDeliveryFailed(ctx context.Context, channel string)
}

// Config bounds the dispatcher's retry behavior. Retries are bounded in
// count, not time, so Dispatch always terminates.
type Config struct {
	// MaxAttempts is the maximum number of delivery attempts per channel.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; subsequent delays
	// double up to MaxBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// AttemptTimeout bounds a single delivery attempt. It is independent of
	// any scan timeout.
	AttemptTimeout time.Duration
}

// DefaultConfig mirrors the retry policy of the channel transports this
// service replaced: three attempts with a doubling one-second backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	return c
}

// Dispatcher fans a scan outcome out across all enabled channel adapters,
// running deliveries concurrently and retrying each channel independently.
// One channel failing never blocks or aborts delivery to the others.
type Dispatcher struct {
	cfg Config

	reportRepo domain.ReportRepository
	publisher  events.DomainEventPublisher

	metrics Metrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewDispatcher returns a Dispatcher with the provided retry policy.
// reportRepo and publisher may be nil; persistence and event publication are
// fire-and-forget side effects.
func NewDispatcher(
	cfg Config,
	reportRepo domain.ReportRepository,
	publisher events.DomainEventPublisher,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Dispatcher {
	logger = logger.With("component", "notification_dispatcher")
	return &Dispatcher{
		cfg:        cfg.withDefaults(),
		reportRepo: reportRepo,
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger,
		tracer:     tracer,
	}
}

// Dispatch delivers the envelope to every enabled channel concurrently and
// returns a report covering each of them, even when all deliveries failed.
// Dispatch never returns an error: channel failures are isolated and
// recorded per channel.
func (d *Dispatcher) Dispatch(ctx context.Context, envelope domain.Envelope, channels []domain.ChannelAdapter) domain.DispatchReport {
	logger := d.logger.With("operation", "dispatch", "scan_job_id", envelope.ScanJobID)
	ctx, span := d.tracer.Start(ctx, "notification_dispatcher.dispatch",
		trace.WithAttributes(
			attribute.String("scan_job_id", envelope.ScanJobID.String()),
			attribute.String("outcome", envelope.Outcome.String()),
			attribute.Int("channel_count", len(channels)),
		),
	)
	defer span.End()
	logger.Debug(ctx, "Dispatching scan notification", "channels", len(channels))

	report := domain.DispatchReport{
		ScanJobID: envelope.ScanJobID.String(),
		Channels:  make(map[string]domain.DeliveryAttempt, len(channels)),
		StartedAt: time.Now(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, ch := range channels {
		g.Go(func() error {
			attempt := d.deliver(gctx, ch, envelope)

			mu.Lock()
			report.Channels[ch.ChannelID()] = attempt
			mu.Unlock()

			// Delivery failures are recorded, never propagated.
			return nil
		})
	}
	_ = g.Wait()

	report.EndedAt = time.Now()

	for id, attempt := range report.Channels {
		switch attempt.Result {
		case domain.DeliverySent:
			if d.metrics != nil {
				d.metrics.IncDeliverySent(ctx, id)
			}
		case domain.DeliveryFailed:
			if d.metrics != nil {
				d.metrics.IncDeliveryFailed(ctx, id)
			}
			span.AddEvent("channel_delivery_failed", trace.WithAttributes(
				attribute.String("channel_id", id),
				attribute.Int("attempts", attempt.AttemptNumber),
			))
			logger.Warn(ctx, "Channel delivery failed",
				"channel_id", id, "attempts", attempt.AttemptNumber, "error", attempt.Error)
		}
	}

	d.persistReport(ctx, report)
	d.publishReport(ctx, report)

	span.SetStatus(codes.Ok, "dispatch complete")
	logger.Debug(ctx, "Dispatch complete", "failed_channels", report.FailedChannels())

	return report
}

// deliver attempts delivery to a single channel, retrying sequentially with
// exponential backoff until success, skip, or the attempt budget runs out.
func (d *Dispatcher) deliver(ctx context.Context, ch domain.ChannelAdapter, envelope domain.Envelope) domain.DeliveryAttempt {
	ctx, span := d.tracer.Start(ctx, "notification_dispatcher.deliver",
		trace.WithAttributes(attribute.String("channel_id", ch.ChannelID())),
	)
	defer span.End()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialBackoff
	bo.MaxInterval = d.cfg.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // bounded by attempt count, not time
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.sendOnce(ctx, ch, envelope)
		if err == nil {
			span.SetStatus(codes.Ok, "delivered")
			return domain.DeliveryAttempt{
				ChannelID:     ch.ChannelID(),
				AttemptNumber: attempt,
				Result:        domain.DeliverySent,
				At:            time.Now(),
			}
		}

		if errors.Is(err, domain.ErrSkipped) {
			span.AddEvent("delivery_skipped")
			return domain.DeliveryAttempt{
				ChannelID:     ch.ChannelID(),
				AttemptNumber: attempt,
				Result:        domain.DeliverySkipped,
				Error:         err.Error(),
				At:            time.Now(),
			}
		}

		lastErr = err
		span.RecordError(err)

		if errors.Is(err, domain.ErrPermanent) {
			span.SetStatus(codes.Error, "permanent failure")
			return domain.DeliveryAttempt{
				ChannelID:     ch.ChannelID(),
				AttemptNumber: attempt,
				Result:        domain.DeliveryFailed,
				Error:         err.Error(),
				At:            time.Now(),
			}
		}

		if attempt == d.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			lastErr = fmt.Errorf("dispatch cancelled: %w", context.Cause(ctx))
			attempt = d.cfg.MaxAttempts // stop retrying
		case <-time.After(bo.NextBackOff()):
		}
	}

	span.SetStatus(codes.Error, "delivery failed")
	return domain.DeliveryAttempt{
		ChannelID:     ch.ChannelID(),
		AttemptNumber: d.cfg.MaxAttempts,
		Result:        domain.DeliveryFailed,
		Error:         lastErr.Error(),
		At:            time.Now(),
	}
}

// sendOnce performs a single bounded delivery attempt. Adapter panics are
// contained here so a misbehaving channel cannot take down the dispatch.
func (d *Dispatcher) sendOnce(ctx context.Context, ch domain.ChannelAdapter, envelope domain.Envelope) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel adapter panic: %v", r)
		}
	}()

	return ch.Send(ctx, envelope)
}

// TestConnections runs each adapter's reachability check and returns the
// result per channel. Used for configuration diagnostics at startup.
func (d *Dispatcher) TestConnections(ctx context.Context, channels []domain.ChannelAdapter) map[string]bool {
	results := make(map[string]bool, len(channels))
	for _, ch := range channels {
		err := ch.TestConnection(ctx)
		results[ch.ChannelID()] = err == nil
		if err != nil {
			d.logger.Warn(ctx, "Channel connection test failed", "channel_id", ch.ChannelID(), "error", err)
		}
	}
	return results
}

func (d *Dispatcher) persistReport(ctx context.Context, report domain.DispatchReport) {
	if d.reportRepo == nil {
		return
	}
	if err := d.reportRepo.SaveDispatchReport(ctx, report); err != nil {
		d.logger.Error(ctx, "Failed to persist dispatch report",
			"scan_job_id", report.ScanJobID, "error", err)
	}
}

func (d *Dispatcher) publishReport(ctx context.Context, report domain.DispatchReport) {
	if d.publisher == nil {
		return
	}
	evt := domain.NewReportDispatchedEvent(report)
	if err := d.publisher.PublishDomainEvent(ctx, evt, events.WithKey(report.ScanJobID)); err != nil {
		d.logger.Error(ctx, "Failed to publish report dispatched event",
			"scan_job_id", report.ScanJobID, "error", err)
	}
}
