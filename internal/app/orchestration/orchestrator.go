// Package orchestration owns the scan job lifecycle: admission, bounded
// concurrency with FIFO queueing, engine supervision, timeouts, and the
// terminal handoff to notification dispatch.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanwarden/scanwarden/internal/domain/events"
	"github.com/scanwarden/scanwarden/internal/domain/notification"
	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
	"github.com/scanwarden/scanwarden/pkg/common/uuid"
)

// Notifier receives the envelope for every terminal Completed or Failed
// scan. Implementations fan out to the configured channels; the report is
// informational to the orchestrator.
type Notifier interface {
	Notify(ctx context.Context, envelope notification.Envelope) notification.DispatchReport
}

// Metrics defines the metrics operations the orchestrator reports.
type Metrics interface {
	IncScanTriggered(ctx context.Context, scanType string)
	IncScanTerminal(ctx context.Context, status string)
	SetRunningScans(ctx context.Context, count int)
	SetQueuedScans(ctx context.Context, count int)
}

// Config bounds scan execution.
type Config struct {
	// MaxConcurrentScans caps the number of jobs in Running state. Jobs
	// beyond the cap wait in a FIFO queue.
	MaxConcurrentScans int

	// ScanTimeout bounds a single engine run; exceeding it fails the job.
	ScanTimeout time.Duration

	// CancelGracePeriod bounds how long a cancel waits for the engine to
	// acknowledge before the job is force-transitioned anyway.
	CancelGracePeriod time.Duration

	// ProgressPollInterval is how often a running job polls the engine.
	ProgressPollInterval time.Duration

	// ReportBaseURL, when set, is used to derive report links for
	// notifications (<base>/scans/<id>/report.<format>).
	ReportBaseURL string
}

// DefaultConfig returns the orchestrator's default execution bounds.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentScans:   3,
		ScanTimeout:          60 * time.Minute,
		CancelGracePeriod:    15 * time.Second,
		ProgressPollInterval: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentScans <= 0 {
		c.MaxConcurrentScans = d.MaxConcurrentScans
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = d.ScanTimeout
	}
	if c.CancelGracePeriod <= 0 {
		c.CancelGracePeriod = d.CancelGracePeriod
	}
	if c.ProgressPollInterval <= 0 {
		c.ProgressPollInterval = d.ProgressPollInterval
	}
	return c
}

// TriggerRequest carries everything needed to admit a new scan job.
// Credentials and channel configuration are wired at construction time, not
// read from ambient process state.
type TriggerRequest struct {
	// Application is the configured application key; required.
	Application string

	// Target is the URL the engine scans; required.
	Target string

	// ScanType selects scan depth.
	ScanType scanning.ScanType

	// Thresholds are the per-severity limits used to derive the build
	// outcome on completion.
	Thresholds scanning.Thresholds
}

// jobEntry pairs the job aggregate with its execution plumbing. The aggregate
// is mutated only while holding the orchestrator mutex.
type jobEntry struct {
	job    *scanning.Job
	target string

	// cancelCh is closed exactly once to signal the run goroutine that an
	// explicit cancel was requested.
	cancelCh  chan struct{}
	cancelled bool
}

// ScanOrchestrator is the single writer for all scan job state. The mutex
// serializes the concurrency counter, the FIFO queue, and every job
// transition together, so a slot can never be double-allocated.
type ScanOrchestrator struct {
	cfg Config

	engine    scanning.ScanEngine
	jobRepo   scanning.JobRepository
	publisher events.DomainEventPublisher
	notifier  Notifier

	mu      sync.Mutex
	jobs    map[uuid.UUID]*jobEntry
	queue   []uuid.UUID
	running int

	wg sync.WaitGroup

	metrics Metrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewScanOrchestrator creates the orchestrator. jobRepo, publisher, notifier
// and metrics may be nil; persistence, event publication and notification
// are side effects that never gate a transition.
func NewScanOrchestrator(
	cfg Config,
	engine scanning.ScanEngine,
	jobRepo scanning.JobRepository,
	publisher events.DomainEventPublisher,
	notifier Notifier,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *ScanOrchestrator {
	logger = logger.With("component", "scan_orchestrator")
	return &ScanOrchestrator{
		cfg:       cfg.withDefaults(),
		engine:    engine,
		jobRepo:   jobRepo,
		publisher: publisher,
		notifier:  notifier,
		jobs:      make(map[uuid.UUID]*jobEntry),
		metrics:   metrics,
		logger:    logger,
		tracer:    tracer,
	}
}

// Trigger validates the request and admits a new scan job in Pending state.
// When a concurrency slot is free the job starts immediately; otherwise it
// waits its turn in FIFO order. The job id is returned either way.
func (s *ScanOrchestrator) Trigger(ctx context.Context, req TriggerRequest) (uuid.UUID, error) {
	logger := s.logger.With("operation", "trigger", "application", req.Application)
	ctx, span := s.tracer.Start(ctx, "scan_orchestrator.trigger",
		trace.WithAttributes(
			attribute.String("application", req.Application),
			attribute.String("scan_type", string(req.ScanType)),
		),
	)
	defer span.End()

	if err := validateTrigger(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid trigger request")
		return uuid.Nil, err
	}

	jobID := uuid.New()
	job := scanning.NewJob(jobID, req.Application, req.ScanType, req.Thresholds)
	entry := &jobEntry{
		job:      job,
		target:   req.Target,
		cancelCh: make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[jobID] = entry
	started := s.running < s.cfg.MaxConcurrentScans
	if started {
		// Slot allocation and the Pending->Running transition happen under
		// the same lock hold so the counter can never oversubscribe.
		if err := job.Start(); err != nil {
			delete(s.jobs, jobID)
			s.mu.Unlock()
			span.RecordError(err)
			return uuid.Nil, fmt.Errorf("starting job %s: %w", jobID, err)
		}
		s.running++
	} else {
		s.queue = append(s.queue, jobID)
	}
	snap := job.Snapshot()
	queueDepth := len(s.queue)
	s.publishGauges(ctx)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncScanTriggered(ctx, string(req.ScanType))
	}
	s.saveJob(ctx, snap)
	s.publishEvent(ctx, scanning.NewJobTriggeredEvent(jobID, req.Application, req.ScanType), jobID)

	if started {
		span.AddEvent("job_started")
		logger.Info(ctx, "Scan job started", "job_id", jobID, "target", req.Target)
		s.publishEvent(ctx, scanning.NewJobStartedEvent(jobID), jobID)
		s.wg.Add(1)
		go s.runJob(entry)
	} else {
		span.AddEvent("job_queued", trace.WithAttributes(attribute.Int("queue_depth", queueDepth)))
		logger.Info(ctx, "Scan job queued", "job_id", jobID, "queue_depth", queueDepth)
	}

	span.SetStatus(codes.Ok, "job accepted")
	return jobID, nil
}

// GetStatus returns an immutable snapshot of the job; callers never see the
// live aggregate.
func (s *ScanOrchestrator) GetStatus(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error) {
	_, span := s.tracer.Start(ctx, "scan_orchestrator.get_status",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	var snap scanning.JobSnapshot
	if ok {
		snap = entry.job.Snapshot()
	}
	s.mu.Unlock()

	if !ok {
		span.SetStatus(codes.Error, "job not found")
		return scanning.JobSnapshot{}, fmt.Errorf("job %s: %w", jobID, scanning.ErrJobNotFound)
	}
	span.SetStatus(codes.Ok, "status retrieved")
	return snap, nil
}

// Cancel requests termination of a job. Pending jobs leave the queue and
// become Cancelled immediately; Running jobs have their engine signaled and
// are force-transitioned after the grace period if it does not acknowledge.
// Cancel is idempotent: cancelling a terminal job is a no-op.
func (s *ScanOrchestrator) Cancel(ctx context.Context, jobID uuid.UUID) error {
	logger := s.logger.With("operation", "cancel", "job_id", jobID)
	ctx, span := s.tracer.Start(ctx, "scan_orchestrator.cancel",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		span.SetStatus(codes.Error, "job not found")
		return fmt.Errorf("job %s: %w", jobID, scanning.ErrJobNotFound)
	}

	status := entry.job.Status()
	switch {
	case status.IsTerminal():
		s.mu.Unlock()
		span.AddEvent("already_terminal")
		return nil

	case status == scanning.JobStatusPending:
		s.removeFromQueueLocked(jobID)
		if err := entry.job.Cancel(); err != nil {
			s.mu.Unlock()
			span.RecordError(err)
			return err
		}
		snap := entry.job.Snapshot()
		s.publishGauges(ctx)
		s.mu.Unlock()

		logger.Info(ctx, "Pending scan job cancelled")
		s.recordTerminal(ctx, snap)
		s.publishEvent(ctx, scanning.NewJobCancelledEvent(jobID), jobID)
		span.SetStatus(codes.Ok, "pending job cancelled")
		return nil

	default: // Running
		if !entry.cancelled {
			entry.cancelled = true
			close(entry.cancelCh)
		}
		s.mu.Unlock()

		logger.Info(ctx, "Cancellation signaled to running scan")
		span.AddEvent("cancel_signaled")
		span.SetStatus(codes.Ok, "cancel requested")
		return nil
	}
}

// Shutdown waits for in-flight scan goroutines and notification handoffs to
// drain, bounded by the context.
func (s *ScanOrchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

func validateTrigger(req TriggerRequest) error {
	if req.Application == "" {
		return fmt.Errorf("application is required: %w", scanning.ErrInvalidRequest)
	}
	if req.Target == "" {
		return fmt.Errorf("target is required: %w", scanning.ErrInvalidRequest)
	}
	if scanning.ParseScanType(string(req.ScanType)) == "" {
		return fmt.Errorf("unknown scan type %q: %w", req.ScanType, scanning.ErrInvalidRequest)
	}
	if err := req.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, scanning.ErrInvalidRequest)
	}
	return nil
}

// policyForScanType maps scan depth onto an engine policy. Quick scans are
// passive (crawl only), full scans attack everything the crawl reaches, and
// incremental scans attack behind a shallow crawl.
func policyForScanType(st scanning.ScanType) scanning.ScanPolicy {
	switch st {
	case scanning.ScanTypeQuick:
		return scanning.ScanPolicy{ScanType: st, SpiderMaxDepth: 1, ActiveScan: false}
	case scanning.ScanTypeIncremental:
		return scanning.ScanPolicy{ScanType: st, SpiderMaxDepth: 2, ActiveScan: true}
	default:
		return scanning.ScanPolicy{ScanType: st, ActiveScan: true}
	}
}

// runJob supervises one engine run until a terminal transition. It is the
// only goroutine that drives this job's Running-state transitions; explicit
// cancels reach it through the entry's cancel channel.
func (s *ScanOrchestrator) runJob(entry *jobEntry) {
	defer s.wg.Done()

	jobID := entry.job.JobID()
	// Detached from the trigger request: the scan outlives the HTTP call.
	ctx, span := s.tracer.Start(context.Background(), "scan_orchestrator.run_job",
		trace.WithAttributes(
			attribute.String("job_id", jobID.String()),
			attribute.String("scan_type", string(entry.job.ScanType())),
		),
	)
	defer span.End()
	logger := s.logger.With("operation", "run_job", "job_id", jobID)

	handle, err := s.engine.StartScan(ctx, entry.target, policyForScanType(entry.job.ScanType()), s.cfg.ScanTimeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "engine start failed")
		logger.Error(ctx, "Engine failed to start scan", "error", err)
		s.failJob(ctx, entry, fmt.Sprintf("engine unavailable: %v", err))
		return
	}

	timeout := time.NewTimer(s.cfg.ScanTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(s.cfg.ProgressPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-entry.cancelCh:
			span.AddEvent("cancel_received")
			s.stopEngine(ctx, handle)
			s.cancelJob(ctx, entry)
			return

		case <-timeout.C:
			span.AddEvent("scan_timeout")
			logger.Warn(ctx, "Scan exceeded time budget", "timeout", s.cfg.ScanTimeout)
			s.stopEngine(ctx, handle)
			s.failJob(ctx, entry, fmt.Sprintf("timeout after %s", s.cfg.ScanTimeout))
			return

		case <-ticker.C:
			progress, err := handle.Progress(ctx)
			if err != nil {
				span.RecordError(err)
				logger.Error(ctx, "Engine unreachable while polling progress", "error", err)
				s.failJob(ctx, entry, fmt.Sprintf("engine unreachable: %v", err))
				return
			}
			s.setProgress(ctx, entry, progress.Progress)
			if !progress.Done {
				continue
			}

			results, err := handle.Results(ctx)
			if err != nil {
				span.RecordError(err)
				s.failJob(ctx, entry, fmt.Sprintf("collecting results: %v", err))
				return
			}
			if results.ExitCode != 0 {
				s.failJob(ctx, entry, fmt.Sprintf("engine exited with code %d", results.ExitCode))
				return
			}
			s.completeJob(ctx, entry, scanning.StatisticsFromFindings(results.Findings))
			span.SetStatus(codes.Ok, "scan completed")
			return
		}
	}
}

// stopEngine signals the engine and waits at most the grace period for the
// acknowledgement. The job transitions regardless of the outcome so a hung
// engine cannot starve the concurrency slot.
func (s *ScanOrchestrator) stopEngine(ctx context.Context, handle scanning.EngineHandle) {
	stopCtx, cancel := context.WithTimeout(ctx, s.cfg.CancelGracePeriod)
	defer cancel()
	if err := handle.Stop(stopCtx); err != nil {
		s.logger.Warn(ctx, "Engine did not acknowledge stop within grace period", "error", err)
	}
}

func (s *ScanOrchestrator) setProgress(ctx context.Context, entry *jobEntry, progress int) {
	s.mu.Lock()
	entry.job.SetProgress(progress)
	snap := entry.job.Snapshot()
	s.mu.Unlock()
	s.saveJob(ctx, snap)
}

// completeJob performs the Running->Completed transition, releases the slot,
// and hands the outcome off to notification.
func (s *ScanOrchestrator) completeJob(ctx context.Context, entry *jobEntry, stats scanning.Statistics) {
	snap, promoted, ok := s.finish(ctx, entry, func(job *scanning.Job) error {
		return job.Complete(stats)
	})
	if !ok {
		return
	}

	outcome := scanning.EvaluateThresholds(stats, snap.Thresholds)
	s.logger.Info(ctx, "Scan job completed",
		"job_id", snap.JobID, "outcome", outcome, "total_findings", stats.Total)

	s.recordTerminal(ctx, snap)
	s.publishEvent(ctx, scanning.NewJobCompletedEvent(snap.JobID, stats, outcome), snap.JobID)
	s.notifyTerminal(ctx, snap, outcome)
	s.startPromoted(ctx, promoted)
}

// failJob performs the transition to Failed with a human-readable reason,
// releases the slot, and hands off to notification.
func (s *ScanOrchestrator) failJob(ctx context.Context, entry *jobEntry, reason string) {
	snap, promoted, ok := s.finish(ctx, entry, func(job *scanning.Job) error {
		return job.Fail(reason)
	})
	if !ok {
		return
	}

	s.logger.Warn(ctx, "Scan job failed", "job_id", snap.JobID, "reason", reason)

	s.recordTerminal(ctx, snap)
	s.publishEvent(ctx, scanning.NewJobFailedEvent(snap.JobID, reason), snap.JobID)
	s.notifyTerminal(ctx, snap, scanning.OutcomeFailure)
	s.startPromoted(ctx, promoted)
}

// cancelJob performs the Running->Cancelled transition after the engine was
// signaled. Cancelled jobs release their slot but do not notify.
func (s *ScanOrchestrator) cancelJob(ctx context.Context, entry *jobEntry) {
	snap, promoted, ok := s.finish(ctx, entry, func(job *scanning.Job) error {
		return job.Cancel()
	})
	if !ok {
		return
	}

	s.logger.Info(ctx, "Scan job cancelled", "job_id", snap.JobID)

	s.recordTerminal(ctx, snap)
	s.publishEvent(ctx, scanning.NewJobCancelledEvent(snap.JobID), snap.JobID)
	s.startPromoted(ctx, promoted)
}

// finish applies a terminal transition, releases the concurrency slot, and
// promotes the oldest Pending job, all under one lock hold. A false return
// means the job was already terminal and the late transition was discarded.
func (s *ScanOrchestrator) finish(ctx context.Context, entry *jobEntry, transition func(*scanning.Job) error) (scanning.JobSnapshot, *jobEntry, bool) {
	s.mu.Lock()
	if entry.job.Status().IsTerminal() {
		s.mu.Unlock()
		s.logger.Debug(ctx, "Discarding late transition for terminal job", "job_id", entry.job.JobID())
		return scanning.JobSnapshot{}, nil, false
	}
	if err := transition(entry.job); err != nil {
		s.mu.Unlock()
		s.logger.Error(ctx, "Terminal transition rejected", "job_id", entry.job.JobID(), "error", err)
		return scanning.JobSnapshot{}, nil, false
	}
	snap := entry.job.Snapshot()

	s.running--
	promoted := s.promoteLocked()
	s.publishGauges(ctx)
	s.mu.Unlock()

	return snap, promoted, true
}

// promoteLocked pops the oldest Pending job and transitions it to Running.
// Caller must hold s.mu.
func (s *ScanOrchestrator) promoteLocked() *jobEntry {
	for len(s.queue) > 0 {
		jobID := s.queue[0]
		s.queue = s.queue[1:]
		entry, ok := s.jobs[jobID]
		if !ok || entry.job.Status() != scanning.JobStatusPending {
			continue
		}
		if err := entry.job.Start(); err != nil {
			continue
		}
		s.running++
		return entry
	}
	return nil
}

func (s *ScanOrchestrator) startPromoted(ctx context.Context, entry *jobEntry) {
	if entry == nil {
		return
	}
	snap := entry.job.Snapshot()
	s.logger.Info(ctx, "Promoted queued scan job", "job_id", snap.JobID)
	s.saveJob(ctx, snap)
	s.publishEvent(ctx, scanning.NewJobStartedEvent(snap.JobID), snap.JobID)
	s.wg.Add(1)
	go s.runJob(entry)
}

// notifyTerminal builds the notification envelope and dispatches it
// asynchronously. Dispatch outcomes never affect the job's terminal status.
func (s *ScanOrchestrator) notifyTerminal(ctx context.Context, snap scanning.JobSnapshot, outcome scanning.BuildOutcome) {
	if s.notifier == nil {
		return
	}

	envelope := notification.Envelope{
		ScanJobID:    snap.JobID,
		Application:  snap.Application,
		ScanType:     snap.ScanType,
		Status:       snap.Status,
		Outcome:      outcome,
		Statistics:   snap.Statistics,
		ErrorMessage: snap.ErrorMessage,
		ReportLinks:  s.reportLinks(snap.JobID),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		report := s.notifier.Notify(context.WithoutCancel(ctx), envelope)
		if failed := report.FailedChannels(); len(failed) > 0 {
			s.logger.Warn(ctx, "Notification dispatch had channel failures",
				"job_id", snap.JobID, "failed_channels", failed)
		}
	}()
}

func (s *ScanOrchestrator) reportLinks(jobID uuid.UUID) map[string]string {
	if s.cfg.ReportBaseURL == "" {
		return nil
	}
	base := fmt.Sprintf("%s/scans/%s/report", s.cfg.ReportBaseURL, jobID)
	return map[string]string{
		"html": base + ".html",
		"json": base + ".json",
	}
}

// saveJob persists a snapshot fire-and-forget. Persistence failures never
// roll back in-memory transitions.
func (s *ScanOrchestrator) saveJob(ctx context.Context, snap scanning.JobSnapshot) {
	if s.jobRepo == nil {
		return
	}
	if err := s.jobRepo.SaveJob(ctx, snap); err != nil {
		s.logger.Error(ctx, "Failed to persist scan job", "job_id", snap.JobID, "error", err)
	}
}

func (s *ScanOrchestrator) publishEvent(ctx context.Context, evt events.DomainEvent, jobID uuid.UUID) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(jobID.String())); err != nil {
		s.logger.Error(ctx, "Failed to publish domain event",
			"event_type", evt.EventType(), "job_id", jobID, "error", err)
	}
}

func (s *ScanOrchestrator) recordTerminal(ctx context.Context, snap scanning.JobSnapshot) {
	s.saveJob(ctx, snap)
	if s.metrics != nil {
		s.metrics.IncScanTerminal(ctx, string(snap.Status))
	}
}

// publishGauges reports queue and slot occupancy. Caller must hold s.mu.
func (s *ScanOrchestrator) publishGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	s.metrics.SetRunningScans(ctx, s.running)
	s.metrics.SetQueuedScans(ctx, len(s.queue))
}

// removeFromQueueLocked drops a job id from the FIFO queue. Caller must hold
// s.mu.
func (s *ScanOrchestrator) removeFromQueueLocked(jobID uuid.UUID) {
	for i, id := range s.queue {
		if id == jobID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}
