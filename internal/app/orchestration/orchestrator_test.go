package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/scanwarden/scanwarden/internal/domain/notification"
	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	jobmem "github.com/scanwarden/scanwarden/internal/infra/storage/scanning/memory"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
	"github.com/scanwarden/scanwarden/pkg/common/uuid"
)

// fakeHandle is a controllable in-flight scan. Tests drive it to completion
// (or leave it hanging) while the orchestrator polls.
type fakeHandle struct {
	mu       sync.Mutex
	progress scanning.EngineProgress
	results  scanning.EngineResults

	progressErr error
	resultsErr  error

	stopCalls atomic.Int32
}

func (h *fakeHandle) Progress(context.Context) (scanning.EngineProgress, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.progressErr != nil {
		return scanning.EngineProgress{}, h.progressErr
	}
	return h.progress, nil
}

func (h *fakeHandle) Results(context.Context) (scanning.EngineResults, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resultsErr != nil {
		return scanning.EngineResults{}, h.resultsErr
	}
	return h.results, nil
}

func (h *fakeHandle) Stop(context.Context) error {
	h.stopCalls.Add(1)
	return nil
}

func (h *fakeHandle) finish(results scanning.EngineResults) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = scanning.EngineProgress{Progress: 100, Done: true}
	h.results = results
}

// fakeEngine hands out fakeHandles in StartScan order.
type fakeEngine struct {
	mu       sync.Mutex
	handles  []*fakeHandle
	startErr error
}

func (e *fakeEngine) StartScan(context.Context, string, scanning.ScanPolicy, time.Duration) (scanning.EngineHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return nil, e.startErr
	}
	h := new(fakeHandle)
	e.handles = append(e.handles, h)
	return h, nil
}

func (e *fakeEngine) handle(i int) *fakeHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.handles) {
		return nil
	}
	return e.handles[i]
}

// captureNotifier records every envelope it is handed.
type captureNotifier struct {
	mu        sync.Mutex
	envelopes []notification.Envelope
}

func (n *captureNotifier) Notify(_ context.Context, envelope notification.Envelope) notification.DispatchReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.envelopes = append(n.envelopes, envelope)
	return notification.DispatchReport{ScanJobID: envelope.ScanJobID.String()}
}

func (n *captureNotifier) received() []notification.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Envelope(nil), n.envelopes...)
}

func testConfig() Config {
	return Config{
		MaxConcurrentScans:   3,
		ScanTimeout:          time.Minute,
		CancelGracePeriod:    50 * time.Millisecond,
		ProgressPollInterval: time.Millisecond,
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, engine scanning.ScanEngine, notifier Notifier) *ScanOrchestrator {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewScanOrchestrator(cfg, engine, nil, nil, notifier, nil, logger.Noop(), tracer)
}

func validRequest() TriggerRequest {
	return TriggerRequest{
		Application: "app1",
		Target:      "https://app1.example.com",
		ScanType:    scanning.ScanTypeQuick,
	}
}

func intPtr(v int) *int { return &v }

// waitHandle blocks until the engine has issued the i-th handle; StartScan
// happens on the job goroutine, not inside Trigger.
func waitHandle(t *testing.T, engine *fakeEngine, i int) *fakeHandle {
	t.Helper()
	var h *fakeHandle
	require.Eventually(t, func() bool {
		h = engine.handle(i)
		return h != nil
	}, time.Second, time.Millisecond)
	return h
}

func TestTriggerValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TriggerRequest)
		wantErr bool
	}{
		{
			name:   "valid request",
			mutate: func(*TriggerRequest) {},
		},
		{
			name:    "missing application",
			mutate:  func(r *TriggerRequest) { r.Application = "" },
			wantErr: true,
		},
		{
			name:    "missing target",
			mutate:  func(r *TriggerRequest) { r.Target = "" },
			wantErr: true,
		},
		{
			name:    "unknown scan type",
			mutate:  func(r *TriggerRequest) { r.ScanType = "exhaustive" },
			wantErr: true,
		},
		{
			name:    "negative threshold",
			mutate:  func(r *TriggerRequest) { r.Thresholds.High = intPtr(-1) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := newTestOrchestrator(t, testConfig(), new(fakeEngine), nil)

			req := validRequest()
			tt.mutate(&req)

			jobID, err := orch.Trigger(context.Background(), req)
			if tt.wantErr {
				require.ErrorIs(t, err, scanning.ErrInvalidRequest)
				assert.Equal(t, uuid.Nil, jobID)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, jobID)
		})
	}
}

func TestTriggerEnforcesConcurrencyLimitWithFIFOPromotion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentScans = 2
	engine := new(fakeEngine)
	orch := newTestOrchestrator(t, cfg, engine, nil)
	ctx := context.Background()

	var jobIDs []uuid.UUID
	for i := range 3 {
		jobID, err := orch.Trigger(ctx, validRequest())
		require.NoError(t, err)
		jobIDs = append(jobIDs, jobID)
		// StartScan happens on the job goroutine, so wait for each started
		// job's handle before triggering the next; this pins handle i to
		// job i, the ordering the assertions below rely on.
		if i < cfg.MaxConcurrentScans {
			waitHandle(t, engine, i)
		}
	}

	counts := map[scanning.JobStatus]int{}
	for _, jobID := range jobIDs {
		snap, err := orch.GetStatus(ctx, jobID)
		require.NoError(t, err)
		counts[snap.Status]++
	}
	assert.Equal(t, 2, counts[scanning.JobStatusRunning], "exactly two jobs should hold slots")
	assert.Equal(t, 1, counts[scanning.JobStatusPending], "third job should queue")

	third, err := orch.GetStatus(ctx, jobIDs[2])
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusPending, third.Status, "queue is FIFO so the last job waits")

	// Finishing one running job must promote the queued job.
	waitHandle(t, engine, 0).finish(scanning.EngineResults{})

	require.Eventually(t, func() bool {
		snap, err := orch.GetStatus(ctx, jobIDs[0])
		return err == nil && snap.Status == scanning.JobStatusCompleted
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		snap, err := orch.GetStatus(ctx, jobIDs[2])
		return err == nil && snap.Status == scanning.JobStatusRunning
	}, time.Second, time.Millisecond, "queued job should be promoted when a slot frees")
}

func TestCancelPendingJobIsIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentScans = 1
	engine := new(fakeEngine)
	orch := newTestOrchestrator(t, cfg, engine, nil)
	ctx := context.Background()

	_, err := orch.Trigger(ctx, validRequest())
	require.NoError(t, err)

	queuedID, err := orch.Trigger(ctx, validRequest())
	require.NoError(t, err)

	snap, err := orch.GetStatus(ctx, queuedID)
	require.NoError(t, err)
	require.Equal(t, scanning.JobStatusPending, snap.Status)

	require.NoError(t, orch.Cancel(ctx, queuedID))
	require.NoError(t, orch.Cancel(ctx, queuedID), "second cancel must be a no-op")

	snap, err = orch.GetStatus(ctx, queuedID)
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusCancelled, snap.Status)
	assert.NotNil(t, snap.CompletedAt)
}

func TestCancelRunningJobStopsEngine(t *testing.T) {
	engine := new(fakeEngine)
	orch := newTestOrchestrator(t, testConfig(), engine, nil)
	ctx := context.Background()

	jobID, err := orch.Trigger(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, orch.Cancel(ctx, jobID))

	require.Eventually(t, func() bool {
		snap, err := orch.GetStatus(ctx, jobID)
		return err == nil && snap.Status == scanning.JobStatusCancelled
	}, time.Second, time.Millisecond)

	assert.GreaterOrEqual(t, engine.handle(0).stopCalls.Load(), int32(1), "engine should be signaled to stop")
	require.NoError(t, orch.Cancel(ctx, jobID), "cancel after terminal must be a no-op")
}

func TestCancelUnknownJobReturnsNotFound(t *testing.T) {
	orch := newTestOrchestrator(t, testConfig(), new(fakeEngine), nil)

	err := orch.Cancel(context.Background(), uuid.New())
	require.ErrorIs(t, err, scanning.ErrJobNotFound)

	_, err = orch.GetStatus(context.Background(), uuid.New())
	require.ErrorIs(t, err, scanning.ErrJobNotFound)
}

func TestScanTimeoutFailsJobAndReleasesSlot(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentScans = 1
	cfg.ScanTimeout = 25 * time.Millisecond
	engine := new(fakeEngine)
	orch := newTestOrchestrator(t, cfg, engine, nil)
	ctx := context.Background()

	jobID, err := orch.Trigger(ctx, validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := orch.GetStatus(ctx, jobID)
		return err == nil && snap.Status == scanning.JobStatusFailed
	}, time.Second, time.Millisecond)

	snap, err := orch.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Contains(t, snap.ErrorMessage, "timeout")

	// The slot must be free again: a new trigger starts immediately.
	nextID, err := orch.Trigger(ctx, validRequest())
	require.NoError(t, err)
	next, err := orch.GetStatus(ctx, nextID)
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusRunning, next.Status)
}

func TestEngineStartFailureFailsJob(t *testing.T) {
	engine := &fakeEngine{startErr: errors.New("daemon not listening")}
	orch := newTestOrchestrator(t, testConfig(), engine, nil)
	ctx := context.Background()

	jobID, err := orch.Trigger(ctx, validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := orch.GetStatus(ctx, jobID)
		return err == nil && snap.Status == scanning.JobStatusFailed
	}, time.Second, time.Millisecond)

	snap, err := orch.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Contains(t, snap.ErrorMessage, "engine unavailable")
	assert.Contains(t, snap.ErrorMessage, "daemon not listening")
}

func TestEngineProgressErrorFailsJob(t *testing.T) {
	engine := new(fakeEngine)
	orch := newTestOrchestrator(t, testConfig(), engine, nil)
	ctx := context.Background()

	jobID, err := orch.Trigger(ctx, validRequest())
	require.NoError(t, err)

	h := waitHandle(t, engine, 0)
	h.mu.Lock()
	h.progressErr = errors.New("connection refused")
	h.mu.Unlock()

	require.Eventually(t, func() bool {
		snap, err := orch.GetStatus(ctx, jobID)
		return err == nil && snap.Status == scanning.JobStatusFailed
	}, time.Second, time.Millisecond)

	snap, err := orch.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Contains(t, snap.ErrorMessage, "engine unreachable")
}

func TestCompletedScanDispatchesThresholdOutcome(t *testing.T) {
	engine := new(fakeEngine)
	notifier := new(captureNotifier)
	orch := newTestOrchestrator(t, testConfig(), engine, notifier)
	ctx := context.Background()

	req := validRequest()
	req.Thresholds = scanning.Thresholds{Critical: intPtr(0), High: intPtr(5)}
	jobID, err := orch.Trigger(ctx, req)
	require.NoError(t, err)

	findings := []scanning.Finding{
		{Severity: scanning.SeverityHigh}, {Severity: scanning.SeverityHigh},
		{Severity: scanning.SeverityHigh}, {Severity: scanning.SeverityHigh},
		{Severity: scanning.SeverityHigh},
		{Severity: scanning.SeverityCritical},
	}
	waitHandle(t, engine, 0).finish(scanning.EngineResults{Findings: findings})

	require.Eventually(t, func() bool {
		return len(notifier.received()) == 1
	}, time.Second, time.Millisecond)

	snap, err := orch.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)

	envelope := notifier.received()[0]
	assert.Equal(t, jobID, envelope.ScanJobID)
	assert.Equal(t, scanning.OutcomeFailure, envelope.Outcome, "critical finding over the zero limit fails the build")
	assert.Equal(t, 1, envelope.Statistics.Critical)
	assert.Equal(t, 5, envelope.Statistics.High)
	assert.Equal(t, 6, envelope.Statistics.Total)
}

func TestFailedScanDispatchesFailureOutcome(t *testing.T) {
	engine := &fakeEngine{startErr: errors.New("boom")}
	notifier := new(captureNotifier)
	orch := newTestOrchestrator(t, testConfig(), engine, notifier)

	_, err := orch.Trigger(context.Background(), validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(notifier.received()) == 1
	}, time.Second, time.Millisecond)

	envelope := notifier.received()[0]
	assert.Equal(t, scanning.JobStatusFailed, envelope.Status)
	assert.Equal(t, scanning.OutcomeFailure, envelope.Outcome)
	assert.NotEmpty(t, envelope.ErrorMessage)
}

func TestCancelledScanDoesNotDispatch(t *testing.T) {
	engine := new(fakeEngine)
	notifier := new(captureNotifier)
	orch := newTestOrchestrator(t, testConfig(), engine, notifier)
	ctx := context.Background()

	jobID, err := orch.Trigger(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, orch.Cancel(ctx, jobID))

	require.Eventually(t, func() bool {
		snap, err := orch.GetStatus(ctx, jobID)
		return err == nil && snap.Status == scanning.JobStatusCancelled
	}, time.Second, time.Millisecond)

	require.NoError(t, orch.Shutdown(ctx))
	assert.Empty(t, notifier.received(), "cancelled jobs never notify")
}

func TestExitCodeFailureFailsJob(t *testing.T) {
	engine := new(fakeEngine)
	orch := newTestOrchestrator(t, testConfig(), engine, nil)
	ctx := context.Background()

	jobID, err := orch.Trigger(ctx, validRequest())
	require.NoError(t, err)

	waitHandle(t, engine, 0).finish(scanning.EngineResults{ExitCode: 2})

	require.Eventually(t, func() bool {
		snap, err := orch.GetStatus(ctx, jobID)
		return err == nil && snap.Status == scanning.JobStatusFailed
	}, time.Second, time.Millisecond)

	snap, err := orch.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Contains(t, snap.ErrorMessage, "exited with code 2")
}

func TestJobLifecyclePersistedToRepository(t *testing.T) {
	engine := new(fakeEngine)
	store := jobmem.NewJobStore()
	tracer := noop.NewTracerProvider().Tracer("test")
	orch := NewScanOrchestrator(testConfig(), engine, store, nil, nil, nil, logger.Noop(), tracer)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	ctx := context.Background()

	jobID, err := orch.Trigger(ctx, validRequest())
	require.NoError(t, err)

	// The admission snapshot is saved immediately on trigger; with a free
	// slot the job is already running.
	snap, err := store.GetJob(ctx, jobID.String())
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusRunning, snap.Status)

	waitHandle(t, engine, 0).finish(scanning.EngineResults{
		Findings: []scanning.Finding{{Severity: scanning.SeverityMedium}},
	})

	require.Eventually(t, func() bool {
		saved, getErr := store.GetJob(ctx, jobID.String())
		return getErr == nil && saved.Status == scanning.JobStatusCompleted
	}, time.Second, time.Millisecond)

	saved, err := store.GetJob(ctx, jobID.String())
	require.NoError(t, err)
	assert.Equal(t, 100, saved.Progress)
	assert.Equal(t, 1, saved.Statistics.Medium)
	require.NotNil(t, saved.CompletedAt)
}

func TestReportLinksDerivedFromBaseURL(t *testing.T) {
	cfg := testConfig()
	cfg.ReportBaseURL = "https://scans.example.com"
	engine := new(fakeEngine)
	notifier := new(captureNotifier)
	orch := newTestOrchestrator(t, cfg, engine, notifier)
	ctx := context.Background()

	jobID, err := orch.Trigger(ctx, validRequest())
	require.NoError(t, err)

	waitHandle(t, engine, 0).finish(scanning.EngineResults{})

	require.Eventually(t, func() bool {
		return len(notifier.received()) == 1
	}, time.Second, time.Millisecond)

	envelope := notifier.received()[0]
	assert.Equal(t, "https://scans.example.com/scans/"+jobID.String()+"/report.html", envelope.ReportLinks["html"])
	assert.Equal(t, "https://scans.example.com/scans/"+jobID.String()+"/report.json", envelope.ReportLinks["json"])
}
