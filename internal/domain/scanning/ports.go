package scanning

import (
	"context"
	"time"
)

// JobRepository persists scan job state. Persistence is fire-and-forget from
// the orchestrator's perspective: failures to save never roll back in-memory
// transitions.
type JobRepository interface {
	// SaveJob upserts the job snapshot.
	SaveJob(ctx context.Context, job JobSnapshot) error

	// GetJob loads a job snapshot by id, returning ErrJobNotFound when the
	// id is unknown.
	GetJob(ctx context.Context, jobID string) (JobSnapshot, error)
}

// EngineProgress is one progress report from a running engine scan.
type EngineProgress struct {
	// Progress is the engine's completion estimate, 0-100.
	Progress int

	// Done reports whether the engine considers the scan finished.
	Done bool
}

// EngineResults carries the engine's raw output for a finished scan.
type EngineResults struct {
	Findings []Finding
	ExitCode int
}

// EngineHandle tracks one in-flight engine scan.
type EngineHandle interface {
	// Progress polls the engine for its current completion estimate.
	Progress(ctx context.Context) (EngineProgress, error)

	// Results fetches the findings once the scan is done.
	Results(ctx context.Context) (EngineResults, error)

	// Stop signals the engine to terminate the scan. Stop is a request, not
	// a guarantee: callers bound the wait with their own grace period.
	Stop(ctx context.Context) error
}

// ScanPolicy configures a single engine run.
type ScanPolicy struct {
	// ScanType selects the engine's scan depth.
	ScanType ScanType

	// SpiderMaxDepth bounds crawl depth; zero uses the engine default.
	SpiderMaxDepth int

	// ActiveScan toggles the attack phase. Quick scans may disable it.
	ActiveScan bool
}

// ScanEngine abstracts the external scan execution engine. The orchestrator
// never depends on a specific tool's command-line or API shape.
type ScanEngine interface {
	// StartScan launches a scan against the target and returns a handle for
	// progress polling and result collection. It returns an error wrapping
	// ErrEngineUnavailable when the engine cannot be launched.
	StartScan(ctx context.Context, target string, policy ScanPolicy, timeout time.Duration) (EngineHandle, error)
}
