// Package postgres persists scan jobs in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/internal/infra/storage"
	"github.com/scanwarden/scanwarden/pkg/common/uuid"
)

var _ scanning.JobRepository = (*JobStore)(nil)

// JobStore implements scanning.JobRepository using PostgreSQL as the backing
// store. Each save upserts the full snapshot; the orchestrator owns the state
// machine, the store just records it.
type JobStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a PostgreSQL-backed job repository with tracing.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *JobStore {
	return &JobStore{db: pool, tracer: tracer}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database
// operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const saveJobQuery = `
INSERT INTO scan_jobs (
	job_id, application, scan_type, status, progress,
	thresholds, statistics, error_message,
	created_at, started_at, completed_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (job_id) DO UPDATE SET
	status        = EXCLUDED.status,
	progress      = EXCLUDED.progress,
	statistics    = EXCLUDED.statistics,
	error_message = EXCLUDED.error_message,
	started_at    = EXCLUDED.started_at,
	completed_at  = EXCLUDED.completed_at,
	updated_at    = now()`

// SaveJob upserts the job snapshot.
func (s *JobStore) SaveJob(ctx context.Context, job scanning.JobSnapshot) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", job.JobID.String()),
		attribute.String("status", string(job.Status)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_job", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		thresholds, err := json.Marshal(job.Thresholds)
		if err != nil {
			return fmt.Errorf("encoding thresholds: %w", err)
		}
		statistics, err := json.Marshal(job.Statistics)
		if err != nil {
			return fmt.Errorf("encoding statistics: %w", err)
		}

		_, err = s.db.Exec(ctx, saveJobQuery,
			job.JobID, job.Application, string(job.ScanType), string(job.Status), job.Progress,
			thresholds, statistics, job.ErrorMessage,
			job.CreatedAt, job.StartedAt, job.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("saving scan job: %w", err)
		}
		return nil
	})
}

const getJobQuery = `
SELECT job_id, application, scan_type, status, progress,
	thresholds, statistics, error_message,
	created_at, started_at, completed_at
FROM scan_jobs
WHERE job_id = $1`

// GetJob loads a job snapshot by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scanning.JobSnapshot, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return scanning.JobSnapshot{}, scanning.ErrJobNotFound
	}

	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID))

	var snapshot scanning.JobSnapshot
	err = storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		var (
			scanType, status       string
			thresholds, statistics []byte
		)
		row := s.db.QueryRow(ctx, getJobQuery, id)
		err := row.Scan(
			&snapshot.JobID, &snapshot.Application, &scanType, &status, &snapshot.Progress,
			&thresholds, &statistics, &snapshot.ErrorMessage,
			&snapshot.CreatedAt, &snapshot.StartedAt, &snapshot.CompletedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return scanning.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("loading scan job: %w", err)
		}

		snapshot.ScanType = scanning.ScanType(scanType)
		snapshot.Status = scanning.JobStatus(status)
		if err := json.Unmarshal(thresholds, &snapshot.Thresholds); err != nil {
			return fmt.Errorf("decoding thresholds: %w", err)
		}
		if err := json.Unmarshal(statistics, &snapshot.Statistics); err != nil {
			return fmt.Errorf("decoding statistics: %w", err)
		}
		return nil
	})
	if err != nil {
		return scanning.JobSnapshot{}, err
	}
	return snapshot, nil
}
