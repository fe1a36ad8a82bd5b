// Package postgres persists notification dispatch reports in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanwarden/scanwarden/internal/domain/notification"
	"github.com/scanwarden/scanwarden/internal/infra/storage"
)

var _ notification.ReportRepository = (*ReportStore)(nil)

// ReportStore implements notification.ReportRepository using PostgreSQL.
// One row per dispatch attempt; re-dispatching the same scan replaces the
// previous report.
type ReportStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewReportStore creates a PostgreSQL-backed dispatch report repository.
func NewReportStore(pool *pgxpool.Pool, tracer trace.Tracer) *ReportStore {
	return &ReportStore{db: pool, tracer: tracer}
}

const saveReportQuery = `
INSERT INTO dispatch_reports (scan_job_id, channels, started_at, ended_at, created_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (scan_job_id) DO UPDATE SET
	channels   = EXCLUDED.channels,
	started_at = EXCLUDED.started_at,
	ended_at   = EXCLUDED.ended_at,
	created_at = now()`

// SaveDispatchReport upserts the aggregated delivery report for a scan.
func (s *ReportStore) SaveDispatchReport(ctx context.Context, report notification.DispatchReport) error {
	dbAttrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("scan_job_id", report.ScanJobID),
	}

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_dispatch_report", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		channels, err := json.Marshal(report.Channels)
		if err != nil {
			return fmt.Errorf("encoding channel attempts: %w", err)
		}

		_, err = s.db.Exec(ctx, saveReportQuery,
			report.ScanJobID, channels, report.StartedAt, report.EndedAt,
		)
		if err != nil {
			return fmt.Errorf("saving dispatch report: %w", err)
		}
		return nil
	})
}
