// Package memory provides an in-memory dispatch report repository for tests
// and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/scanwarden/scanwarden/internal/domain/notification"
)

var _ notification.ReportRepository = (*ReportStore)(nil)

// ReportStore keeps dispatch reports in a map guarded by a mutex.
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]notification.DispatchReport
}

// NewReportStore creates an empty in-memory report repository.
func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[string]notification.DispatchReport)}
}

// SaveDispatchReport upserts the aggregated delivery report for a scan.
func (s *ReportStore) SaveDispatchReport(_ context.Context, report notification.DispatchReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.ScanJobID] = report
	return nil
}

// GetDispatchReport returns the stored report for a scan, if any.
func (s *ReportStore) GetDispatchReport(scanJobID string) (notification.DispatchReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[scanJobID]
	return report, ok
}
