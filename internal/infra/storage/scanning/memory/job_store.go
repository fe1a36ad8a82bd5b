// Package memory provides an in-memory scan job repository for tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/scanwarden/scanwarden/internal/domain/scanning"
)

var _ scanning.JobRepository = (*JobStore)(nil)

// JobStore keeps job snapshots in a map guarded by a mutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scanning.JobSnapshot
}

// NewJobStore creates an empty in-memory job repository.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]scanning.JobSnapshot)}
}

// SaveJob upserts the job snapshot.
func (s *JobStore) SaveJob(_ context.Context, job scanning.JobSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID.String()] = job
	return nil
}

// GetJob loads a job snapshot by id.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scanning.JobSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scanning.JobSnapshot{}, scanning.ErrJobNotFound
	}
	return job, nil
}
