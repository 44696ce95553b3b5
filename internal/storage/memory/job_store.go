// Package memory provides in-process job and blob stores.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/scrape"
)

var errJobNotFound = errors.New("job not found")

// JobStore provides an in-memory implementation for development/testing.
// Nothing survives a restart.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]scrape.Job
	order []string
	limit int
}

// NewJobStore constructs an unbounded JobStore.
func NewJobStore() *JobStore {
	return NewBoundedJobStore(0)
}

// NewBoundedJobStore keeps at most limit records. Once full, the oldest
// finished jobs are evicted to make room; queued and running jobs are never
// evicted, so the store may briefly exceed limit under load. A limit <= 0
// disables eviction.
func NewBoundedJobStore(limit int) *JobStore {
	return &JobStore{
		jobs:  make(map[string]scrape.Job),
		limit: limit,
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	if s.limit > 0 {
		s.evictLocked(len(s.jobs) - s.limit + 1)
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return nil
}

// evictLocked drops up to n finished jobs in insertion order.
func (s *JobStore) evictLocked(n int) {
	if n <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if n > 0 && s.jobs[id].Status.Terminal() {
			delete(s.jobs, id)
			n--
			continue
		}
		kept = append(kept, id)
	}
	clear(s.order[len(kept):])
	s.order = kept
}

// Len reports the number of retained job records.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// UpdateJobStatus updates the status and error text for a job.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status scrape.JobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errJobNotFound
	}
	job.Status = status
	job.ErrorText = errText
	now := time.Now().UTC()
	if status == scrape.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.Terminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// RecordArtifact stores the digest and mirror location of a job's output.
func (s *JobStore) RecordArtifact(_ context.Context, jobID, contentHash, blobURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errJobNotFound
	}
	job.ContentHash = contentHash
	job.BlobURI = blobURI
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, errJobNotFound
	}
	return job, nil
}

// ListJobs returns every job, oldest submission first.
func (s *JobStore) ListJobs(_ context.Context) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scrape.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Submitted.Before(out[j].Submitted) })
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
