package store

import (
	"sort"
	"sync"
	"time"

	"github.com/psantana5/ffmpeg-rife/pkg/models"
)

// MemoryStore is an in-memory job registry. Nothing is persisted and
// nothing is evicted: jobs live for the lifetime of the process.
type MemoryStore struct {
	jobs map[string]models.Job
	mu   sync.RWMutex
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]models.Job),
		now:  time.Now,
	}
}

// CreateJob inserts a new running job
func (s *MemoryStore) CreateJob(id string, kind models.JobKind, params models.JobParams) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; ok {
		return models.Job{}, ErrJobExists
	}
	job := models.NewJob(id, kind, params, s.now())
	s.jobs[id] = job
	return job, nil
}

// GetJob retrieves a job by ID
func (s *MemoryStore) GetJob(id string) (models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrJobNotFound
	}
	return job, nil
}

// GetAllJobs returns every job, newest first
func (s *MemoryStore) GetAllJobs() []models.Job {
	s.mu.RLock()
	jobs := make([]models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// SetDone records a successful pipeline run
func (s *MemoryStore) SetDone(id, outputURL, framesURL string) (models.Job, error) {
	return s.transition(id, func(job models.Job, at time.Time) (models.Job, error) {
		return job.Done(outputURL, framesURL, at)
	})
}

// SetError records a failed pipeline run
func (s *MemoryStore) SetError(id, message string) (models.Job, error) {
	return s.transition(id, func(job models.Job, at time.Time) (models.Job, error) {
		return job.Failed(message, at)
	})
}

func (s *MemoryStore) transition(id string, next func(models.Job, time.Time) (models.Job, error)) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrJobNotFound
	}
	updated, err := next(job, s.now())
	if err != nil {
		return job, err
	}
	s.jobs[id] = updated
	return updated, nil
}
