// Package jobs keeps analysis job records in process memory.
//
// The store is the only shared mutable state in the service. Every read,
// write and iteration happens under one mutex, and every job handed out is a
// deep copy, so callers can never observe or cause a torn record.
package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/vegchange/pkg/models"
)

const (
	// DefaultMaxRetained is the default store capacity.
	DefaultMaxRetained = 100
	defaultEvictMargin = 10
	idLength           = 8
)

// Store is the job table. Absence is reported with ok=false, never an error.
type Store interface {
	Create(cfg models.AnalysisConfig) *models.AnalysisJob
	Get(id string) (*models.AnalysisJob, bool)
	Update(id string, opts ...UpdateOption) (*models.AnalysisJob, bool)
	// Transition moves a job from one status to another atomically and applies
	// opts in the same critical section. It fails if the job is absent, is not
	// in status from, or from->to is not a lifecycle edge.
	Transition(id string, from, to models.JobStatus, opts ...UpdateOption) (*models.AnalysisJob, bool)
	// List returns jobs newest first, optionally filtered by status ("" for all).
	// limit <= 0 means no limit.
	List(status models.JobStatus, limit int) []*models.AnalysisJob
	Delete(id string) bool
	Len() int
}

// UpdateOption mutates one field of a job record under the store lock.
type UpdateOption func(*models.AnalysisJob)

// WithProgress records progress and the current step label. Progress is
// clamped to [0, 1] and never moves backwards.
func WithProgress(p float64, step string) UpdateOption {
	return func(j *models.AnalysisJob) {
		p = max(0, min(1, p))
		if p > j.Progress {
			j.Progress = p
		}
		if step != "" {
			j.CurrentStep = step
		}
	}
}

// WithStartedAt sets started_at if it is not already set.
func WithStartedAt(t time.Time) UpdateOption {
	return func(j *models.AnalysisJob) {
		if j.StartedAt == nil {
			j.StartedAt = &t
		}
	}
}

// WithCompletedAt sets completed_at if it is not already set.
func WithCompletedAt(t time.Time) UpdateOption {
	return func(j *models.AnalysisJob) {
		if j.CompletedAt == nil {
			j.CompletedAt = &t
		}
	}
}

// WithResults stores a copy of r.
func WithResults(r *models.JobResults) UpdateOption {
	return func(j *models.AnalysisJob) {
		j.Results = r.Clone()
	}
}

// WithError records a failure message.
func WithError(msg string) UpdateOption {
	return func(j *models.AnalysisJob) {
		j.Error = &msg
	}
}

var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusCancelled},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
}

// CanTransition reports whether from->to is an edge of the job lifecycle.
func CanTransition(from, to models.JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type entry struct {
	job *models.AnalysisJob
	seq uint64
}

// MemoryStore implements Store with a map guarded by a single mutex.
type MemoryStore struct {
	mu          sync.Mutex
	jobs        map[string]*entry
	seq         uint64
	maxRetained int
	evictMargin int
	now         func() time.Time
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// WithEvictMargin sets how many jobs below capacity an eviction pass aims for.
func WithEvictMargin(n int) Option {
	return func(s *MemoryStore) {
		if n >= 0 {
			s.evictMargin = n
		}
	}
}

// NewMemoryStore creates a store holding at most maxRetained jobs before
// terminal jobs start being evicted. maxRetained <= 0 uses DefaultMaxRetained.
func NewMemoryStore(maxRetained int, opts ...Option) *MemoryStore {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	s := &MemoryStore{
		jobs:        make(map[string]*entry),
		maxRetained: maxRetained,
		evictMargin: defaultEvictMargin,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new PENDING job with a private copy of cfg.
func (s *MemoryStore) Create(cfg models.AnalysisConfig) *models.AnalysisJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.jobs) >= s.maxRetained {
		s.evictLocked()
	}

	id := s.newIDLocked()
	s.seq++
	job := &models.AnalysisJob{
		ID:          id,
		Status:      models.JobStatusPending,
		Config:      cfg.Clone(),
		CreatedAt:   s.now().UTC(),
		CurrentStep: "Queued",
	}
	s.jobs[id] = &entry{job: job, seq: s.seq}
	return job.Clone()
}

func (s *MemoryStore) newIDLocked() string {
	for {
		id := uuid.NewString()[:idLength]
		if _, taken := s.jobs[id]; !taken {
			return id
		}
	}
}

// evictLocked removes the oldest COMPLETED/FAILED jobs until the store is
// evictMargin below capacity or no such jobs remain. Pending, running and
// cancelled jobs are never evicted.
func (s *MemoryStore) evictLocked() {
	want := len(s.jobs) - s.maxRetained + s.evictMargin
	if want <= 0 {
		return
	}

	var victims []*entry
	for _, e := range s.jobs {
		if st := e.job.Status; st == models.JobStatusCompleted || st == models.JobStatusFailed {
			victims = append(victims, e)
		}
	}
	sort.Slice(victims, func(i, k int) bool {
		ti, tk := finishedAt(victims[i].job), finishedAt(victims[k].job)
		if !ti.Equal(tk) {
			return ti.Before(tk)
		}
		return victims[i].seq < victims[k].seq
	})

	for i := 0; i < want && i < len(victims); i++ {
		delete(s.jobs, victims[i].job.ID)
	}
}

func finishedAt(j *models.AnalysisJob) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return j.CreatedAt
}

func (s *MemoryStore) Get(id string) (*models.AnalysisJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return e.job.Clone(), true
}

func (s *MemoryStore) Update(id string, opts ...UpdateOption) (*models.AnalysisJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	for _, opt := range opts {
		opt(e.job)
	}
	return e.job.Clone(), true
}

func (s *MemoryStore) Transition(id string, from, to models.JobStatus, opts ...UpdateOption) (*models.AnalysisJob, bool) {
	if !CanTransition(from, to) {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok || e.job.Status != from {
		return nil, false
	}
	e.job.Status = to
	for _, opt := range opts {
		opt(e.job)
	}
	return e.job.Clone(), true
}

func (s *MemoryStore) List(status models.JobStatus, limit int) []*models.AnalysisJob {
	s.mu.Lock()
	matched := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		if status == "" || e.job.Status == status {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		ci, ck := matched[i].job.CreatedAt, matched[k].job.CreatedAt
		if !ci.Equal(ck) {
			return ci.After(ck)
		}
		return matched[i].seq > matched[k].seq
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*models.AnalysisJob, len(matched))
	for i, e := range matched {
		out[i] = e.job.Clone()
	}
	s.mu.Unlock()
	return out
}

func (s *MemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

var _ Store = (*MemoryStore)(nil)
