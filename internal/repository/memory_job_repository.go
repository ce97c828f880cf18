package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// MemoryJobRepository implements JobRepository in process. A single mutex
// makes coalescing and claiming atomic.
type MemoryJobRepository struct {
	mu     sync.Mutex
	jobs   map[domain.JobID]*domain.ScrapingJob
	active map[string]domain.JobID
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		jobs:   make(map[domain.JobID]*domain.ScrapingJob),
		active: make(map[string]domain.JobID),
	}
}

func (r *MemoryJobRepository) CreateIfNoActive(ctx context.Context, job *domain.ScrapingJob) (*domain.ScrapingJob, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.active[job.Key()]; ok {
		return cloneJob(r.jobs[id]), true, nil
	}
	if _, exists := r.jobs[job.ID]; exists {
		return nil, false, domain.NewValidationError("id", "job %s already exists", job.ID)
	}
	r.jobs[job.ID] = cloneJob(job)
	if job.Status.IsActive() {
		r.active[job.Key()] = job.ID
	}
	return cloneJob(job), false, nil
}

func (r *MemoryJobRepository) GetByID(ctx context.Context, id domain.JobID) (*domain.ScrapingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobRepository) ClaimNext(ctx context.Context, platform domain.Platform, now time.Time) (*domain.ScrapingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *domain.ScrapingJob
	for _, job := range r.jobs {
		if job.Platform != platform || !job.IsEligible(now) {
			continue
		}
		if next == nil || job.AvailableAt.Before(next.AvailableAt) ||
			(job.AvailableAt.Equal(next.AvailableAt) && job.CreatedAt.Before(next.CreatedAt)) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	if err := next.Start("", now); err != nil {
		return nil, err
	}
	return cloneJob(next), nil
}

func (r *MemoryJobRepository) Update(ctx context.Context, job *domain.ScrapingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if stored.Status.IsTerminal() {
		return domain.ErrJobTerminal
	}

	updated := cloneJob(job)
	updated.CancelRequested = stored.CancelRequested || job.CancelRequested
	r.jobs[job.ID] = updated
	if !updated.Status.IsActive() && r.active[job.Key()] == job.ID {
		delete(r.active, job.Key())
	}
	job.CancelRequested = updated.CancelRequested
	return nil
}

func (r *MemoryJobRepository) FailAndRetry(ctx context.Context, job, next *domain.ScrapingJob) (*domain.ScrapingJob, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.ID]
	if !ok {
		return nil, false, domain.ErrJobNotFound
	}
	if stored.Status != domain.JobProcessing {
		return nil, false, domain.ErrJobTerminal
	}

	failed := cloneJob(job)
	failed.CancelRequested = stored.CancelRequested || job.CancelRequested
	r.jobs[job.ID] = failed
	if r.active[job.Key()] == job.ID {
		delete(r.active, job.Key())
	}
	job.CancelRequested = failed.CancelRequested

	if next == nil || failed.CancelRequested {
		return nil, false, nil
	}
	if id, ok := r.active[next.Key()]; ok {
		return cloneJob(r.jobs[id]), true, nil
	}
	r.jobs[next.ID] = cloneJob(next)
	r.active[next.Key()] = next.ID
	return cloneJob(next), false, nil
}

func (r *MemoryJobRepository) ListExpired(ctx context.Context, platform domain.Platform, startedBefore time.Time, limit int) ([]*domain.ScrapingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []*domain.ScrapingJob
	for _, job := range r.jobs {
		if job.Platform == platform && job.Status == domain.JobProcessing &&
			job.StartedAt != nil && job.StartedAt.Before(startedBefore) {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.Before(*jobs[j].StartedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *MemoryJobRepository) DeletePending(ctx context.Context, id domain.JobID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return false, domain.ErrJobNotFound
	}
	if job.Status != domain.JobPending {
		return false, nil
	}
	delete(r.jobs, id)
	if r.active[job.Key()] == id {
		delete(r.active, job.Key())
	}
	return true, nil
}

func (r *MemoryJobRepository) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.ScrapingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []*domain.ScrapingJob
	for _, job := range r.jobs {
		if status == "" || job.Status == status {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *MemoryJobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[domain.JobStatus]int, 4)
	for _, s := range domain.JobStatuses() {
		counts[s] = 0
	}
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func cloneJob(job *domain.ScrapingJob) *domain.ScrapingJob {
	if job == nil {
		return nil
	}
	c := *job
	if job.StartedAt != nil {
		t := *job.StartedAt
		c.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
