// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/quarrylabs/quarry/internal/crawl"
)

// Store holds job records and domain rules behind one mutex. It implements
// crawl.JobStore and crawl.DomainStore.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]crawl.CrawlJob
	domains map[string]crawl.DomainRule
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[string]crawl.CrawlJob),
		domains: make(map[string]crawl.DomainRule),
	}
}

// CreateJob stores a new job record.
func (s *Store) CreateJob(_ context.Context, job crawl.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, id string) (crawl.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawl.CrawlJob{}, crawl.ErrJobNotFound
	}
	return job, nil
}

// UpdateJob applies the non-nil fields of update to the stored record.
func (s *Store) UpdateJob(_ context.Context, id string, update crawl.JobUpdate) (crawl.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawl.CrawlJob{}, crawl.ErrJobNotFound
	}
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Data != nil {
		data := *update.Data
		job.Data = &data
	}
	if update.Error != nil {
		job.Error = *update.Error
	}
	if update.StartedAt != nil {
		started := *update.StartedAt
		job.StartedAt = &started
	}
	if update.FinishedAt != nil {
		finished := *update.FinishedAt
		job.FinishedAt = &finished
	}
	s.jobs[id] = job
	return job, nil
}

// ListJobs returns up to limit jobs ordered by creation time, newest first.
func (s *Store) ListJobs(_ context.Context, limit int) ([]crawl.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]crawl.CrawlJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// DeleteJob removes a job record.
func (s *Store) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return crawl.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// DeleteJobs removes the listed job records and returns how many existed.
func (s *Store) DeleteJobs(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, ok := s.jobs[id]; ok {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// GetDomainRule fetches the cached rule for a domain.
func (s *Store) GetDomainRule(_ context.Context, domain string) (crawl.DomainRule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.domains[strings.ToLower(domain)]
	return rule, ok, nil
}

// UpsertDomainRule inserts or replaces the rule for its domain.
func (s *Store) UpsertDomainRule(_ context.Context, rule crawl.DomainRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains[strings.ToLower(rule.Domain)] = rule
	return nil
}
