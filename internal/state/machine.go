// Package state owns crawl job status transitions and result attachment.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quarrylabs/quarry/internal/crawl"
)

// Machine applies the PENDING -> RUNNING -> {COMPLETED, FAILED} lifecycle
// over a job store. The scheduler guarantees single-writer access per job,
// so transitions need no record-level locking.
type Machine struct {
	store crawl.JobStore
	clock crawl.Clock
}

// NewMachine constructs a Machine.
func NewMachine(store crawl.JobStore, clock crawl.Clock) *Machine {
	return &Machine{store: store, clock: clock}
}

// Create persists a new job in PENDING status.
func (m *Machine) Create(ctx context.Context, job crawl.CrawlJob) error {
	job.Status = crawl.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.clock.Now()
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return &crawl.InfrastructureError{Op: "create job", Err: err}
	}
	return nil
}

// Get reads the current job record.
func (m *Machine) Get(ctx context.Context, id string) (crawl.CrawlJob, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, crawl.ErrJobNotFound) {
			return crawl.CrawlJob{}, err
		}
		return crawl.CrawlJob{}, &crawl.InfrastructureError{Op: "get job", Err: err}
	}
	return job, nil
}

// MarkRunning transitions the job to RUNNING and stamps StartedAt. Re-marking
// an already running job (a later attempt of the same record) keeps the
// original start time.
func (m *Machine) MarkRunning(ctx context.Context, id string) error {
	job, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", id, job.Status)
	}
	update := crawl.JobUpdate{Status: statusPtr(crawl.JobStatusRunning)}
	if job.StartedAt == nil {
		update.StartedAt = timePtr(m.clock.Now())
	}
	return m.apply(ctx, id, update)
}

// MarkCompleted attaches the extracted data and stamps FinishedAt. The
// caller must hold the job in RUNNING; anything else is a programming error.
func (m *Machine) MarkCompleted(ctx context.Context, id string, data crawl.ScrapedData) error {
	return m.apply(ctx, id, crawl.JobUpdate{
		Status:     statusPtr(crawl.JobStatusCompleted),
		Data:       &data,
		FinishedAt: timePtr(m.clock.Now()),
	})
}

// MarkFailed attaches the terminal error message and stamps FinishedAt.
func (m *Machine) MarkFailed(ctx context.Context, id string, errText string) error {
	return m.apply(ctx, id, crawl.JobUpdate{
		Status:     statusPtr(crawl.JobStatusFailed),
		Error:      &errText,
		FinishedAt: timePtr(m.clock.Now()),
	})
}

func (m *Machine) apply(ctx context.Context, id string, update crawl.JobUpdate) error {
	if _, err := m.store.UpdateJob(ctx, id, update); err != nil {
		if errors.Is(err, crawl.ErrJobNotFound) {
			return err
		}
		return &crawl.InfrastructureError{Op: "update job", Err: err}
	}
	return nil
}

func statusPtr(s crawl.JobStatus) *crawl.JobStatus { return &s }

func timePtr(t time.Time) *time.Time { return &t }
