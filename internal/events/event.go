// Package events defines the lifecycle notifications emitted by the
// scheduler and the hub that fans them out to observers.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the lifecycle milestone represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindJobStarted   Kind = "JOB_STARTED"
	KindJobCompleted Kind = "JOB_COMPLETED"
	KindJobFailed    Kind = "JOB_FAILED"
	KindJobRetried   Kind = "JOB_RETRIED"
)

// Event captures a single job lifecycle milestone.
type Event struct {
	// JobID identifies the job record.
	JobID string
	// Kind denotes which milestone occurred.
	Kind Kind
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Domain scopes the event to the job's target host.
	Domain string
	// Attempt is the 1-based execution attempt.
	Attempt int
	// Dur captures wall time for terminal events.
	Dur time.Duration
	// Note carries the failure message for JOB_FAILED and JOB_RETRIED.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindJobStarted, KindJobCompleted, KindJobRetried:
	case KindJobFailed:
		if e.Note == "" {
			return errors.New("job failure requires an error note")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
