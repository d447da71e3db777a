package crawl

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned by job stores when no record exists for an ID.
var ErrJobNotFound = errors.New("job not found")

// ValidationError rejects a malformed submission before it is enqueued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// PolitenessError marks a domain disallowed by robots.txt. It is terminal:
// the scheduler must not retry it.
type PolitenessError struct {
	Domain string
}

func (e *PolitenessError) Error() string {
	return fmt.Sprintf("crawling disallowed by robots.txt for domain %s", e.Domain)
}

// NavigationError wraps a failed page render (timeout, DNS failure,
// connection refused). Retryable up to the attempt ceiling.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation failed for %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// InfrastructureError wraps an unavailable persistence or cache collaborator.
// Retryable under the same policy as NavigationError.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Retryable classifies an attempt error. Politeness and validation failures
// are terminal; everything else (navigation, infrastructure, unexpected) is
// retried up to the attempt ceiling.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var politeness *PolitenessError
	if errors.As(err, &politeness) {
		return false
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}
	if errors.Is(err, ErrJobNotFound) {
		return false
	}
	return true
}
