package scheduler

import (
	"time"

	"github.com/quarrylabs/quarry/internal/crawl"
)

// BackoffPolicy governs retry attempts for transient failures. Delays double
// per attempt from BaseDelay, so successive retries always wait strictly
// longer, up to MaxDelay.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewBackoffPolicy builds a policy with the service defaults: 3 attempts,
// 5s base, doubling per attempt.
func NewBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// ShouldRetry decides whether a failed attempt is re-enqueued. Terminal
// errors (politeness, validation) never retry regardless of attempts left.
func (p BackoffPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return crawl.Retryable(err)
}

// Delay returns the wait duration before re-enqueueing attempt+1.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
