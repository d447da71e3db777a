package crawl

import (
	"context"
	"time"
)

// JobUpdate carries the mutable fields applied by a state transition. Nil
// pointers leave the stored value untouched.
type JobUpdate struct {
	Status     *JobStatus
	Data       *ScrapedData
	Error      *string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// JobStore persists crawl job records.
type JobStore interface {
	CreateJob(ctx context.Context, job CrawlJob) error
	GetJob(ctx context.Context, id string) (CrawlJob, error)
	UpdateJob(ctx context.Context, id string, update JobUpdate) (CrawlJob, error)
	ListJobs(ctx context.Context, limit int) ([]CrawlJob, error)
	DeleteJob(ctx context.Context, id string) error
	DeleteJobs(ctx context.Context, ids []string) (int64, error)
}

// DomainStore persists per-domain politeness rules.
type DomainStore interface {
	GetDomainRule(ctx context.Context, domain string) (DomainRule, bool, error)
	UpsertDomainRule(ctx context.Context, rule DomainRule) error
}

// Queue provides FIFO enqueue/dequeue semantics for crawl attempts.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Element is a handle onto one matched DOM element.
type Element interface {
	// Tag returns the lowercase element name.
	Tag() string
	// Text returns the trimmed visible text content.
	Text() string
	// HTML returns the trimmed inner markup.
	HTML() (string, error)
	// Attr returns the named attribute's value and whether it is present.
	Attr(name string) (string, bool)
}

// Page is a capability handle onto a fully rendered document. The extraction
// engine must not assume any particular browser binding behind it.
type Page interface {
	QueryAll(selector string, selectorType SelectorType) ([]Element, error)
	QueryFirst(selector string, selectorType SelectorType) (Element, error)
}

// Renderer loads a URL in the browser engine and returns a Page once the
// document has settled. Failures surface as *NavigationError.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
}

// RobotsFetcher retrieves robots.txt documents with a bounded timeout.
type RobotsFetcher interface {
	Fetch(ctx context.Context, rawURL string) (status int, body []byte, err error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
