// Package crawl defines core types shared across subsystems.
package crawl

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store. PENDING is initial;
// COMPLETED and FAILED are terminal.
const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// SelectorType selects the query language used by an extraction rule.
type SelectorType string

// Supported selector types.
const (
	SelectorCSS   SelectorType = "css"
	SelectorXPath SelectorType = "xpath"
)

// ExtractionType selects the value shape pulled from a matched element.
type ExtractionType string

// Supported extraction types.
const (
	ExtractText      ExtractionType = "text"
	ExtractHTML      ExtractionType = "html"
	ExtractAttribute ExtractionType = "attribute"
)

// ExtractionRule declaratively selects DOM element(s) and the value shape to
// pull from them. Rules are immutable once attached to a job.
type ExtractionRule struct {
	Name         string         `json:"name"`
	Selector     string         `json:"selector"`
	SelectorType SelectorType   `json:"selectorType"`
	Type         ExtractionType `json:"type"`
	Attribute    string         `json:"attribute,omitempty"`
	Multiple     bool           `json:"multiple"`
}

// CrawlJob is the persisted record for one crawl request. It is created at
// submission time in PENDING status and mutated only via state transitions.
type CrawlJob struct {
	ID           string           `json:"id"`
	URL          string           `json:"url"`
	Status       JobStatus        `json:"status"`
	ExtractRules []ExtractionRule `json:"extractRules,omitempty"`
	Data         *ScrapedData     `json:"data,omitempty"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	StartedAt    *time.Time       `json:"startedAt,omitempty"`
	FinishedAt   *time.Time       `json:"finishedAt,omitempty"`
}

// DomainRule caches per-domain crawl permission and pacing. Shared across
// jobs targeting the same domain; refresh is last-write-wins.
type DomainRule struct {
	Domain     string        `json:"domain"`
	Allowed    bool          `json:"allowed"`
	CrawlDelay time.Duration `json:"crawlDelay"`
	UserAgent  string        `json:"userAgent,omitempty"`
}

// QueueItem wraps a job execution attempt ready to run. Attempt starts at 1.
type QueueItem struct {
	JobID      string `json:"job_id"`
	Attempt    int    `json:"attempt"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// ValidateRules checks a rule set for structural problems at submission time.
// A violation means the job is rejected before it is ever enqueued.
func ValidateRules(rules []ExtractionRule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		if strings.TrimSpace(rule.Name) == "" {
			return &ValidationError{Field: fmt.Sprintf("extractRules[%d].name", i), Reason: "name is required"}
		}
		if _, dup := seen[rule.Name]; dup {
			return &ValidationError{Field: fmt.Sprintf("extractRules[%d].name", i), Reason: fmt.Sprintf("duplicate rule name %q", rule.Name)}
		}
		seen[rule.Name] = struct{}{}
		if strings.TrimSpace(rule.Selector) == "" {
			return &ValidationError{Field: fmt.Sprintf("extractRules[%d].selector", i), Reason: "selector is required"}
		}
		switch rule.SelectorType {
		case SelectorCSS, SelectorXPath:
		case "":
			// Older clients omit selectorType; css is the historical default.
		default:
			return &ValidationError{
				Field:  fmt.Sprintf("extractRules[%d].selectorType", i),
				Reason: fmt.Sprintf("unknown selector type %q", rule.SelectorType),
			}
		}
		switch rule.Type {
		case ExtractText, ExtractHTML:
		case ExtractAttribute:
			if strings.TrimSpace(rule.Attribute) == "" {
				return &ValidationError{
					Field:  fmt.Sprintf("extractRules[%d].attribute", i),
					Reason: "attribute is required when type is attribute",
				}
			}
		default:
			return &ValidationError{
				Field:  fmt.Sprintf("extractRules[%d].type", i),
				Reason: fmt.Sprintf("unknown extraction type %q", rule.Type),
			}
		}
	}
	return nil
}

// ValidateURL checks a submitted URL and returns its host.
func ValidateURL(rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", &ValidationError{Field: "url", Reason: "url is required"}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", &ValidationError{Field: "url", Reason: "invalid url format"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", &ValidationError{Field: "url", Reason: fmt.Sprintf("unsupported scheme %q", parsed.Scheme)}
	}
	if parsed.Host == "" {
		return "", &ValidationError{Field: "url", Reason: "url host is required"}
	}
	return strings.ToLower(parsed.Host), nil
}
