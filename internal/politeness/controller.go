// Package politeness decides, before any page render, whether a domain may
// be crawled, based on its published robots.txt.
package politeness

import (
	"context"
	"fmt"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/crawl"
)

// DefaultCrawlDelay applies to domains without an operator override.
const DefaultCrawlDelay = 5 * time.Second

// Config controls the Controller.
type Config struct {
	UserAgent  string
	CrawlDelay time.Duration
}

// Controller fetches and caches per-domain crawl permission. Refresh is
// idempotent and may race across jobs for the same domain; last writer wins.
type Controller struct {
	store      crawl.DomainStore
	fetcher    crawl.RobotsFetcher
	userAgent  string
	crawlDelay time.Duration
	logger     *zap.Logger
}

// NewController constructs a Controller.
func NewController(store crawl.DomainStore, fetcher crawl.RobotsFetcher, cfg Config, logger *zap.Logger) *Controller {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "quarry-bot/1.0"
	}
	if cfg.CrawlDelay <= 0 {
		cfg.CrawlDelay = DefaultCrawlDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:      store,
		fetcher:    fetcher,
		userAgent:  cfg.UserAgent,
		crawlDelay: cfg.CrawlDelay,
		logger:     logger,
	}
}

// CheckAndRefresh re-reads robots.txt for the domain, upserts the cached
// rule, and returns it. A disallowed domain yields *crawl.PolitenessError so
// the scheduler treats it as terminal. Robots fetch or parse failures fail
// open: the domain stays allowed and a warning is logged.
func (c *Controller) CheckAndRefresh(ctx context.Context, domain string) (crawl.DomainRule, error) {
	allowed := c.probeRobots(ctx, domain)

	rule := crawl.DomainRule{
		Domain:     domain,
		Allowed:    allowed,
		CrawlDelay: c.crawlDelay,
		UserAgent:  c.userAgent,
	}
	if existing, ok, err := c.store.GetDomainRule(ctx, domain); err != nil {
		return crawl.DomainRule{}, &crawl.InfrastructureError{Op: "get domain rule", Err: err}
	} else if ok && existing.CrawlDelay > 0 {
		rule.CrawlDelay = existing.CrawlDelay
	}
	if err := c.store.UpsertDomainRule(ctx, rule); err != nil {
		return crawl.DomainRule{}, &crawl.InfrastructureError{Op: "upsert domain rule", Err: err}
	}

	if !rule.Allowed {
		return rule, &crawl.PolitenessError{Domain: domain}
	}
	return rule, nil
}

// Allowed returns the cached flag, creating a default permissive record when
// the domain has never been seen.
func (c *Controller) Allowed(ctx context.Context, domain string) (bool, error) {
	rule, ok, err := c.store.GetDomainRule(ctx, domain)
	if err != nil {
		return false, &crawl.InfrastructureError{Op: "get domain rule", Err: err}
	}
	if ok {
		return rule.Allowed, nil
	}
	rule = crawl.DomainRule{
		Domain:     domain,
		Allowed:    true,
		CrawlDelay: c.crawlDelay,
		UserAgent:  c.userAgent,
	}
	if err := c.store.UpsertDomainRule(ctx, rule); err != nil {
		return false, &crawl.InfrastructureError{Op: "upsert domain rule", Err: err}
	}
	return true, nil
}

// probeRobots evaluates isAllowed(userAgent, "/") against the domain's
// robots.txt. Anything short of a parseable 200 response allows the crawl.
func (c *Controller) probeRobots(ctx context.Context, domain string) bool {
	robotsURL := fmt.Sprintf("https://%s/robots.txt", domain)
	status, body, err := c.fetcher.Fetch(ctx, robotsURL)
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing crawl",
			zap.String("domain", domain),
			zap.Error(err),
		)
		return true
	}
	if status != 200 {
		c.logger.Debug("robots.txt unavailable; allowing crawl",
			zap.String("domain", domain),
			zap.Int("status", status),
		)
		return true
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		c.logger.Warn("robots parse failed; allowing crawl",
			zap.String("domain", domain),
			zap.Error(err),
		)
		return true
	}
	group := data.FindGroup(c.userAgent)
	if group == nil {
		return true
	}
	return group.Test("/")
}
