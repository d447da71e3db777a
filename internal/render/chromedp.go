package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/crawl"
)

// ErrRendererDisabled indicates rendering has been disabled via configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// Config controls the chromedp renderer.
type Config struct {
	MaxParallel int
	NavTimeout  time.Duration
	SettleDelay time.Duration
	UserAgent   string
}

// ChromedpRenderer renders pages using headless Chrome via chromedp. Each
// render opens a fresh tab in a shared browser, navigates with a bounded
// timeout, waits for the document to settle, and snapshots the DOM.
type ChromedpRenderer struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	navTimeout      time.Duration
	settleDelay     time.Duration
	userAgent       string
}

// NewChromedpRenderer launches the shared browser using cfg.
func NewChromedpRenderer(cfg Config, logger *zap.Logger) (*ChromedpRenderer, error) {
	if cfg.MaxParallel <= 0 {
		return nil, ErrRendererDisabled
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &ChromedpRenderer{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxParallel),
		navTimeout:      cfg.NavTimeout,
		settleDelay:     cfg.SettleDelay,
		userAgent:       cfg.UserAgent,
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (r *ChromedpRenderer) Close() {
	if r == nil {
		return
	}
	r.browserCancel()
	r.allocatorCancel()
}

// Render implements crawl.Renderer. Navigation and render failures are
// wrapped as *crawl.NavigationError so the scheduler retries them.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string) (crawl.Page, error) {
	if r == nil {
		return nil, ErrRendererDisabled
	}

	release, err := r.acquireSlot(ctx)
	if err != nil {
		return nil, &crawl.NavigationError{URL: rawURL, Err: err}
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.navTimeout+r.settleDelay)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	html, err := r.runChromedp(taskCtx, rawURL)
	if err != nil {
		r.logger.Warn("page render failed", zap.String("url", rawURL), zap.Error(err))
		return nil, &crawl.NavigationError{URL: rawURL, Err: err}
	}

	page, err := NewSnapshotPage(html)
	if err != nil {
		return nil, &crawl.NavigationError{URL: rawURL, Err: err}
	}
	return page, nil
}

func (r *ChromedpRenderer) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (r *ChromedpRenderer) runChromedp(ctx context.Context, rawURL string) (string, error) {
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(r.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.settleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
