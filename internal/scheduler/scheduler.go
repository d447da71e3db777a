// Package scheduler bounds concurrent job execution, enforces the global
// admission rate, and applies retry policy over the per-job pipeline.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quarrylabs/quarry/internal/crawl"
	"github.com/quarrylabs/quarry/internal/events"
	"github.com/quarrylabs/quarry/internal/extract"
	"github.com/quarrylabs/quarry/internal/politeness"
	"github.com/quarrylabs/quarry/internal/state"
)

// Config controls scheduler behavior. RateLimit admissions per RateWindow
// bound job starts globally, independent of the Concurrency cap; both must
// be satisfied before an execution starts.
type Config struct {
	Concurrency int
	RateLimit   int
	RateWindow  time.Duration
	Backoff     BackoffPolicy
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 1
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 3 * time.Second
	}
	if c.Backoff.MaxAttempts <= 0 {
		c.Backoff = NewBackoffPolicy()
	}
	return c
}

// errAlreadyFinished marks a stale attempt for a job that already reached a
// terminal state.
var errAlreadyFinished = errors.New("job already finished")

// Scheduler owns the queue, the in-flight worker pool, and the limiter
// state. It is an explicit object: anything that needs to submit jobs gets
// the instance handed to it.
type Scheduler struct {
	queue      crawl.Queue
	machine    *state.Machine
	politeness *politeness.Controller
	renderer   crawl.Renderer
	engine     *extract.Engine
	emitter    events.Emitter
	idGen      crawl.IDGenerator
	clock      crawl.Clock
	logger     *zap.Logger
	cfg        Config

	limiter *rate.Limiter
	sem     chan struct{}
	wg      sync.WaitGroup

	pacerMu sync.Mutex
	pacers  map[string]*rate.Limiter
}

// New constructs a Scheduler.
func New(
	queue crawl.Queue,
	machine *state.Machine,
	politeness *politeness.Controller,
	renderer crawl.Renderer,
	engine *extract.Engine,
	emitter events.Emitter,
	idGen crawl.IDGenerator,
	clock crawl.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		queue:      queue,
		machine:    machine,
		politeness: politeness,
		renderer:   renderer,
		engine:     engine,
		emitter:    emitter,
		idGen:      idGen,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
		// Token bucket sized so starts never exceed RateLimit per
		// RateWindow, independent of the concurrency cap.
		limiter: rate.NewLimiter(rate.Every(cfg.RateWindow/time.Duration(cfg.RateLimit)), 1),
		sem:     make(chan struct{}, cfg.Concurrency),
		pacers:  make(map[string]*rate.Limiter),
	}
}

// Submit validates, persists (PENDING), and enqueues a new job. It returns
// the job ID without waiting for execution.
func (s *Scheduler) Submit(ctx context.Context, rawURL string, rules []crawl.ExtractionRule) (string, error) {
	if _, err := crawl.ValidateURL(rawURL); err != nil {
		return "", err
	}
	if err := crawl.ValidateRules(rules); err != nil {
		return "", err
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return "", &crawl.InfrastructureError{Op: "generate job id", Err: err}
	}
	job := crawl.CrawlJob{
		ID:           id,
		URL:          rawURL,
		Status:       crawl.JobStatusPending,
		ExtractRules: rules,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.machine.Create(ctx, job); err != nil {
		return "", err
	}
	item := crawl.QueueItem{JobID: id, Attempt: 1, EnqueuedAt: s.clock.Now().UnixNano()}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return "", &crawl.InfrastructureError{Op: "enqueue job", Err: err}
	}
	s.logger.Debug("job submitted", zap.String("job_id", id), zap.String("url", rawURL))
	return id, nil
}

// Run admits queued attempts in FIFO order under the rate and concurrency
// caps, blocking until the context finishes and in-flight work drains.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		item, err := s.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		s.wg.Add(1)
		go func(item crawl.QueueItem) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.execute(ctx, item)
		}(item)
	}
	s.wg.Wait()
}

// execute runs one attempt and interprets its tagged outcome.
func (s *Scheduler) execute(ctx context.Context, item crawl.QueueItem) {
	started := s.clock.Now()
	result := s.runAttempt(ctx, item)

	switch result.Outcome {
	case crawl.OutcomeSuccess:
		if err := s.machine.MarkCompleted(ctx, item.JobID, result.Data); err != nil {
			s.logger.Error("mark completed failed", zap.String("job_id", item.JobID), zap.Error(err))
			return
		}
		s.emit(events.Event{
			JobID:   item.JobID,
			Kind:    events.KindJobCompleted,
			Attempt: item.Attempt,
			Dur:     s.clock.Now().Sub(started),
		})
		s.logger.Info("job completed", zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))

	case crawl.OutcomeRetry:
		if item.Attempt < s.cfg.Backoff.MaxAttempts {
			s.scheduleRetry(ctx, item, result.Err)
			return
		}
		s.fail(ctx, item, started, result.Err)

	case crawl.OutcomeTerminal:
		if errors.Is(result.Err, errAlreadyFinished) {
			// Stale retry for a job that already reached a terminal
			// state; the record must not be touched again.
			return
		}
		s.fail(ctx, item, started, result.Err)
	}
}

func (s *Scheduler) scheduleRetry(ctx context.Context, item crawl.QueueItem, cause error) {
	delay := s.cfg.Backoff.Delay(item.Attempt)
	s.logger.Warn("attempt failed; scheduling retry",
		zap.String("job_id", item.JobID),
		zap.Int("attempt", item.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	s.emit(events.Event{
		JobID:   item.JobID,
		Kind:    events.KindJobRetried,
		Attempt: item.Attempt,
		Note:    cause.Error(),
	})
	next := crawl.QueueItem{
		JobID:      item.JobID,
		Attempt:    item.Attempt + 1,
		EnqueuedAt: s.clock.Now().UnixNano(),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := s.queue.Enqueue(ctx, next); err != nil && ctx.Err() == nil {
			s.logger.Error("re-enqueue failed", zap.String("job_id", item.JobID), zap.Error(err))
			s.fail(ctx, next, s.clock.Now(), cause)
		}
	}()
}

func (s *Scheduler) fail(ctx context.Context, item crawl.QueueItem, started time.Time, cause error) {
	errText := "unknown error"
	if cause != nil {
		errText = cause.Error()
	}
	if err := s.machine.MarkFailed(ctx, item.JobID, errText); err != nil {
		s.logger.Error("mark failed failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	s.emit(events.Event{
		JobID:   item.JobID,
		Kind:    events.KindJobFailed,
		Attempt: item.Attempt,
		Dur:     s.clock.Now().Sub(started),
		Note:    errText,
	})
	s.logger.Warn("job failed",
		zap.String("job_id", item.JobID),
		zap.Int("attempt", item.Attempt),
		zap.String("error", errText),
	)
}

// runAttempt executes the per-job pipeline: politeness check, render,
// extract. It returns a tagged result instead of letting errors cross
// layers.
func (s *Scheduler) runAttempt(ctx context.Context, item crawl.QueueItem) crawl.AttemptResult {
	job, err := s.machine.Get(ctx, item.JobID)
	if err != nil {
		return classify(err)
	}
	if job.Status.Terminal() {
		return crawl.TerminalResult(errAlreadyFinished)
	}
	if err := s.machine.MarkRunning(ctx, item.JobID); err != nil {
		return classify(err)
	}

	domain, err := crawl.ValidateURL(job.URL)
	if err != nil {
		return crawl.TerminalResult(err)
	}

	s.emit(events.Event{
		JobID:   item.JobID,
		Kind:    events.KindJobStarted,
		Domain:  domain,
		Attempt: item.Attempt,
	})

	rule, err := s.politeness.CheckAndRefresh(ctx, domain)
	if err != nil {
		return classify(err)
	}

	if err := s.waitDomainDelay(ctx, domain, rule.CrawlDelay); err != nil {
		return crawl.RetryResult(err)
	}

	page, err := s.renderer.Render(ctx, job.URL)
	if err != nil {
		return classify(err)
	}

	data := s.engine.Extract(page, job.ExtractRules)
	return crawl.SuccessResult(data)
}

// waitDomainDelay paces renders against the same domain using the cached
// crawl delay. The first render for a domain proceeds immediately.
func (s *Scheduler) waitDomainDelay(ctx context.Context, domain string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	s.pacerMu.Lock()
	pacer, ok := s.pacers[domain]
	if !ok {
		pacer = rate.NewLimiter(rate.Every(delay), 1)
		s.pacers[domain] = pacer
	} else if pacer.Limit() != rate.Every(delay) {
		// The cached crawl delay changed on refresh; last write wins.
		pacer.SetLimit(rate.Every(delay))
	}
	s.pacerMu.Unlock()
	return pacer.Wait(ctx)
}

func (s *Scheduler) emit(evt events.Event) {
	if s.emitter == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now()
	}
	s.emitter.Emit(evt)
}

func classify(err error) crawl.AttemptResult {
	if crawl.Retryable(err) {
		return crawl.RetryResult(err)
	}
	return crawl.TerminalResult(err)
}
