package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/crawl"
	"github.com/quarrylabs/quarry/internal/events"
	"github.com/quarrylabs/quarry/internal/extract"
	"github.com/quarrylabs/quarry/internal/politeness"
	queueMemory "github.com/quarrylabs/quarry/internal/queue/memory"
	"github.com/quarrylabs/quarry/internal/render"
	"github.com/quarrylabs/quarry/internal/state"
	storeMemory "github.com/quarrylabs/quarry/internal/store/memory"
)

type fakeRenderer struct {
	mu       sync.Mutex
	calls    int
	failures int
	markup   string
	urls     []string
	times    []time.Time
}

func (r *fakeRenderer) Render(_ context.Context, rawURL string) (crawl.Page, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.urls = append(r.urls, rawURL)
	r.times = append(r.times, time.Now())
	r.mu.Unlock()
	if call <= r.failures {
		return nil, &crawl.NavigationError{URL: rawURL, Err: fmt.Errorf("net: timeout on call %d", call)}
	}
	return render.NewSnapshotPage(r.markup)
}

func (r *fakeRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRenderer) renderedURLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

func (r *fakeRenderer) callTimes() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.times...)
}

type allowAllFetcher struct{}

func (allowAllFetcher) Fetch(context.Context, string) (int, []byte, error) {
	return 200, []byte("User-agent: *\nAllow: /\n"), nil
}

type denyAllFetcher struct{}

func (denyAllFetcher) Fetch(context.Context, string) (int, []byte, error) {
	return 200, []byte("User-agent: *\nDisallow: /\n"), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *recordingEmitter) Emit(evt events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) kinds() []events.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	kinds := make([]events.Kind, 0, len(e.events))
	for _, evt := range e.events {
		kinds = append(kinds, evt.Kind)
	}
	return kinds
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type harness struct {
	sched    *Scheduler
	store    *storeMemory.Store
	renderer *fakeRenderer
	emitter  *recordingEmitter
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHarness(t *testing.T, cfg Config, renderer *fakeRenderer, fetcher crawl.RobotsFetcher) *harness {
	t.Helper()

	store := storeMemory.NewStore()
	queue := queueMemory.NewQueue(64)
	clock := systemClock{}
	machine := state.NewMachine(store, clock)
	controller := politeness.NewController(store, fetcher, politeness.Config{
		UserAgent:  "quarry-bot/1.0",
		CrawlDelay: time.Millisecond,
	}, zap.NewNop())
	engine := extract.NewEngine(zap.NewNop())
	emitter := &recordingEmitter{}

	sched := New(queue, machine, controller, renderer, engine, emitter, &seqIDGen{}, clock, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		queue.Close()
	})

	return &harness{
		sched:    sched,
		store:    store,
		renderer: renderer,
		emitter:  emitter,
		cancel:   cancel,
		done:     done,
	}
}

func fastConfig() Config {
	return Config{
		Concurrency: 2,
		RateLimit:   100,
		RateWindow:  10 * time.Millisecond,
		Backoff: BackoffPolicy{
			MaxAttempts: 3,
			BaseDelay:   5 * time.Millisecond,
			MaxDelay:    20 * time.Millisecond,
		},
	}
}

func TestScheduler_SuccessFlow(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{markup: `<html><head><title>Landing</title></head><body><h1>Hi</h1></body></html>`}
	h := newHarness(t, fastConfig(), renderer, allowAllFetcher{})

	id, err := h.sched.Submit(context.Background(), "https://example.com/page", []crawl.ExtractionRule{
		{Name: "heading", Selector: "h1", SelectorType: crawl.SelectorCSS, Type: crawl.ExtractText},
	})
	require.NoError(t, err)
	require.Equal(t, "job-1", id)

	require.Eventually(t, func() bool {
		job, err := h.store.GetJob(context.Background(), id)
		return err == nil && job.Status == crawl.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job.Data)
	v, ok := job.Data.Get("heading")
	require.True(t, ok)
	require.Equal(t, crawl.ScalarValue("Hi"), v)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)
	require.Empty(t, job.Error)

	require.Equal(t, []events.Kind{events.KindJobStarted, events.KindJobCompleted}, h.emitter.kinds())
}

func TestScheduler_RetriesTransientFailureThenSucceeds(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{
		failures: 2,
		markup:   `<html><body><h1>finally</h1></body></html>`,
	}
	h := newHarness(t, fastConfig(), renderer, allowAllFetcher{})

	id, err := h.sched.Submit(context.Background(), "https://flaky.example/", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := h.store.GetJob(context.Background(), id)
		return err == nil && job.Status == crawl.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 3, renderer.callCount())

	kinds := h.emitter.kinds()
	retries := 0
	for _, k := range kinds {
		if k == events.KindJobRetried {
			retries++
		}
	}
	require.Equal(t, 2, retries)
	require.Equal(t, events.KindJobCompleted, kinds[len(kinds)-1])

	// The record never regressed to PENDING between attempts.
	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job.StartedAt)
}

func TestScheduler_ExhaustedRetriesFailJob(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{failures: 1000}
	h := newHarness(t, fastConfig(), renderer, allowAllFetcher{})

	id, err := h.sched.Submit(context.Background(), "https://down.example/", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := h.store.GetJob(context.Background(), id)
		return err == nil && job.Status == crawl.JobStatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 3, renderer.callCount())

	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Contains(t, job.Error, "navigation failed")
	require.NotNil(t, job.FinishedAt)
}

func TestScheduler_DisallowedDomainFailsWithoutRender(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{}
	h := newHarness(t, fastConfig(), renderer, denyAllFetcher{})

	id, err := h.sched.Submit(context.Background(), "https://private.example/", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := h.store.GetJob(context.Background(), id)
		return err == nil && job.Status == crawl.JobStatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	// Politeness rejections are terminal: no render, no retries.
	require.Equal(t, 0, renderer.callCount())

	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Contains(t, job.Error, "disallowed by robots.txt")

	for _, k := range h.emitter.kinds() {
		require.NotEqual(t, events.KindJobRetried, k)
	}
}

func TestScheduler_SubmitValidation(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{}
	h := newHarness(t, fastConfig(), renderer, allowAllFetcher{})

	_, err := h.sched.Submit(context.Background(), "", nil)
	var verr *crawl.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = h.sched.Submit(context.Background(), "ftp://example.com", nil)
	require.ErrorAs(t, err, &verr)

	_, err = h.sched.Submit(context.Background(), "https://example.com", []crawl.ExtractionRule{
		{Name: "", Selector: "h1", Type: crawl.ExtractText},
	})
	require.ErrorAs(t, err, &verr)

	// Nothing reached the store or the renderer.
	jobs, err := h.store.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, jobs)
	require.Equal(t, 0, renderer.callCount())
}

func TestScheduler_FIFOAdmissionUnderSingleWorker(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.Concurrency = 1
	renderer := &fakeRenderer{markup: `<html><body><p>x</p></body></html>`}
	h := newHarness(t, cfg, renderer, allowAllFetcher{})

	urls := []string{
		"https://example.com/first",
		"https://example.com/second",
		"https://example.com/third",
	}
	ids := make([]string, 0, len(urls))
	for _, u := range urls {
		id, err := h.sched.Submit(context.Background(), u, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			job, err := h.store.GetJob(context.Background(), id)
			if err != nil || job.Status != crawl.JobStatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)

	require.Equal(t, urls, renderer.renderedURLs())
}

func TestScheduler_RateCeilingSpacesStarts(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.RateLimit = 1
	cfg.RateWindow = 150 * time.Millisecond
	renderer := &fakeRenderer{markup: `<html><body><p>x</p></body></html>`}
	h := newHarness(t, cfg, renderer, allowAllFetcher{})

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := h.sched.Submit(context.Background(), fmt.Sprintf("https://example.com/%d", i), nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			job, err := h.store.GetJob(context.Background(), id)
			if err != nil || job.Status != crawl.JobStatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)

	times := renderer.callTimes()
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		// One start per window; some slack for scheduler jitter.
		require.GreaterOrEqual(t, times[i].Sub(times[i-1]), 100*time.Millisecond)
	}
}

func TestScheduler_FallbackExtractionOnEmptyRules(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{markup: `<html><head><title>Bare</title></head><body><p>content</p></body></html>`}
	h := newHarness(t, fastConfig(), renderer, allowAllFetcher{})

	id, err := h.sched.Submit(context.Background(), "https://example.com/", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := h.store.GetJob(context.Background(), id)
		return err == nil && job.Status == crawl.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job.Data)
	title, ok := job.Data.Get("title")
	require.True(t, ok)
	require.Equal(t, crawl.ScalarValue("Bare"), title)
	_, ok = job.Data.Get("links")
	require.True(t, ok)
}
