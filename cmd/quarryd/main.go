// Package main wires together the quarry crawl service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/api"
	"github.com/quarrylabs/quarry/internal/clock/system"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/crawl"
	"github.com/quarrylabs/quarry/internal/events"
	"github.com/quarrylabs/quarry/internal/events/sinks"
	"github.com/quarrylabs/quarry/internal/extract"
	"github.com/quarrylabs/quarry/internal/id/uuid"
	"github.com/quarrylabs/quarry/internal/logging"
	"github.com/quarrylabs/quarry/internal/politeness"
	queueMemory "github.com/quarrylabs/quarry/internal/queue/memory"
	queueRedis "github.com/quarrylabs/quarry/internal/queue/redis"
	"github.com/quarrylabs/quarry/internal/render"
	"github.com/quarrylabs/quarry/internal/scheduler"
	"github.com/quarrylabs/quarry/internal/state"
	storeMemory "github.com/quarrylabs/quarry/internal/store/memory"
	storePostgres "github.com/quarrylabs/quarry/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		jobStore    crawl.JobStore
		domainStore crawl.DomainStore
	)
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := storePostgres.NewStore(ctx, storePostgres.Config{DSN: cfg.Store.DSN})
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("migrate schema failed", zap.Error(err))
		}
		defer pg.Close()
		jobStore, domainStore = pg, pg
	default:
		mem := storeMemory.NewStore()
		jobStore, domainStore = mem, mem
	}

	var queue crawl.Queue
	switch cfg.Queue.Driver {
	case "redis":
		rq := queueRedis.NewQueue(cfg.Queue.RedisAddr, cfg.Queue.RedisKey)
		defer func() {
			if err := rq.Close(); err != nil {
				logger.Warn("redis queue close failed", zap.Error(err))
			}
		}()
		queue = rq
	default:
		mq := queueMemory.NewQueue(cfg.Scheduler.QueueDepth)
		defer mq.Close()
		queue = mq
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("metrics sink init failed", zap.Error(err))
	}
	hub := events.NewHub(
		events.Config{Logger: logger.Named("events")},
		sinks.NewLogSink(logger.Named("lifecycle")),
		promSink,
	)

	renderer, err := render.NewChromedpRenderer(render.Config{
		MaxParallel: cfg.Render.MaxParallel,
		NavTimeout:  cfg.Render.NavTimeout(),
		SettleDelay: cfg.Render.SettleDelay(),
		UserAgent:   cfg.Politeness.UserAgent,
	}, logger.Named("render"))
	if err != nil {
		logger.Fatal("renderer init failed", zap.Error(err))
	}
	defer renderer.Close()

	clock := system.New()
	idGen := uuid.New()
	machine := state.NewMachine(jobStore, clock)
	fetcher := politeness.NewHTTPFetcher(
		cfg.Politeness.RobotsTimeout(),
		cfg.Politeness.UserAgent,
		logger.Named("robots"),
	)
	controller := politeness.NewController(domainStore, fetcher, politeness.Config{
		UserAgent:  cfg.Politeness.UserAgent,
		CrawlDelay: cfg.Politeness.DefaultCrawlDelay(),
	}, logger.Named("politeness"))
	engine := extract.NewEngine(logger.Named("extract"))

	sched := scheduler.New(
		queue,
		machine,
		controller,
		renderer,
		engine,
		hub,
		idGen,
		clock,
		scheduler.Config{
			Concurrency: cfg.Scheduler.Concurrency,
			RateLimit:   cfg.Scheduler.RateLimit,
			RateWindow:  cfg.Scheduler.RateWindow(),
			Backoff: scheduler.BackoffPolicy{
				MaxAttempts: cfg.Scheduler.MaxAttempts,
				BaseDelay:   cfg.Scheduler.BackoffBase(),
				MaxDelay:    cfg.Scheduler.BackoffMax(),
			},
		},
		logger.Named("scheduler"),
	)

	apiServer := api.NewServer(jobStore, sched, registry, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("scheduler started",
			zap.Int("concurrency", cfg.Scheduler.Concurrency),
			zap.Int("rate_limit", cfg.Scheduler.RateLimit),
		)
		sched.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("event hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
