package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quarrylabs/quarry/internal/events"
)

// PrometheusSink exports job lifecycle metrics. It owns all collectors for
// jobs started/finished/running and retry counts.
type PrometheusSink struct {
	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobsRunning  prometheus.Gauge
	jobRuntime   *prometheus.HistogramVec
	jobRetries   prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quarry_jobs_started_total",
			Help: "Total job execution attempts started.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quarry_jobs_finished_total",
			Help: "Total jobs finished partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quarry_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quarry_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"result"}),
		jobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quarry_job_retries_total",
			Help: "Total attempt retries scheduled after transient failures.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsFinished,
		s.jobsRunning,
		s.jobRuntime,
		s.jobRetries,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register lifecycle collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	switch evt.Kind {
	case events.KindJobStarted:
		s.jobsStarted.Inc()
		s.jobsRunning.Inc()
	case events.KindJobCompleted:
		s.jobsRunning.Dec()
		s.jobsFinished.WithLabelValues("completed").Inc()
		s.jobRuntime.WithLabelValues("completed").Observe(evt.Dur.Seconds())
	case events.KindJobFailed:
		s.jobsRunning.Dec()
		s.jobsFinished.WithLabelValues("failed").Inc()
		s.jobRuntime.WithLabelValues("failed").Observe(evt.Dur.Seconds())
	case events.KindJobRetried:
		s.jobsRunning.Dec()
		s.jobRetries.Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
