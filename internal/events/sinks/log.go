// Package sinks provides event sink implementations for the lifecycle hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/events"
)

// LogSink emits structured logs for lifecycle events.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Info("job lifecycle event",
			zap.String("job_id", evt.JobID),
			zap.String("kind", string(evt.Kind)),
			zap.String("domain", evt.Domain),
			zap.Int("attempt", evt.Attempt),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
