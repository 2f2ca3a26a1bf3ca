package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/watercrawl/watercrawl-mcp/internal/progress"
)

// LogSink writes each progress event as a structured log line. Stream events
// are logged at debug level; run milestones at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		switch evt.Stage {
		case progress.StageMonitorEvent:
			level = zapcore.DebugLevel
		case progress.StageMonitorError, progress.StageMonitorTimeout:
			level = zapcore.WarnLevel
		}
		ce := s.logger.Check(level, "monitor progress")
		if ce == nil {
			continue
		}
		fields := []zap.Field{
			zap.String("run_id", evt.RunULID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("kind", evt.Kind),
			zap.String("job_id", evt.JobID),
			zap.Int("events", evt.Events),
			zap.Duration("dur", evt.Dur),
		}
		if evt.EventType != "" {
			fields = append(fields, zap.String("event_type", evt.EventType))
		}
		if evt.JobStatus != "" {
			fields = append(fields, zap.String("job_status", evt.JobStatus))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		ce.Write(fields...)
	}
	return nil
}

// Close flushes buffered log entries. Sync errors on terminals are ignored.
func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync()
	return nil
}
