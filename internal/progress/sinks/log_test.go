package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/watercrawl/watercrawl-mcp/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	runID := ulid.Make()
	now := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageMonitorStart, Kind: "crawl", JobID: "c1"},
		{RunID: runID, TS: now, Stage: progress.StageMonitorEvent, Kind: "crawl", JobID: "c1", EventType: "state"},
		{RunID: runID, TS: now, Stage: progress.StageMonitorTimeout, Kind: "crawl", JobID: "c1", Note: "deadline"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, runID.String(), entries[0].ContextMap()["run_id"])
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "deadline", entries[1].ContextMap()["note"])
}

func TestNewLogSinkNilLogger(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageMonitorStart}}))
}
