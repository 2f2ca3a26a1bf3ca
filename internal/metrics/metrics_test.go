package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := toolCallsTotal
	Init()

	if first == nil || toolCallsTotal != first {
		t.Fatal("Init() should initialize collectors exactly once")
	}
	if upstreamRequestsTotal == nil || authVerificationsTotal == nil || mcpSessionsActive == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveToolCall(t *testing.T) {
	Init()
	before := testutil.ToFloat64(toolCallsTotal.WithLabelValues("monitor-request", "ok"))

	ObserveToolCall("monitor-request", "ok", 250*time.Millisecond)

	if got := testutil.ToFloat64(toolCallsTotal.WithLabelValues("monitor-request", "ok")); got != before+1 {
		t.Errorf("expected tool counter %f, got %f", before+1, got)
	}
}

func TestObserveUpstreamRequestLabelsTransportErrors(t *testing.T) {
	Init()
	before := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("crawl.get", "error"))
	beforeOK := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("crawl.get", "200"))

	ObserveUpstreamRequest("crawl.get", 0, time.Millisecond)
	ObserveUpstreamRequest("crawl.get", 200, time.Millisecond)

	if got := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("crawl.get", "error")); got != before+1 {
		t.Errorf("expected error counter %f, got %f", before+1, got)
	}
	if got := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("crawl.get", "200")); got != beforeOK+1 {
		t.Errorf("expected 200 counter %f, got %f", beforeOK+1, got)
	}
}

func TestSessionsGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(mcpSessionsActive)

	IncSessions()
	IncSessions()
	DecSessions()

	if got := testutil.ToFloat64(mcpSessionsActive); got != before+1 {
		t.Errorf("expected sessions gauge %f, got %f", before+1, got)
	}
}
