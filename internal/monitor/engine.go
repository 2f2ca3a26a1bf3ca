package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/watercrawl/watercrawl-mcp/internal/clock/system"
	"github.com/watercrawl/watercrawl-mcp/internal/progress"
	"github.com/watercrawl/watercrawl-mcp/internal/watercrawl"
)

// JobClient opens job status streams. *watercrawl.Client satisfies it.
type JobClient interface {
	MonitorCrawlRequest(ctx context.Context, id string, download bool) (watercrawl.EventSource, error)
	MonitorSearchRequest(ctx context.Context, id string, download bool) (watercrawl.EventSource, error)
}

// Clock supplies the time used for the budget check.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewRawID() ([16]byte, error)
}

// Engine runs monitor calls against a JobClient.
type Engine struct {
	client       JobClient
	clock        Clock
	emitter      progress.Emitter
	ids          IDGenerator
	logger       *zap.Logger
	tracer       trace.Tracer
	stopOnResult bool
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock replaces the system clock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithEmitter sends run progress to em.
func WithEmitter(em progress.Emitter) EngineOption {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithIDGenerator sets the run id source.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCrawlStopOnResult controls whether a crawl result event ends a crawl
// monitor. It is on by default; when off, crawls stop only on a terminal
// state event, as searches do.
func WithCrawlStopOnResult(stop bool) EngineOption {
	return func(e *Engine) {
		e.stopOnResult = stop
	}
}

// New returns an Engine that opens streams through client.
func New(client JobClient, opts ...EngineOption) *Engine {
	e := &Engine{
		client:       client,
		clock:        system.New(),
		emitter:      progress.NopEmitter{},
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("github.com/watercrawl/watercrawl-mcp/internal/monitor"),
		stopOnResult: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithClient returns a copy of e that opens streams through client. Servers
// use it to bind a shared engine to each session's credential.
func (e *Engine) WithClient(client JobClient) *Engine {
	cp := *e
	cp.client = client
	return &cp
}

// Monitor follows the status stream of job id until it ends, reaches a
// terminal event for its kind, or the budget in opts runs out. A timeout
// returns a report holding the events collected so far; stream failures
// return an error and no report.
//
// The budget is checked after each event, so a single slow pull can overrun
// it by up to that pull's latency. Cancelling ctx aborts the pull.
func (e *Engine) Monitor(ctx context.Context, kind JobKind, id string, opts Options) (Report, error) {
	policy, ok := policies[kind]
	if !ok {
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if opts.TimeoutSeconds <= 0 {
		return Report{}, fmt.Errorf("%w: got %d", ErrInvalidTimeout, opts.TimeoutSeconds)
	}
	if id == "" {
		return Report{}, ErrMissingJobID
	}
	if e.client == nil {
		return Report{}, errors.New("monitor engine has no client")
	}

	r := &run{
		engine: e,
		runID:  e.newRunID(),
		kind:   kind,
		jobID:  id,
		budget: time.Duration(opts.TimeoutSeconds) * time.Second,
	}
	r.logger = e.logger.With(
		zap.String("run_id", ulid.ULID(r.runID).String()),
		zap.String("kind", string(kind)),
		zap.String("job_id", id),
	)

	ctx, span := e.tracer.Start(ctx, "monitor.Monitor", trace.WithAttributes(
		attribute.String("monitor.kind", string(kind)),
		attribute.String("monitor.job_id", id),
		attribute.Int("monitor.timeout_seconds", opts.TimeoutSeconds),
		attribute.Bool("monitor.download", opts.Download),
	))
	defer span.End()

	r.start = e.clock.Now()
	r.emit(progress.StageMonitorStart, nil)
	r.logger.Debug("monitor started", zap.Bool("download", opts.Download), zap.Int("timeout_seconds", opts.TimeoutSeconds))

	src, err := policy.open(ctx, e.client, id, opts.Download)
	if err != nil {
		err = fmt.Errorf("open %s %s status stream: %w", kind, id, err)
		r.fail(span, err)
		return Report{}, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			r.logger.Debug("close status stream", zap.Error(cerr))
		}
	}()

	events := make([]watercrawl.Event, 0, 8)
	for {
		evt, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return r.done(span, completedReport(events)), nil
		}
		if err != nil {
			err = fmt.Errorf("monitor %s %s: %w", kind, id, err)
			r.fail(span, err)
			return Report{}, err
		}
		events = append(events, evt)
		r.events = len(events)
		r.emit(progress.StageMonitorEvent, &evt)

		if e.clock.Now().Sub(r.start) > r.budget {
			return r.done(span, timeoutReport(opts.TimeoutSeconds, events)), nil
		}
		if policy.terminal(evt, e.stopOnResult) {
			return r.done(span, completedReport(events)), nil
		}
	}
}

func (e *Engine) newRunID() [16]byte {
	if e.ids != nil {
		id, err := e.ids.NewRawID()
		if err == nil {
			return id
		}
		e.logger.Warn("run id generation failed", zap.Error(err))
	}
	return ulid.Make()
}

// run is the per-call bookkeeping used for progress and logs.
type run struct {
	engine *Engine
	logger *zap.Logger
	runID  [16]byte
	kind   JobKind
	jobID  string
	start  time.Time
	budget time.Duration
	events int
}

func (r *run) elapsed() time.Duration {
	d := r.engine.clock.Now().Sub(r.start)
	if d < 0 {
		return 0
	}
	return d
}

func (r *run) emit(stage progress.Stage, evt *watercrawl.Event) {
	pe := progress.Event{
		RunID:  r.runID,
		TS:     r.engine.clock.Now().UTC(),
		Stage:  stage,
		Kind:   string(r.kind),
		JobID:  r.jobID,
		Events: r.events,
		Dur:    r.elapsed(),
	}
	if evt != nil {
		pe.EventType = string(evt.Type)
		pe.JobStatus = evt.Status()
		r.logger.Debug("status event", zap.String("type", pe.EventType), zap.String("status", pe.JobStatus))
	}
	r.engine.emitter.Emit(pe)
}

func (r *run) done(span trace.Span, rep Report) Report {
	stage := progress.StageMonitorDone
	if rep.Status == StatusTimeout {
		stage = progress.StageMonitorTimeout
	}
	r.emit(stage, nil)
	span.SetAttributes(
		attribute.String("monitor.status", string(rep.Status)),
		attribute.Int("monitor.events", len(rep.Events)),
	)
	r.logger.Info("monitor finished",
		zap.String("status", string(rep.Status)),
		zap.Int("events", len(rep.Events)),
		zap.Duration("elapsed", r.elapsed()),
	)
	return rep
}

func (r *run) fail(span trace.Span, err error) {
	pe := progress.Event{
		RunID:  r.runID,
		TS:     r.engine.clock.Now().UTC(),
		Stage:  progress.StageMonitorError,
		Kind:   string(r.kind),
		JobID:  r.jobID,
		Events: r.events,
		Dur:    r.elapsed(),
		Note:   err.Error(),
	}
	r.engine.emitter.Emit(pe)
	span.RecordError(err)
	span.SetStatus(codes.Error, "monitor failed")
	r.logger.Warn("monitor failed", zap.Int("events", r.events), zap.Error(err))
}
