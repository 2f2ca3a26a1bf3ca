package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/watercrawl/watercrawl-mcp/internal/auth"
	"github.com/watercrawl/watercrawl-mcp/internal/config"
	"github.com/watercrawl/watercrawl-mcp/internal/id/ulid"
	"github.com/watercrawl/watercrawl-mcp/internal/logging"
	"github.com/watercrawl/watercrawl-mcp/internal/monitor"
	"github.com/watercrawl/watercrawl-mcp/internal/policy/ratelimit"
	"github.com/watercrawl/watercrawl-mcp/internal/progress"
	progresssinks "github.com/watercrawl/watercrawl-mcp/internal/progress/sinks"
	"github.com/watercrawl/watercrawl-mcp/internal/telemetry"
	"github.com/watercrawl/watercrawl-mcp/internal/tools"
	"github.com/watercrawl/watercrawl-mcp/internal/watercrawl"
)

// Name is the MCP implementation name announced to clients.
const Name = "WaterCrawl MCP Server"

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	version        string
	logger         *zap.Logger
	client         *watercrawl.Client
	engine         *monitor.Engine
	verifier       *auth.Verifier
	redis          *redis.Client
	progressHub    *progress.Hub
	registerer     prometheus.Registerer
	listener       net.Listener
	tracerShutdown func(context.Context) error
}

// Option customizes Build.
type Option func(*App)

// WithLogger skips building a logger from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// WithRegisterer sets where the progress collectors are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		a.registerer = reg
	}
}

// WithListener serves HTTP on ln instead of the configured port.
func WithListener(ln net.Listener) Option {
	return func(a *App) {
		a.listener = ln
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, version string, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, version: version, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
		zap.ReplaceGlobals(logger)
	}
	app.logger.Info("building application dependencies",
		zap.String("base_url", cfg.API.BaseURL),
		zap.Bool("api_key_configured", cfg.API.APIKey != ""),
	)

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing, version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if err := app.setupClient(); err != nil {
		return nil, err
	}
	emitter, err := app.setupProgress(ctx)
	if err != nil {
		return nil, err
	}
	app.engine = monitor.New(app.client,
		monitor.WithEmitter(emitter),
		monitor.WithIDGenerator(ulid.New()),
		monitor.WithLogger(app.logger.Named("monitor")),
		monitor.WithCrawlStopOnResult(cfg.Monitor.CrawlStopOnResult),
	)
	return app, nil
}

func (a *App) setupClient() error {
	opts := []watercrawl.Option{
		watercrawl.WithLogger(a.logger.Named("watercrawl")),
		watercrawl.WithRequestTimeout(a.cfg.APITimeout()),
		watercrawl.WithRetryPolicy(watercrawl.NewExponentialRetryPolicy(
			a.cfg.API.MaxRetries,
			time.Duration(a.cfg.API.BackoffInitialMs)*time.Millisecond,
			time.Duration(a.cfg.API.BackoffMaxMs)*time.Millisecond,
		)),
	}
	if a.cfg.API.RateLimitRPS > 0 {
		opts = append(opts, watercrawl.WithLimiter(ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.API.RateLimitRPS,
			Burst: a.cfg.API.RateLimitBurst,
		})))
		a.logger.Info("upstream rate limiter enabled",
			zap.Float64("rps", a.cfg.API.RateLimitRPS),
			zap.Int("burst", a.cfg.API.RateLimitBurst),
		)
	}
	client, err := watercrawl.New(a.cfg.API.BaseURL, a.cfg.API.APIKey, opts...)
	if err != nil {
		return fmt.Errorf("watercrawl client init failed: %w", err)
	}
	a.client = client
	return nil
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}
	if a.cfg.Metrics.Enabled && a.registerer != nil {
		promSink, err := progresssinks.NewPrometheusSink(a.registerer)
		if err != nil {
			return nil, fmt.Errorf("progress metrics init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutSecs) * time.Second,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Debug("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
	)
	return a.progressHub, nil
}

func (a *App) setupVerifier(ctx context.Context) error {
	if !a.cfg.Auth.VerifyKeys {
		a.logger.Warn("api key verification disabled; keys are only required to be present")
		return nil
	}
	var cache auth.Cache = auth.NewMemoryCache()
	if a.cfg.Auth.RedisAddr != "" {
		rdb, err := auth.DialRedis(ctx, a.cfg.Auth.RedisAddr, a.cfg.Auth.RedisPassword, a.cfg.Auth.RedisDB)
		if err != nil {
			return fmt.Errorf("auth cache init failed: %w", err)
		}
		a.redis = rdb
		cache = auth.NewRedisCache(rdb)
		a.logger.Info("using redis auth cache", zap.String("addr", a.cfg.Auth.RedisAddr))
	}
	a.verifier = auth.NewVerifier(auth.ClientChecker{Client: a.client}, cache, a.cfg.CacheTTL(), a.logger.Named("auth"))
	return nil
}

// NewMCPServer returns an MCP server whose tools act with apiKey. An empty
// key falls back to the configured one.
func (a *App) NewMCPServer(apiKey string) (*mcp.Server, error) {
	client := a.client
	if apiKey != "" {
		client = a.client.WithAPIKey(apiKey)
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: Name, Version: a.version}, nil)
	err := tools.Register(srv, tools.Deps{
		API:    client,
		Engine: a.engine,
		Logger: a.logger.Named("tools"),
		MonitorDefaults: monitor.Options{
			Download:       a.cfg.Monitor.DefaultDownload,
			TimeoutSeconds: a.cfg.Monitor.DefaultTimeoutSeconds,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return srv, nil
}

// RunStdio serves one MCP session over stdin/stdout with the configured key.
func (a *App) RunStdio(ctx context.Context) error {
	if err := a.cfg.RequireAPIKey(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := a.NewMCPServer("")
	if err != nil {
		return err
	}
	a.logger.Info("stdio transport started")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio session: %w", err)
	}
	return nil
}

// Handler builds the HTTP handler for the SSE and streamable transports.
func (a *App) Handler(ctx context.Context) (http.Handler, error) {
	if err := a.setupVerifier(ctx); err != nil {
		return nil, err
	}
	opts := HTTPOptions{
		SSEPath:        a.cfg.Server.Endpoint,
		StreamablePath: a.cfg.Server.StreamablePath,
		Verifier:       a.verifier,
		Ready:          a.ready,
	}
	if a.cfg.Metrics.Enabled {
		opts.MetricsPath = a.cfg.Metrics.Path
	}
	return NewServer(a.NewMCPServer, opts, a.logger.Named("http")).Handler(), nil
}

func (a *App) ready(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("auth cache unavailable: %w", err)
	}
	return nil
}

// RunHTTP serves the HTTP transports until ctx is canceled or a signal
// arrives, then shuts down gracefully.
func (a *App) RunHTTP(ctx context.Context) error {
	if a.cfg.API.APIKey != "" {
		a.logger.Warn("WATERCRAWL_API_KEY is ignored by the HTTP transports; callers must send their own key")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, err := a.Handler(ctx)
	if err != nil {
		return err
	}
	ln := a.listener
	if ln == nil {
		ln, err = net.Listen("tcp", ":"+strconv.Itoa(a.cfg.Server.Port))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started",
			zap.String("addr", ln.Addr().String()),
			zap.String("sse_endpoint", a.cfg.Server.Endpoint),
			zap.String("streamable_path", a.cfg.Server.StreamablePath),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub close: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
