// Package tools declares the WaterCrawl MCP tools and their handlers.
// Every handler returns its payload as a single JSON text content block;
// failures are returned as errors, which the MCP runtime reports as tool
// errors without ending the session.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/watercrawl/watercrawl-mcp/internal/metrics"
	"github.com/watercrawl/watercrawl-mcp/internal/monitor"
	"github.com/watercrawl/watercrawl-mcp/internal/watercrawl"
)

// API is the part of the WaterCrawl client the tools use.
type API interface {
	monitor.JobClient
	ScrapeURL(ctx context.Context, pageURL string, opts watercrawl.PageOptions, sync, download bool) (watercrawl.CrawlRequest, *watercrawl.CrawlResult, error)
	CreateCrawlRequest(ctx context.Context, in watercrawl.CreateCrawlInput) (watercrawl.CrawlRequest, error)
	ListCrawlRequests(ctx context.Context, page, pageSize int) (watercrawl.Page[watercrawl.CrawlRequest], error)
	GetCrawlRequest(ctx context.Context, id string) (watercrawl.CrawlRequest, error)
	GetCrawlRequestResults(ctx context.Context, id string, page, pageSize int, download bool) (watercrawl.Page[watercrawl.CrawlResult], error)
	StopCrawlRequest(ctx context.Context, id string) error
	CreateSearchRequest(ctx context.Context, in watercrawl.CreateSearchInput, sync, download bool) (watercrawl.SearchRequest, error)
	ListSearchRequests(ctx context.Context, page, pageSize int) (watercrawl.Page[watercrawl.SearchRequest], error)
	GetSearchRequest(ctx context.Context, id string, download bool) (watercrawl.SearchRequest, error)
	StopSearchRequest(ctx context.Context, id string) error
	CreateSitemapRequest(ctx context.Context, in watercrawl.CreateSitemapInput, sync bool) (watercrawl.SitemapRequest, error)
	GetSitemapResults(ctx context.Context, id string) (json.RawMessage, error)
}

// Deps are the collaborators shared by every tool of one MCP server.
type Deps struct {
	// API must already be bound to the session's credential.
	API API
	// Engine runs monitor-request; it is rebound to API. Nil builds a
	// default engine.
	Engine *monitor.Engine
	Logger *zap.Logger
	// MonitorDefaults seed the monitor-request schema defaults.
	MonitorDefaults monitor.Options
}

// Register adds every tool to server.
func Register(server *mcp.Server, d Deps) error {
	if d.API == nil {
		return fmt.Errorf("register tools: api client is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Engine == nil {
		d.Engine = monitor.New(d.API, monitor.WithLogger(d.Logger))
	} else {
		d.Engine = d.Engine.WithClient(d.API)
	}
	if d.MonitorDefaults.TimeoutSeconds <= 0 {
		d.MonitorDefaults = monitor.DefaultOptions()
	}
	metrics.Init()

	h := &handlers{api: d.API, engine: d.Engine, logger: d.Logger}
	for _, register := range []func(*mcp.Server, *handlers, Deps) error{
		registerScrape,
		registerSearch,
		registerSitemap,
		registerCrawl,
		registerManageCrawl,
		registerManageSearch,
		registerMonitor,
	} {
		if err := register(server, h, d); err != nil {
			return err
		}
	}
	return nil
}

type handlers struct {
	api    API
	engine *monitor.Engine
	logger *zap.Logger
}

// addTool derives the input schema from In, lets customize decorate it and
// registers the instrumented handler.
func addTool[In any](
	server *mcp.Server,
	logger *zap.Logger,
	tool *mcp.Tool,
	customize func(*jsonschema.Schema) error,
	handler mcp.ToolHandlerFor[In, any],
) error {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("infer %s input schema: %w", tool.Name, err)
	}
	if customize != nil {
		if err := customize(schema); err != nil {
			return fmt.Errorf("decorate %s input schema: %w", tool.Name, err)
		}
	}
	tool.InputSchema = schema
	mcp.AddTool(server, tool, instrument(tool.Name, logger, handler))
	return nil
}

func instrument[In any](name string, logger *zap.Logger, next mcp.ToolHandlerFor[In, any]) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		res, out, err := next(ctx, req, in)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			logger.Info("tool call failed", zap.String("tool", name), zap.Error(err))
		} else {
			logger.Debug("tool call", zap.String("tool", name), zap.Duration("dur", time.Since(start)))
		}
		metrics.ObserveToolCall(name, outcome, time.Since(start))
		return res, out, err
	}
}

// jsonResult renders v as the tool's text content.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

type statusMessage struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
