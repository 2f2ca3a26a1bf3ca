package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/watercrawl/watercrawl-mcp/internal/monitor"
)

// MonitorArgs are the monitor-request inputs.
type MonitorArgs struct {
	Type           string `json:"type" jsonschema:"Type of request to monitor"`
	RequestID      string `json:"requestId" jsonschema:"ID of the crawl or search request"`
	Download       *bool  `json:"download,omitempty" jsonschema:"Download result content instead of returning links"`
	TimeoutSeconds *int   `json:"timeoutSeconds,omitempty" jsonschema:"Maximum time to monitor in seconds"`
}

func registerMonitor(s *mcp.Server, h *handlers, d Deps) error {
	return addTool(s, d.Logger, &mcp.Tool{
		Name:        "monitor-request",
		Description: "Monitor a crawl or search request in real-time, with timeout control",
	}, edits(
		withEnum(monitor.Kinds(), "type"),
		withDefault(d.MonitorDefaults.Download, "download"),
		withDefault(d.MonitorDefaults.TimeoutSeconds, "timeoutSeconds"),
	), func(ctx context.Context, req *mcp.CallToolRequest, in MonitorArgs) (*mcp.CallToolResult, any, error) {
		return h.monitor(ctx, req, in, d.MonitorDefaults)
	})
}

func (h *handlers) monitor(ctx context.Context, _ *mcp.CallToolRequest, in MonitorArgs, defaults monitor.Options) (*mcp.CallToolResult, any, error) {
	kind, err := monitor.ParseJobKind(in.Type)
	if err != nil {
		return nil, nil, err
	}
	opts := defaults
	if in.Download != nil {
		opts.Download = *in.Download
	}
	if in.TimeoutSeconds != nil {
		opts.TimeoutSeconds = *in.TimeoutSeconds
	}
	report, err := h.engine.Monitor(ctx, kind, in.RequestID, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("monitor-request: %w", err)
	}
	return jsonResult(report)
}
