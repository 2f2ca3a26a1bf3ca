package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
)

// ManageCrawlArgs are the manage-crawl inputs.
type ManageCrawlArgs struct {
	Action         string `json:"action" jsonschema:"Action to perform on crawl requests"`
	CrawlRequestID string `json:"crawlRequestId,omitempty" jsonschema:"Crawl request ID, required for get, get_results and stop"`
	Page           *int   `json:"page,omitempty" jsonschema:"Page number for listing"`
	PageSize       *int   `json:"pageSize,omitempty" jsonschema:"Number of items per page"`
	Download       *bool  `json:"download,omitempty" jsonschema:"Download result content instead of returning links"`
}

func registerManageCrawl(s *mcp.Server, h *handlers, d Deps) error {
	return addTool(s, d.Logger, &mcp.Tool{
		Name:        "manage-crawl",
		Description: "Manage crawl requests: list, get details, stop, or download results",
	}, edits(
		withEnum([]string{"list", "get", "get_results", "stop"}, "action"),
		withDefault(defaultPage, "page"),
		withDefault(defaultPageSize, "pageSize"),
		withDefault(true, "download"),
	), h.manageCrawl)
}

func (h *handlers) manageCrawl(ctx context.Context, _ *mcp.CallToolRequest, in ManageCrawlArgs) (*mcp.CallToolResult, any, error) {
	page, size, err := paging(in.Page, in.PageSize)
	if err != nil {
		return nil, nil, err
	}
	switch in.Action {
	case "list":
		out, err := h.api.ListCrawlRequests(ctx, page, size)
		if err != nil {
			return nil, nil, fmt.Errorf("list crawl requests: %w", err)
		}
		return jsonResult(out)
	case "get":
		if in.CrawlRequestID == "" {
			return nil, nil, requiredFor("crawlRequestId", in.Action)
		}
		out, err := h.api.GetCrawlRequest(ctx, in.CrawlRequestID)
		if err != nil {
			return nil, nil, fmt.Errorf("get crawl request %s: %w", in.CrawlRequestID, err)
		}
		return jsonResult(out)
	case "get_results":
		if in.CrawlRequestID == "" {
			return nil, nil, requiredFor("crawlRequestId", in.Action)
		}
		out, err := h.api.GetCrawlRequestResults(ctx, in.CrawlRequestID, page, size, boolOr(in.Download, true))
		if err != nil {
			return nil, nil, fmt.Errorf("get crawl request %s results: %w", in.CrawlRequestID, err)
		}
		return jsonResult(out)
	case "stop":
		if in.CrawlRequestID == "" {
			return nil, nil, requiredFor("crawlRequestId", in.Action)
		}
		if err := h.api.StopCrawlRequest(ctx, in.CrawlRequestID); err != nil {
			return nil, nil, fmt.Errorf("stop crawl request %s: %w", in.CrawlRequestID, err)
		}
		return jsonResult(statusMessage{Success: true, Message: "Crawl request stopped successfully"})
	default:
		return nil, nil, fmt.Errorf("Unknown action: %s", in.Action) //nolint:staticcheck // user-facing message
	}
}

// ManageSearchArgs are the manage-search inputs.
type ManageSearchArgs struct {
	Action          string `json:"action" jsonschema:"Action to perform on search requests"`
	SearchRequestID string `json:"searchRequestId,omitempty" jsonschema:"Search request ID, required for get and stop"`
	Page            *int   `json:"page,omitempty" jsonschema:"Page number for listing"`
	PageSize        *int   `json:"pageSize,omitempty" jsonschema:"Number of items per page"`
	Download        *bool  `json:"download,omitempty" jsonschema:"Download result content instead of returning links"`
}

func registerManageSearch(s *mcp.Server, h *handlers, d Deps) error {
	return addTool(s, d.Logger, &mcp.Tool{
		Name:        "manage-search",
		Description: "Manage search requests: list, get details, or stop running searches",
	}, edits(
		withEnum([]string{"list", "get", "stop"}, "action"),
		withDefault(defaultPage, "page"),
		withDefault(defaultPageSize, "pageSize"),
		withDefault(true, "download"),
	), h.manageSearch)
}

func (h *handlers) manageSearch(ctx context.Context, _ *mcp.CallToolRequest, in ManageSearchArgs) (*mcp.CallToolResult, any, error) {
	page, size, err := paging(in.Page, in.PageSize)
	if err != nil {
		return nil, nil, err
	}
	switch in.Action {
	case "list":
		out, err := h.api.ListSearchRequests(ctx, page, size)
		if err != nil {
			return nil, nil, fmt.Errorf("list search requests: %w", err)
		}
		return jsonResult(out)
	case "get":
		if in.SearchRequestID == "" {
			return nil, nil, requiredFor("searchRequestId", in.Action)
		}
		out, err := h.api.GetSearchRequest(ctx, in.SearchRequestID, boolOr(in.Download, true))
		if err != nil {
			return nil, nil, fmt.Errorf("get search request %s: %w", in.SearchRequestID, err)
		}
		return jsonResult(out)
	case "stop":
		if in.SearchRequestID == "" {
			return nil, nil, requiredFor("searchRequestId", in.Action)
		}
		if err := h.api.StopSearchRequest(ctx, in.SearchRequestID); err != nil {
			return nil, nil, fmt.Errorf("stop search request %s: %w", in.SearchRequestID, err)
		}
		return jsonResult(statusMessage{Success: true, Message: "Search request stopped successfully"})
	default:
		return nil, nil, fmt.Errorf("Unknown action: %s", in.Action) //nolint:staticcheck // user-facing message
	}
}

func requiredFor(field, action string) error {
	return fmt.Errorf("%s is required for '%s' action", field, action)
}

func paging(page, size *int) (int, int, error) {
	p, s := defaultPage, defaultPageSize
	if page != nil {
		p = *page
	}
	if size != nil {
		s = *size
	}
	if p < 1 {
		return 0, 0, fmt.Errorf("page must be at least 1, got %d", p)
	}
	if s < 1 {
		return 0, 0, fmt.Errorf("pageSize must be at least 1, got %d", s)
	}
	return p, s, nil
}
