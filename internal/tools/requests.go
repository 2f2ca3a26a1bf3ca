package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/watercrawl/watercrawl-mcp/internal/watercrawl"
)

// ScrapeArgs are the scrape-url inputs.
type ScrapeArgs struct {
	URL         string                  `json:"url" jsonschema:"URL to scrape"`
	PageOptions *watercrawl.PageOptions `json:"pageOptions,omitempty" jsonschema:"Page scraping options"`
	Sync        *bool                   `json:"sync,omitempty" jsonschema:"Wait for the scrape to complete"`
	Download    *bool                   `json:"download,omitempty" jsonschema:"Download the result content instead of returning links"`
}

func registerScrape(s *mcp.Server, h *handlers, d Deps) error {
	return addTool(s, d.Logger, &mcp.Tool{
		Name:        "scrape-url",
		Description: "Scrape a URL with optional configuration for page options, and more",
	}, edits(
		withDefault(true, "sync"),
		withDefault(true, "download"),
	), h.scrape)
}

func (h *handlers) scrape(ctx context.Context, _ *mcp.CallToolRequest, in ScrapeArgs) (*mcp.CallToolResult, any, error) {
	if in.URL == "" {
		return nil, nil, fmt.Errorf("url is required")
	}
	var opts watercrawl.PageOptions
	if in.PageOptions != nil {
		opts = *in.PageOptions
	}
	sync := boolOr(in.Sync, true)
	req, result, err := h.api.ScrapeURL(ctx, in.URL, opts, sync, boolOr(in.Download, true))
	if err != nil {
		return nil, nil, fmt.Errorf("scrape %s: %w", in.URL, err)
	}
	if sync && result != nil {
		return jsonResult(result)
	}
	return jsonResult(req)
}

// SearchArgs are the search inputs.
type SearchArgs struct {
	Query         string                    `json:"query" jsonschema:"Search query"`
	SearchOptions *watercrawl.SearchOptions `json:"searchOptions,omitempty" jsonschema:"Search configuration options"`
	ResultLimit   *int                      `json:"resultLimit,omitempty" jsonschema:"Maximum number of results to return"`
	Sync          *bool                     `json:"sync,omitempty" jsonschema:"Wait for the search to complete"`
	Download      *bool                     `json:"download,omitempty" jsonschema:"Download the search results"`
}

func registerSearch(s *mcp.Server, h *handlers, d Deps) error {
	return addTool(s, d.Logger, &mcp.Tool{
		Name:        "search",
		Description: "Search for information using configurable options for language, country, time range, and depth",
	}, edits(
		withDefault(defaultResultLimit, "resultLimit"),
		withDefault(true, "sync"),
		withDefault(true, "download"),
		withEnum([]string{"any", "hour", "day", "week", "month", "year"}, "searchOptions", "time_range"),
		withDefault("any", "searchOptions", "time_range"),
		withEnum([]string{"web"}, "searchOptions", "search_type"),
		withDefault("web", "searchOptions", "search_type"),
		withEnum([]string{"basic", "advanced", "ultimate"}, "searchOptions", "depth"),
		withDefault("basic", "searchOptions", "depth"),
	), h.search)
}

const defaultResultLimit = 5

func (h *handlers) search(ctx context.Context, _ *mcp.CallToolRequest, in SearchArgs) (*mcp.CallToolResult, any, error) {
	if in.Query == "" {
		return nil, nil, fmt.Errorf("query is required")
	}
	create := watercrawl.CreateSearchInput{Query: in.Query, ResultLimit: defaultResultLimit}
	if in.SearchOptions != nil {
		create.Options = *in.SearchOptions
	}
	if in.ResultLimit != nil {
		if *in.ResultLimit <= 0 {
			return nil, nil, fmt.Errorf("resultLimit must be positive, got %d", *in.ResultLimit)
		}
		create.ResultLimit = *in.ResultLimit
	}
	req, err := h.api.CreateSearchRequest(ctx, create, boolOr(in.Sync, true), boolOr(in.Download, true))
	if err != nil {
		return nil, nil, fmt.Errorf("search %q: %w", in.Query, err)
	}
	return jsonResult(req)
}

// SitemapArgs are the sitemap inputs.
type SitemapArgs struct {
	URL               string  `json:"url" jsonschema:"URL to generate a sitemap for"`
	IgnoreSitemapXML  *bool   `json:"ignoreSitemapXml,omitempty" jsonschema:"Ignore sitemap.xml and discover links by crawling"`
	IncludeSubdomains *bool   `json:"includeSubdomains,omitempty" jsonschema:"Include subdomains in the sitemap"`
	SearchTerm        *string `json:"searchTerm,omitempty" jsonschema:"Only keep URLs containing this term"`
	Download          *bool   `json:"download,omitempty" jsonschema:"Return all links instead of a link to the sitemap document"`
}

func registerSitemap(s *mcp.Server, h *handlers, d Deps) error {
	return addTool(s, d.Logger, &mcp.Tool{
		Name:        "sitemap",
		Description: "Create a sitemap for a given URL, optionally ignoring sitemap.xml and including subdomains",
	}, edits(
		withDefault(false, "ignoreSitemapXml"),
		withDefault(true, "includeSubdomains"),
		withDefault(false, "download"),
	), h.sitemap)
}

func (h *handlers) sitemap(ctx context.Context, _ *mcp.CallToolRequest, in SitemapArgs) (*mcp.CallToolResult, any, error) {
	if in.URL == "" {
		return nil, nil, fmt.Errorf("url is required")
	}
	opts := watercrawl.SitemapOptions{
		IncludeSubdomains: boolOr(in.IncludeSubdomains, true),
		IgnoreSitemapXML:  boolOr(in.IgnoreSitemapXML, false),
	}
	if in.SearchTerm != nil && *in.SearchTerm != "" {
		opts.Search = in.SearchTerm
	}
	req, err := h.api.CreateSitemapRequest(ctx, watercrawl.CreateSitemapInput{URL: in.URL, Options: opts}, true)
	if err != nil {
		return nil, nil, fmt.Errorf("sitemap %s: %w", in.URL, err)
	}
	if !boolOr(in.Download, false) {
		return jsonResult(req)
	}
	links, err := h.api.GetSitemapResults(ctx, req.UUID)
	if err != nil {
		return nil, nil, fmt.Errorf("sitemap %s results: %w", req.UUID, err)
	}
	return jsonResult(links)
}

// CrawlArgs are the crawl inputs.
type CrawlArgs struct {
	URL           string                    `json:"url" jsonschema:"URL to crawl"`
	SpiderOptions *watercrawl.SpiderOptions `json:"spiderOptions,omitempty" jsonschema:"Spider limits for the crawl"`
	PageOptions   *watercrawl.PageOptions   `json:"pageOptions,omitempty" jsonschema:"Page scraping options"`
}

func registerCrawl(s *mcp.Server, h *handlers, d Deps) error {
	return addTool(s, d.Logger, &mcp.Tool{
		Name: "crawl",
		Description: "Crawl a URL and its subpages with customizable depth and spider limitations. " +
			"This is an async operation, with crawl manager you can get status and results.",
	}, nil, h.crawl)
}

func (h *handlers) crawl(ctx context.Context, _ *mcp.CallToolRequest, in CrawlArgs) (*mcp.CallToolResult, any, error) {
	if in.URL == "" {
		return nil, nil, fmt.Errorf("url is required")
	}
	create := watercrawl.CreateCrawlInput{URL: in.URL}
	if in.SpiderOptions != nil {
		create.SpiderOptions = *in.SpiderOptions
	}
	if in.PageOptions != nil {
		create.PageOptions = *in.PageOptions
	}
	req, err := h.api.CreateCrawlRequest(ctx, create)
	if err != nil {
		return nil, nil, fmt.Errorf("crawl %s: %w", in.URL, err)
	}
	return jsonResult(req)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
