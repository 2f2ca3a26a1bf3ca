package watercrawl

import (
	"encoding/json"
	"fmt"
)

// Job statuses reported by the API. Requests move from new through running
// and end in one of finished, failed or cancelled.
const (
	StatusNew        = "new"
	StatusRunning    = "running"
	StatusCancelling = "cancelling"
	StatusFinished   = "finished"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// IsTerminalStatus reports whether a job in status s will emit no further
// state changes.
func IsTerminalStatus(s string) bool {
	switch s {
	case StatusFinished, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// EventType discriminates the payload carried by an Event.
type EventType string

// Event types emitted on a status stream.
const (
	EventState  EventType = "state"
	EventResult EventType = "result"
)

// Event is one record from a job status stream. Data is the upstream payload
// passed through verbatim: the job snapshot for state events, a crawl result
// for result events.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Status returns the job status carried by a state event, or "" when the
// event is not a state event or has no status.
func (e Event) Status() string {
	if e.Type != EventState || len(e.Data) == 0 {
		return ""
	}
	var snap struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(e.Data, &snap); err != nil {
		return ""
	}
	return snap.Status
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// SpiderOptions bounds how far a crawl spreads from its seed URL.
type SpiderOptions struct {
	MaxDepth       *int     `json:"max_depth,omitempty" jsonschema:"Maximum depth to crawl"`
	PageLimit      *int     `json:"page_limit,omitempty" jsonschema:"Maximum number of pages to crawl"`
	AllowedDomains []string `json:"allowed_domains,omitempty" jsonschema:"Allowed domains to crawl, for example [\"*.example.com\"]"`
	ExcludePaths   []string `json:"exclude_paths,omitempty" jsonschema:"Paths to exclude from crawling, for example [\"/path/*\"]"`
	IncludePaths   []string `json:"include_paths,omitempty" jsonschema:"Paths to include in crawling, for example [\"/path/*\"]"`
}

// Action is a post-load page action.
type Action struct {
	Type string `json:"type" jsonschema:"Action type: pdf or screenshot"`
}

// PageOptions controls how each page is rendered and extracted.
type PageOptions struct {
	ExcludeTags           []string          `json:"exclude_tags,omitempty" jsonschema:"HTML tags to exclude"`
	IncludeTags           []string          `json:"include_tags,omitempty" jsonschema:"HTML tags to include"`
	WaitTime              *int              `json:"wait_time,omitempty" jsonschema:"Time to wait for page loading in ms"`
	OnlyMainContent       *bool             `json:"only_main_content,omitempty" jsonschema:"Extract only main content"`
	IncludeHTML           *bool             `json:"include_html,omitempty" jsonschema:"Include HTML in response"`
	IncludeLinks          *bool             `json:"include_links,omitempty" jsonschema:"Include links in response"`
	Timeout               *int              `json:"timeout,omitempty" jsonschema:"Page load timeout in ms"`
	AcceptCookiesSelector *string           `json:"accept_cookies_selector,omitempty" jsonschema:"CSS selector for accept cookies button"`
	Locale                *string           `json:"locale,omitempty" jsonschema:"Locale for the page"`
	ExtraHeaders          map[string]string `json:"extra_headers,omitempty" jsonschema:"Additional HTTP headers"`
	Actions               []Action          `json:"actions,omitempty" jsonschema:"Actions to perform on the page"`
}

// CrawlOptions groups the option blocks of a crawl request.
type CrawlOptions struct {
	SpiderOptions SpiderOptions  `json:"spider_options"`
	PageOptions   PageOptions    `json:"page_options"`
	PluginOptions map[string]any `json:"plugin_options"`
}

// CrawlRequest is the server-side record of a crawl job.
type CrawlRequest struct {
	UUID              string          `json:"uuid"`
	URL               string          `json:"url"`
	Status            string          `json:"status"`
	Options           CrawlOptions    `json:"options"`
	CreatedAt         string          `json:"created_at,omitempty"`
	UpdatedAt         string          `json:"updated_at,omitempty"`
	Duration          *string         `json:"duration,omitempty"`
	NumberOfDocuments int             `json:"number_of_documents"`
	Sitemap           json.RawMessage `json:"sitemap,omitempty"`
}

// CreateCrawlInput describes a new crawl.
type CreateCrawlInput struct {
	URL           string
	SpiderOptions SpiderOptions
	PageOptions   PageOptions
	PluginOptions map[string]any
}

// CrawlResult is one crawled page. Result is either the extracted document or,
// when not prefetched, a URL from which it can be downloaded.
type CrawlResult struct {
	UUID        string          `json:"uuid"`
	Title       string          `json:"title"`
	URL         string          `json:"url"`
	Result      json.RawMessage `json:"result"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
}

// SearchOptions tunes a search request.
type SearchOptions struct {
	Language   *string `json:"language,omitempty" jsonschema:"Language code, for example en or fr"`
	Country    *string `json:"country,omitempty" jsonschema:"Country code, for example us or fr"`
	TimeRange  string  `json:"time_range,omitempty" jsonschema:"Time range for search results"`
	SearchType string  `json:"search_type,omitempty" jsonschema:"Type of search"`
	Depth      string  `json:"depth,omitempty" jsonschema:"Search depth level"`
}

// SearchRequest is the server-side record of a search job.
type SearchRequest struct {
	UUID          string          `json:"uuid"`
	Query         string          `json:"query"`
	SearchOptions SearchOptions   `json:"search_options"`
	ResultLimit   int             `json:"result_limit"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at,omitempty"`
	Duration      *string         `json:"duration,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// CreateSearchInput describes a new search.
type CreateSearchInput struct {
	Query       string
	Options     SearchOptions
	ResultLimit int
}

// SitemapOptions tunes sitemap discovery.
type SitemapOptions struct {
	IncludeSubdomains bool     `json:"include_subdomains"`
	IgnoreSitemapXML  bool     `json:"ignore_sitemap_xml"`
	Search            *string  `json:"search"`
	IncludePaths      []string `json:"include_paths"`
	ExcludePaths      []string `json:"exclude_paths"`
}

// SitemapRequest is the server-side record of a sitemap job. Once finished,
// Result holds a URL to the full sitemap document.
type SitemapRequest struct {
	UUID      string          `json:"uuid"`
	URL       string          `json:"url"`
	Status    string          `json:"status"`
	Options   SitemapOptions  `json:"options"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
	Duration  *string         `json:"duration,omitempty"`
}

// CreateSitemapInput describes a new sitemap request.
type CreateSitemapInput struct {
	URL     string
	Options SitemapOptions
}

func decodeJSON(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
