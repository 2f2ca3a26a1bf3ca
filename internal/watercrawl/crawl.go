package watercrawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

type createCrawlBody struct {
	URL     string       `json:"url"`
	Options CrawlOptions `json:"options"`
}

// ListCrawlRequests returns one page of the caller's crawl requests.
func (c *Client) ListCrawlRequests(ctx context.Context, page, pageSize int) (Page[CrawlRequest], error) {
	var out Page[CrawlRequest]
	if err := c.doJSON(ctx, "crawl.list", http.MethodGet, "crawl-requests/", pageQuery(page, pageSize), nil, &out); err != nil {
		return Page[CrawlRequest]{}, err
	}
	return out, nil
}

// GetCrawlRequest fetches a crawl request by id.
func (c *Client) GetCrawlRequest(ctx context.Context, id string) (CrawlRequest, error) {
	var out CrawlRequest
	if err := c.doJSON(ctx, "crawl.get", http.MethodGet, "crawl-requests/"+url.PathEscape(id)+"/", nil, nil, &out); err != nil {
		return CrawlRequest{}, err
	}
	return out, nil
}

// CreateCrawlRequest starts an asynchronous crawl.
func (c *Client) CreateCrawlRequest(ctx context.Context, in CreateCrawlInput) (CrawlRequest, error) {
	if in.URL == "" {
		return CrawlRequest{}, errors.New("crawl url is required")
	}
	plugins := in.PluginOptions
	if plugins == nil {
		plugins = map[string]any{}
	}
	body := createCrawlBody{
		URL: in.URL,
		Options: CrawlOptions{
			SpiderOptions: in.SpiderOptions,
			PageOptions:   in.PageOptions,
			PluginOptions: plugins,
		},
	}
	var out CrawlRequest
	if err := c.doJSON(ctx, "crawl.create", http.MethodPost, "crawl-requests/", nil, body, &out); err != nil {
		return CrawlRequest{}, err
	}
	return out, nil
}

// StopCrawlRequest cancels a running crawl.
func (c *Client) StopCrawlRequest(ctx context.Context, id string) error {
	return c.doJSON(ctx, "crawl.stop", http.MethodDelete, "crawl-requests/"+url.PathEscape(id)+"/", nil, nil, nil)
}

// GetCrawlRequestResults returns one page of crawled documents. With download
// set, results are inlined instead of returned as links.
func (c *Client) GetCrawlRequestResults(ctx context.Context, id string, page, pageSize int, download bool) (Page[CrawlResult], error) {
	query := pageQuery(page, pageSize)
	query.Set("prefetched", strconv.FormatBool(download))
	var out Page[CrawlResult]
	path := "crawl-requests/" + url.PathEscape(id) + "/results/"
	if err := c.doJSON(ctx, "crawl.results", http.MethodGet, path, query, nil, &out); err != nil {
		return Page[CrawlResult]{}, err
	}
	if !download {
		return out, nil
	}
	for i := range out.Results {
		if !isLinkResult(out.Results[i].Result) {
			continue
		}
		var link string
		_ = decodeJSON(out.Results[i].Result, &link)
		doc, err := c.download(ctx, link)
		if err != nil {
			return Page[CrawlResult]{}, fmt.Errorf("download result %s: %w", out.Results[i].UUID, err)
		}
		out.Results[i].Result = doc
	}
	return out, nil
}

// MonitorCrawlRequest opens the crawl's status stream.
func (c *Client) MonitorCrawlRequest(ctx context.Context, id string, download bool) (EventSource, error) {
	return c.openStream(ctx, "crawl.status", "crawl-requests/"+url.PathEscape(id)+"/status/", download)
}

// ScrapeURL crawls a single page. Without sync it returns as soon as the crawl
// is accepted, with a zero CrawlResult. With sync it follows the status stream
// until the page's result arrives.
func (c *Client) ScrapeURL(ctx context.Context, pageURL string, opts PageOptions, sync, download bool) (CrawlRequest, *CrawlResult, error) {
	one := 1
	req, err := c.CreateCrawlRequest(ctx, CreateCrawlInput{
		URL: pageURL,
		SpiderOptions: SpiderOptions{
			MaxDepth:  &one,
			PageLimit: &one,
		},
		PageOptions: opts,
	})
	if err != nil {
		return CrawlRequest{}, nil, err
	}
	if !sync {
		return req, nil, nil
	}
	stream, err := c.MonitorCrawlRequest(ctx, req.UUID, download)
	if err != nil {
		return req, nil, err
	}
	defer stream.Close() //nolint:errcheck // best-effort release
	for {
		evt, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return req, nil, ErrNoResult
		}
		if err != nil {
			return req, nil, err
		}
		if evt.Type != EventResult {
			continue
		}
		var result CrawlResult
		if err := decodeJSON(evt.Data, &result); err != nil {
			return req, nil, err
		}
		return req, &result, nil
	}
}

func isLinkResult(raw []byte) bool {
	var link string
	if err := decodeJSON(raw, &link); err != nil {
		return false
	}
	return isHTTPURL(link)
}
