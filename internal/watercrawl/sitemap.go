package watercrawl

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
)

type createSitemapBody struct {
	URL     string         `json:"url"`
	Options SitemapOptions `json:"options"`
}

// CreateSitemapRequest starts sitemap discovery. With sync it follows the
// status stream until the request reaches a terminal state.
func (c *Client) CreateSitemapRequest(ctx context.Context, in CreateSitemapInput, sync bool) (SitemapRequest, error) {
	if in.URL == "" {
		return SitemapRequest{}, errors.New("sitemap url is required")
	}
	opts := in.Options
	if opts.IncludePaths == nil {
		opts.IncludePaths = []string{}
	}
	if opts.ExcludePaths == nil {
		opts.ExcludePaths = []string{}
	}
	var out SitemapRequest
	body := createSitemapBody{URL: in.URL, Options: opts}
	if err := c.doJSON(ctx, "sitemap.create", http.MethodPost, "sitemaps/", nil, body, &out); err != nil {
		return SitemapRequest{}, err
	}
	if !sync {
		return out, nil
	}
	stream, err := c.openStream(ctx, "sitemap.status", "sitemaps/"+url.PathEscape(out.UUID)+"/status/", false)
	if err != nil {
		return out, err
	}
	defer stream.Close() //nolint:errcheck // best-effort release
	for {
		evt, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if evt.Type != EventState {
			continue
		}
		var state SitemapRequest
		if err := decodeJSON(evt.Data, &state); err != nil {
			return out, err
		}
		out = state
		if IsTerminalStatus(out.Status) {
			return out, nil
		}
	}
}

// GetSitemapRequest fetches a sitemap request by id.
func (c *Client) GetSitemapRequest(ctx context.Context, id string) (SitemapRequest, error) {
	var out SitemapRequest
	if err := c.doJSON(ctx, "sitemap.get", http.MethodGet, "sitemaps/"+url.PathEscape(id)+"/", nil, nil, &out); err != nil {
		return SitemapRequest{}, err
	}
	return out, nil
}

// GetSitemapResults returns the discovered sitemap as JSON.
func (c *Client) GetSitemapResults(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doJSON(ctx, "sitemap.results", http.MethodGet, "sitemaps/"+url.PathEscape(id)+"/json/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
