package watercrawl

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

type createSearchBody struct {
	Query         string        `json:"query"`
	SearchOptions SearchOptions `json:"search_options"`
	ResultLimit   int           `json:"result_limit"`
}

// ListSearchRequests returns one page of the caller's search requests.
func (c *Client) ListSearchRequests(ctx context.Context, page, pageSize int) (Page[SearchRequest], error) {
	var out Page[SearchRequest]
	if err := c.doJSON(ctx, "search.list", http.MethodGet, "search/", pageQuery(page, pageSize), nil, &out); err != nil {
		return Page[SearchRequest]{}, err
	}
	return out, nil
}

// GetSearchRequest fetches a search request by id, optionally with its
// results inlined.
func (c *Client) GetSearchRequest(ctx context.Context, id string, download bool) (SearchRequest, error) {
	query := url.Values{"prefetched": []string{strconv.FormatBool(download)}}
	var raw json.RawMessage
	if err := c.doJSON(ctx, "search.get", http.MethodGet, "search/"+url.PathEscape(id)+"/", query, nil, &raw); err != nil {
		return SearchRequest{}, err
	}
	if download {
		resolved, err := c.resolveResult(ctx, raw)
		if err != nil {
			return SearchRequest{}, err
		}
		raw = resolved
	}
	var out SearchRequest
	if err := decodeJSON(raw, &out); err != nil {
		return SearchRequest{}, err
	}
	return out, nil
}

// CreateSearchRequest starts a search. With sync it follows the status stream
// and returns the last state reported before the stream closed.
func (c *Client) CreateSearchRequest(ctx context.Context, in CreateSearchInput, sync, download bool) (SearchRequest, error) {
	if in.Query == "" {
		return SearchRequest{}, errors.New("search query is required")
	}
	if in.ResultLimit <= 0 {
		in.ResultLimit = 5
	}
	body := createSearchBody{
		Query:         in.Query,
		SearchOptions: in.Options,
		ResultLimit:   in.ResultLimit,
	}
	var out SearchRequest
	if err := c.doJSON(ctx, "search.create", http.MethodPost, "search/", nil, body, &out); err != nil {
		return SearchRequest{}, err
	}
	if !sync {
		return out, nil
	}
	stream, err := c.MonitorSearchRequest(ctx, out.UUID, download)
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
		var state SearchRequest
		if err := decodeJSON(evt.Data, &state); err != nil {
			return out, err
		}
		out = state
		if IsTerminalStatus(out.Status) {
			return out, nil
		}
	}
}

// StopSearchRequest cancels a running search.
func (c *Client) StopSearchRequest(ctx context.Context, id string) error {
	return c.doJSON(ctx, "search.stop", http.MethodDelete, "search/"+url.PathEscape(id)+"/", nil, nil, nil)
}

// MonitorSearchRequest opens the search's status stream.
func (c *Client) MonitorSearchRequest(ctx context.Context, id string, download bool) (EventSource, error) {
	return c.openStream(ctx, "search.status", "search/"+url.PathEscape(id)+"/status/", download)
}
