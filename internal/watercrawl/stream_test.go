package watercrawl

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sseBody(frames ...string) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	return b.String()
}

func drain(t *testing.T, src EventSource) []Event {
	t.Helper()
	var out []Event
	for {
		evt, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, evt)
	}
}

func TestSSEStreamDecodesFramesInOrder(t *testing.T) {
	t.Parallel()

	body := ": keep-alive\n\n" + sseBody(
		`data: {"type":"state","data":{"uuid":"c1","status":"running"}}`,
		"event: message\nid: 7\n"+`data: {"type":"result","data":{"uuid":"r1","result":{"markdown":"hi"}}}`,
		`data: {"type":"state","data":{"uuid":"c1","status":"finished"}}`,
	)
	stream := newSSEStream("test", io.NopCloser(strings.NewReader(body)))

	events := drain(t, stream)
	require.Len(t, events, 3)
	require.Equal(t, EventState, events[0].Type)
	require.Equal(t, StatusRunning, events[0].Status())
	require.Equal(t, EventResult, events[1].Type)
	require.JSONEq(t, `{"uuid":"r1","result":{"markdown":"hi"}}`, string(events[1].Data))
	require.Equal(t, StatusFinished, events[2].Status())

	_, err := stream.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestSSEStreamFinalFrameWithoutBlankLine(t *testing.T) {
	t.Parallel()

	body := `data: {"type":"state","data":{"status":"finished"}}`
	stream := newSSEStream("test", io.NopCloser(strings.NewReader(body)))

	events := drain(t, stream)
	require.Len(t, events, 1)
	require.Equal(t, StatusFinished, events[0].Status())
}

func TestSSEStreamHandlesCRLFAndMultilineData(t *testing.T) {
	t.Parallel()

	body := "data: {\"type\":\"state\",\r\ndata: \"data\":{\"status\":\"running\"}}\r\n\r\n"
	stream := newSSEStream("test", io.NopCloser(strings.NewReader(body)))

	events := drain(t, stream)
	require.Len(t, events, 1)
	require.Equal(t, StatusRunning, events[0].Status())
}

func TestSSEStreamRejectsMalformedEvent(t *testing.T) {
	t.Parallel()

	stream := newSSEStream("test", io.NopCloser(strings.NewReader(sseBody("data: {not json"))))
	_, err := stream.Next(context.Background())
	require.ErrorContains(t, err, "decode event")
}

func TestSSEStreamHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	stream := newSSEStream("test", io.NopCloser(strings.NewReader(sseBody(`data: {"type":"state","data":{}}`))))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := stream.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSSEStreamCloseEndsIteration(t *testing.T) {
	t.Parallel()

	stream := newSSEStream("test", io.NopCloser(strings.NewReader(sseBody(`data: {"type":"state","data":{}}`))))
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	_, err := stream.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestMonitorCrawlRequestDownloadsResultLinks(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/core/crawl-requests/c1/status/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.URL.Query().Get("prefetched"))
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseBody(
			`data: {"type":"state","data":{"uuid":"c1","status":"running"}}`,
			`data: {"type":"result","data":{"uuid":"r1","result":"`+srvURL+`/files/r1.json"}}`,
		))
	})
	mux.HandleFunc("/files/r1.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"markdown":"# Title"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	c, err := New(srv.URL, "k")
	require.NoError(t, err)
	stream, err := c.MonitorCrawlRequest(context.Background(), "c1", true)
	require.NoError(t, err)
	defer stream.Close() //nolint:errcheck // test cleanup

	events := drain(t, stream)
	require.Len(t, events, 2)
	require.JSONEq(t, `{"uuid":"r1","result":{"markdown":"# Title"}}`, string(events[1].Data))
}

func TestMonitorSearchRequestWithoutDownloadKeepsLinks(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/core/search/s1/status/", r.URL.Path)
		require.Equal(t, "false", r.URL.Query().Get("prefetched"))
		_, _ = io.WriteString(w, sseBody(`data: {"type":"result","data":{"result":"https://files.example/s1.json"}}`))
	}))

	stream, err := c.MonitorSearchRequest(context.Background(), "s1", false)
	require.NoError(t, err)
	events := drain(t, stream)
	require.Len(t, events, 1)
	require.JSONEq(t, `{"result":"https://files.example/s1.json"}`, string(events[0].Data))
}

func TestMonitorOpenFailureIsAPIError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.MonitorCrawlRequest(context.Background(), "nope", true)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestScrapeURLWaitsForResult(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/core/crawl-requests/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		_, _ = io.WriteString(w, `{"uuid":"c9","url":"https://example.com","status":"new"}`)
	})
	mux.HandleFunc("/api/v1/core/crawl-requests/c9/status/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, sseBody(
			`data: {"type":"state","data":{"status":"running"}}`,
			`data: {"type":"result","data":{"uuid":"r9","url":"https://example.com","result":{"markdown":"page"}}}`,
		))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "k")
	require.NoError(t, err)
	req, result, err := c.ScrapeURL(context.Background(), "https://example.com", PageOptions{}, true, true)
	require.NoError(t, err)
	require.Equal(t, "c9", req.UUID)
	require.NotNil(t, result)
	require.Equal(t, "r9", result.UUID)

	_, result, err = c.ScrapeURL(context.Background(), "https://example.com", PageOptions{}, false, true)
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestCreateSearchRequestSyncReturnsLastState(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/core/search/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"uuid":"s1","query":"go","status":"new","result_limit":5}`)
	})
	mux.HandleFunc("/api/v1/core/search/s1/status/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, sseBody(
			`data: {"type":"state","data":{"uuid":"s1","status":"running"}}`,
			`data: {"type":"state","data":{"uuid":"s1","status":"finished","result":[{"url":"https://go.dev"}]}}`,
		))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "k")
	require.NoError(t, err)
	got, err := c.CreateSearchRequest(context.Background(), CreateSearchInput{Query: "go"}, true, true)
	require.NoError(t, err)
	require.Equal(t, StatusFinished, got.Status)
	require.JSONEq(t, `[{"url":"https://go.dev"}]`, string(got.Result))
}

func TestCreateSitemapRequestSync(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/core/sitemaps/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), `"include_paths":[]`)
		_, _ = io.WriteString(w, `{"uuid":"m1","url":"https://example.com","status":"new"}`)
	})
	mux.HandleFunc("/api/v1/core/sitemaps/m1/status/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, sseBody(`data: {"type":"state","data":{"uuid":"m1","status":"finished","result":"https://files.example/m1.json"}}`))
	})
	mux.HandleFunc("/api/v1/core/sitemaps/m1/json/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `["https://example.com/","https://example.com/about"]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "k")
	require.NoError(t, err)
	req, err := c.CreateSitemapRequest(context.Background(), CreateSitemapInput{URL: "https://example.com"}, true)
	require.NoError(t, err)
	require.Equal(t, StatusFinished, req.Status)

	links, err := c.GetSitemapResults(context.Background(), req.UUID)
	require.NoError(t, err)
	require.JSONEq(t, `["https://example.com/","https://example.com/about"]`, string(links))
}

func TestSliceSource(t *testing.T) {
	t.Parallel()

	src := NewSliceSource(Event{Type: EventState}, Event{Type: EventResult})
	events := drain(t, src)
	require.Len(t, events, 2)
	require.NoError(t, src.Close())
	require.True(t, src.Closed())
}
