package watercrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/watercrawl/watercrawl-mcp/internal/hash/sha256"
	"github.com/watercrawl/watercrawl-mcp/internal/metrics"
)

// Version is reported in the User-Agent header.
const Version = "1.0.0"

const (
	apiPrefix             = "/api/v1/core/"
	defaultRequestTimeout = 60 * time.Second
	maxErrorBody          = 64 << 10
)

// Limiter throttles outbound requests per credential.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Client talks to the WaterCrawl REST API on behalf of a single API key.
// It is safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	apiKey         string
	keyID          string
	httpClient     *http.Client
	retry          RetryPolicy
	limiter        Limiter
	logger         *zap.Logger
	tracer         trace.Tracer
	userAgent      string
	requestTimeout time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport. The client should not set Timeout,
// since status streams stay open for the life of a job; unary calls are
// bounded by WithRequestTimeout instead.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetryPolicy sets the retry policy for unary calls.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		if p != nil {
			c.retry = p
		}
	}
}

// WithLimiter gates every request through l, keyed by the API key fingerprint.
func WithLimiter(l Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequestTimeout bounds each unary call, retries included.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// New returns a Client for the API rooted at baseURL.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	metrics.Init()
	c := &Client{
		baseURL:        u,
		httpClient:     &http.Client{},
		retry:          noRetry{},
		logger:         zap.NewNop(),
		tracer:         otel.Tracer("github.com/watercrawl/watercrawl-mcp/internal/watercrawl"),
		userAgent:      "WaterCrawl-Go-MCP/" + Version,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.setKey(apiKey)
	return c, nil
}

// WithAPIKey returns a copy of c bound to a different API key. The copy
// shares the transport, limiter and retry policy.
func (c *Client) WithAPIKey(apiKey string) *Client {
	cp := *c
	cp.setKey(apiKey)
	return &cp
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) setKey(apiKey string) {
	c.apiKey = apiKey
	c.keyID = sha256.Fingerprint(apiKey)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + apiPrefix + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// doJSON performs a unary call with retries and decodes a JSON response into
// out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	target := c.endpoint(path, query)
	for attempt := 0; ; attempt++ {
		data, err := c.roundTrip(ctx, op, method, target, payload)
		if err == nil {
			if out == nil || len(data) == 0 {
				return nil
			}
			return decodeJSON(data, out)
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return err
		}
		wait := c.retry.Backoff(attempt)
		metrics.ObserveUpstreamRetry(op)
		c.logger.Debug("retrying watercrawl request",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("watercrawl %s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, op, method, target string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	resp, err := c.send(ctx, op, method, target, body, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	return data, nil
}

// send issues one request and returns the response when it is 2xx. Non-2xx
// responses are drained, closed and returned as *APIError.
func (c *Client) send(ctx context.Context, op, method, target string, body io.Reader, accept string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.keyID); err != nil {
			return nil, fmt.Errorf("watercrawl %s: %w", op, err)
		}
	}

	ctx, span := c.tracer.Start(ctx, "watercrawl."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("watercrawl.operation", op),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstreamRequest(op, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, fmt.Errorf("watercrawl %s: %w", op, err)
	}
	metrics.ObserveUpstreamRequest(op, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		apiErr := newAPIError(op, resp.StatusCode, data)
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}
	return resp, nil
}

// download fetches an absolute result URL. Result links point at object
// storage, so the API key is not forwarded.
func (c *Client) download(ctx context.Context, rawURL string) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "watercrawl.download", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstreamRequest("download", 0, time.Since(start))
		span.RecordError(err)
		return nil, fmt.Errorf("download result: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	metrics.ObserveUpstreamRequest("download", resp.StatusCode, time.Since(start))
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError("download", resp.StatusCode, truncateBytes(data, maxErrorBody))
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("download result: response is not JSON")
	}
	return json.RawMessage(data), nil
}

// resolveResult replaces a {"result": "<url>"} field with the document
// behind the URL. Payloads whose result is already inline are returned
// unchanged.
func (c *Client) resolveResult(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data, nil //nolint:nilerr // non-object payloads carry no result link
	}
	raw, ok := fields["result"]
	if !ok {
		return data, nil
	}
	var link string
	if err := json.Unmarshal(raw, &link); err != nil || !isHTTPURL(link) {
		return data, nil //nolint:nilerr // inline result
	}
	doc, err := c.download(ctx, link)
	if err != nil {
		return nil, err
	}
	fields["result"] = doc
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode downloaded result: %w", err)
	}
	return out, nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func pageQuery(page, pageSize int) url.Values {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	return url.Values{
		"page":      []string{strconv.Itoa(page)},
		"page_size": []string{strconv.Itoa(pageSize)},
	}
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
