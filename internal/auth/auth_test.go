package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watercrawl/watercrawl-mcp/internal/watercrawl"
)

func TestKeyFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{name: "bearer header", target: "/sse", header: "Bearer abc", want: "abc"},
		{name: "query param", target: "/sse?apikey=xyz", want: "xyz"},
		{name: "header wins", target: "/sse?apikey=xyz", header: "Bearer abc", want: "abc"},
		{name: "non bearer header", target: "/sse?apikey=xyz", header: "Basic abc", want: ""},
		{name: "nothing", target: "/sse", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			require.Equal(t, tc.want, KeyFromRequest(r))
		})
	}
}

func TestKeyContext(t *testing.T) {
	t.Parallel()

	_, ok := KeyFromContext(context.Background())
	require.False(t, ok)
	key, ok := KeyFromContext(WithKey(context.Background(), "k"))
	require.True(t, ok)
	require.Equal(t, "k", key)
}

func TestMemoryCacheExpires(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	ok, err := c.Has(context.Background(), "fp")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Add(context.Background(), "fp", time.Minute))
	ok, _ = c.Has(context.Background(), "fp")
	require.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = c.Has(context.Background(), "fp")
	require.False(t, ok)
}

type countingChecker struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (c *countingChecker) CheckKey(context.Context, string) error {
	c.calls.Add(1)
	if c.release != nil {
		<-c.release
	}
	return c.err
}

func TestVerifierCachesValidKeys(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{}
	v := NewVerifier(checker, NewMemoryCache(), time.Minute, nil)

	require.NoError(t, v.Verify(context.Background(), "good"))
	require.NoError(t, v.Verify(context.Background(), "good"))
	require.EqualValues(t, 1, checker.calls.Load())
}

func TestVerifierDoesNotCacheRejections(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{err: ErrInvalidKey}
	v := NewVerifier(checker, NewMemoryCache(), time.Minute, nil)

	require.ErrorIs(t, v.Verify(context.Background(), "bad"), ErrInvalidKey)
	require.ErrorIs(t, v.Verify(context.Background(), "bad"), ErrInvalidKey)
	require.EqualValues(t, 2, checker.calls.Load())
	require.ErrorIs(t, v.Verify(context.Background(), ""), ErrMissingKey)
}

func TestVerifierCollapsesConcurrentChecks(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{release: make(chan struct{})}
	v := NewVerifier(checker, nil, 0, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- v.Verify(context.Background(), "same")
		}()
	}
	require.Eventually(t, func() bool { return checker.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(checker.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.LessOrEqual(t, checker.calls.Load(), int32(5))
	require.GreaterOrEqual(t, checker.calls.Load(), int32(1))
}

type failingCache struct{}

func (failingCache) Has(context.Context, string) (bool, error) {
	return false, errors.New("cache down")
}

func (failingCache) Add(context.Context, string, time.Duration) error {
	return errors.New("cache down")
}

func TestVerifierSurvivesCacheErrors(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{}
	v := NewVerifier(checker, failingCache{}, time.Minute, nil)
	require.NoError(t, v.Verify(context.Background(), "good"))
	require.EqualValues(t, 1, checker.calls.Load())
}

func TestClientChecker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/core/crawl-requests/", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("page_size"))
		switch r.Header.Get("X-API-Key") {
		case "good":
			_, _ = io.WriteString(w, `{"count":0,"results":[]}`)
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := watercrawl.New(srv.URL, "")
	require.NoError(t, err)
	checker := ClientChecker{Client: client}

	require.NoError(t, checker.CheckKey(context.Background(), "good"))
	require.ErrorIs(t, checker.CheckKey(context.Background(), "bad"), ErrInvalidKey)
	err = checker.CheckKey(context.Background(), "broken")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidKey)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{}
	verifier := NewVerifier(checkerFunc(func(_ context.Context, key string) error {
		checker.calls.Add(1)
		if key != "good" {
			return ErrInvalidKey
		}
		return nil
	}), NewMemoryCache(), time.Minute, nil)

	var seen string
	handler := Middleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = KeyFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		target  string
		code    int
		message string
	}{
		{name: "missing", target: "/sse", code: http.StatusUnauthorized, message: MissingKeyMessage},
		{name: "invalid", target: "/sse?apikey=bad", code: http.StatusUnauthorized, message: InvalidKeyMessage},
		{name: "valid", target: "/sse?apikey=good", code: http.StatusNoContent},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
		require.Equal(t, tc.code, rec.Code, tc.name)
		if tc.message != "" {
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.message, body["error"])
		}
	}
	require.Equal(t, "good", seen)
}

func TestMiddlewareWithoutVerifier(t *testing.T) {
	t.Parallel()

	handler := Middleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Authorization", "Bearer anything")
	handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDialRedisUnreachable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := DialRedis(ctx, "127.0.0.1:1", "", 0)
	require.ErrorContains(t, err, "connect redis")
}

type checkerFunc func(context.Context, string) error

func (f checkerFunc) CheckKey(ctx context.Context, key string) error {
	return f(ctx, key)
}
