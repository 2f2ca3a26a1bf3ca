// Package auth resolves and verifies the WaterCrawl API key that HTTP
// callers present to the MCP server.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Messages returned to HTTP callers that fail authentication.
const (
	MissingKeyMessage = "Unauthorized, missing api key you have to send it in header with key 'authorization' or in query params with key 'apikey'"
	InvalidKeyMessage = "Unauthorized, Invalid api key"
)

var (
	// ErrMissingKey means the request carried no API key.
	ErrMissingKey = errors.New("missing api key")
	// ErrInvalidKey means the upstream API rejected the key.
	ErrInvalidKey = errors.New("invalid api key")
)

// KeyFromRequest extracts the caller's API key. An Authorization header
// takes precedence and must use the Bearer scheme; without one the apikey
// query parameter is used.
func KeyFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		_, key, ok := strings.Cut(header, "Bearer ")
		if !ok {
			return ""
		}
		return strings.TrimSpace(key)
	}
	return strings.TrimSpace(r.URL.Query().Get("apikey"))
}

type keyCtx struct{}

// WithKey stores an authenticated key on ctx.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyCtx{}, key)
}

// KeyFromContext returns the key stored by WithKey.
func KeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(keyCtx{}).(string)
	return key, ok && key != ""
}
