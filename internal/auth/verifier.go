package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/watercrawl/watercrawl-mcp/internal/hash/sha256"
	"github.com/watercrawl/watercrawl-mcp/internal/metrics"
	"github.com/watercrawl/watercrawl-mcp/internal/watercrawl"
)

// Checker asks the upstream API whether a key is usable.
type Checker interface {
	CheckKey(ctx context.Context, key string) error
}

// ClientChecker checks keys by listing one crawl request with them.
type ClientChecker struct {
	Client *watercrawl.Client
}

// CheckKey implements Checker. Upstream 401/403 responses map to
// ErrInvalidKey; other failures are returned wrapped.
func (c ClientChecker) CheckKey(ctx context.Context, key string) error {
	_, err := c.Client.WithAPIKey(key).ListCrawlRequests(ctx, 1, 1)
	if errors.Is(err, watercrawl.ErrUnauthorized) {
		return fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if err != nil {
		return fmt.Errorf("check api key: %w", err)
	}
	return nil
}

// Verifier validates API keys and caches the positive answers. Concurrent
// checks of the same key share one upstream call.
type Verifier struct {
	checker Checker
	cache   Cache
	ttl     time.Duration
	logger  *zap.Logger
	group   singleflight.Group
}

// NewVerifier builds a Verifier. A nil cache disables caching.
func NewVerifier(checker Checker, cache Cache, ttl time.Duration, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Verifier{checker: checker, cache: cache, ttl: ttl, logger: logger}
}

// Verify returns nil when key is accepted upstream, ErrMissingKey for an
// empty key and an error wrapping ErrInvalidKey when it is rejected.
func (v *Verifier) Verify(ctx context.Context, key string) error {
	if key == "" {
		metrics.ObserveAuthVerification("missing")
		return ErrMissingKey
	}
	fp := sha256.Fingerprint(key)
	if v.cache != nil {
		ok, err := v.cache.Has(ctx, fp)
		if err != nil {
			v.logger.Warn("verified key cache lookup failed", zap.String("key_id", fp), zap.Error(err))
		}
		if ok {
			metrics.ObserveAuthVerification("cached")
			return nil
		}
	}

	_, err, shared := v.group.Do(fp, func() (any, error) {
		if err := v.checker.CheckKey(ctx, key); err != nil {
			return nil, err
		}
		if v.cache != nil && v.ttl > 0 {
			if err := v.cache.Add(ctx, fp, v.ttl); err != nil {
				v.logger.Warn("verified key cache store failed", zap.String("key_id", fp), zap.Error(err))
			}
		}
		return nil, nil
	})
	switch {
	case err == nil:
		metrics.ObserveAuthVerification("valid")
	case errors.Is(err, ErrInvalidKey):
		metrics.ObserveAuthVerification("invalid")
	default:
		metrics.ObserveAuthVerification("error")
	}
	if err != nil {
		v.logger.Info("api key rejected", zap.String("key_id", fp), zap.Bool("shared", shared), zap.Error(err))
	}
	return err
}
