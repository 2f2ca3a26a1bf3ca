package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Middleware authenticates MCP requests. When verifier is nil keys are only
// required to be present. The accepted key is stored on the request context.
func Middleware(verifier *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := KeyFromRequest(r)
			if key == "" {
				writeUnauthorized(w, MissingKeyMessage)
				return
			}
			if verifier != nil {
				if err := verifier.Verify(r.Context(), key); err != nil {
					if !errors.Is(err, ErrInvalidKey) {
						logger.Warn("api key verification failed", zap.Error(err))
					}
					writeUnauthorized(w, InvalidKeyMessage)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithKey(r.Context(), key)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
