// Package server hosts the WaterCrawl MCP tools over stdio or HTTP and owns
// the process-wide dependencies they share.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/watercrawl/watercrawl-mcp/internal/auth"
	"github.com/watercrawl/watercrawl-mcp/internal/metrics"
	"github.com/watercrawl/watercrawl-mcp/internal/telemetry"
)

// SessionFactory builds the MCP server for one session, bound to apiKey.
type SessionFactory func(apiKey string) (*mcp.Server, error)

// HTTPOptions shape the HTTP surface.
type HTTPOptions struct {
	// SSEPath serves the legacy SSE transport; GET opens a session and POST
	// delivers its messages.
	SSEPath string
	// StreamablePath serves the streamable HTTP transport. Empty disables it.
	StreamablePath string
	// MetricsPath serves Prometheus metrics. Empty disables it.
	MetricsPath string
	// Verifier checks caller keys upstream. Nil only requires a key.
	Verifier *auth.Verifier
	// Ready reports whether the server can take traffic.
	Ready func(ctx context.Context) error
}

// Server wires the HTTP transports to a SessionFactory.
type Server struct {
	router  chi.Router
	factory SessionFactory
	ready   func(ctx context.Context) error
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(factory SessionFactory, opts HTTPOptions, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{factory: factory, ready: opts.Ready, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if opts.MetricsPath != "" {
		r.Use(metrics.Middleware)
		r.Handle(opts.MetricsPath, metrics.Handler())
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	authenticate := auth.Middleware(opts.Verifier, logger.Named("auth"))
	sse := mcp.NewSSEHandler(s.sessionServer, nil)
	r.Handle(opts.SSEPath, sseAuth(authenticate, countSessions(sse)))
	if opts.StreamablePath != "" {
		streamable := mcp.NewStreamableHTTPHandler(s.sessionServer, nil)
		r.With(authenticate).Handle(opts.StreamablePath, streamable)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// sessionServer builds the MCP server for a new session from the key the auth
// middleware stored on the request. A nil return makes the SDK reject the
// request.
func (s *Server) sessionServer(r *http.Request) *mcp.Server {
	key, _ := auth.KeyFromContext(r.Context())
	srv, err := s.factory(key)
	if err != nil {
		s.logger.Error("build mcp session", zap.Error(err))
		return nil
	}
	return srv
}

// sseAuth authenticates SSE session opens. Message posts are addressed by the
// unguessable session id issued to an authenticated stream, and the SDK drops
// the caller's query string when it builds that address.
func sseAuth(authenticate func(http.Handler) http.Handler, next http.Handler) http.Handler {
	guarded := authenticate(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Query().Get("sessionid") != "" {
			next.ServeHTTP(w, r)
			return
		}
		guarded.ServeHTTP(w, r)
	})
}

// countSessions tracks open SSE streams; each GET lives as long as its session.
func countSessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		metrics.IncSessions()
		defer metrics.DecSessions()
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestID(r.Context())),
			}
			if traceID := telemetry.TraceID(r.Context()); traceID != "" {
				fields = append(fields, zap.String("trace_id", traceID))
			}
			logger.Info("request completed", fields...)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
