package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/identity"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/orchestrator"
)

// Runner is the slice of the orchestrator the API drives.
type Runner interface {
	Trigger(ctx context.Context, keyword string) (<-chan crawler.PassSummary, error)
	LastPass() (crawler.PassSummary, bool)
	Running() bool
	Extractors() []string
}

// IdentityReporter exposes proxy pool statistics.
type IdentityReporter interface {
	Stats() identity.Stats
	Proxies() []identity.Proxy
}

// HealthCheck is one readiness dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configures the server.
type Options struct {
	// BaseContext outlives individual requests; triggered passes run under it.
	BaseContext    context.Context
	DefaultKeyword string
	APIKey         string
	RequestTimeout time.Duration
	Checks         []HealthCheck
	// LastRun reports the persisted completion time of the last pass, which
	// survives restarts unlike the in-memory last pass summary.
	LastRun func(ctx context.Context) (time.Time, bool, error)
}

// Server wires HTTP handlers to the orchestrator and identity pool.
type Server struct {
	router     chi.Router
	runner     Runner
	identities IdentityReporter
	opts       Options
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. identities may be nil.
func NewServer(runner Runner, identities IdentityReporter, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		runner:     runner,
		identities: identities,
		opts:       opts,
		logger:     logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/status", s.status)
		r.Post("/runs", s.triggerRun)
		r.Get("/identities", s.identityStats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for _, check := range s.opts.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check.Check(ctx)
		cancel()
		if err != nil {
			failures[check.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	Running    bool                 `json:"running"`
	Extractors []string             `json:"extractors"`
	LastPass   *crawler.PassSummary `json:"last_pass,omitempty"`
	LastRun    *time.Time           `json:"last_run,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Running:    s.runner.Running(),
		Extractors: s.runner.Extractors(),
	}
	if last, ok := s.runner.LastPass(); ok {
		resp.LastPass = &last
	}
	if s.opts.LastRun != nil {
		at, ok, err := s.opts.LastRun(r.Context())
		switch {
		case err != nil:
			s.logger.Warn("read last run marker", zap.Error(err))
		case ok:
			resp.LastRun = &at
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type runRequest struct {
	Keyword string `json:"keyword"`
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		keyword = s.opts.DefaultKeyword
	}
	if _, err := s.runner.Trigger(s.opts.BaseContext, keyword); err != nil {
		if errors.Is(err, orchestrator.ErrPassInProgress) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("pass triggered via API", zap.String("keyword", keyword))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "keyword": keyword})
}

func (s *Server) identityStats(w http.ResponseWriter, _ *http.Request) {
	if s.identities == nil {
		s.writeError(w, http.StatusNotFound, "proxy pool disabled")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stats":   s.identities.Stats(),
		"proxies": s.identities.Proxies(),
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

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.String("request_id", reqID),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
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

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
