// Package httpapi exposes the journal pipeline over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/KafClaw/groupjournal/internal/analysis"
	"github.com/KafClaw/groupjournal/internal/backfill"
	"github.com/KafClaw/groupjournal/internal/metrics"
	"github.com/KafClaw/groupjournal/internal/store"
	"github.com/KafClaw/groupjournal/internal/synthesis"
)

const maxBodyBytes = 1 << 20

// ItemAnalyzer handles item-analysis requests.
type ItemAnalyzer interface {
	Handle(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

// BackfillRunner handles backfill requests.
type BackfillRunner interface {
	Run(ctx context.Context, req backfill.Request) (*backfill.Report, error)
}

// Services are the components the API dispatches to.
type Services struct {
	Analysis  ItemAnalyzer
	Synthesis synthesis.Synthesizer
	Backfill  BackfillRunner
	Store     store.ContentStore
	Metrics   *metrics.Metrics
}

// ServerOption configures the API server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
	authToken   string
}

// WithMiddlewares adds middleware to the server.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithAuthToken requires "Authorization: Bearer <token>" on /api routes.
func WithAuthToken(token string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.authToken = strings.TrimSpace(token)
	}
}

// NewServer creates the HTTP router.
func NewServer(svc Services, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RecoverMiddleware)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
	})

	h := &handlers{svc: svc}
	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", svc.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.authToken != "" {
			r.Use(bearerAuth(cfg.authToken))
		}
		r.Post("/items/analyze", h.analyzeItem)
		r.Post("/groups/synthesize", h.synthesizeGroup)
		r.Post("/backfill", h.runBackfill)
		r.Get("/groups/{groupID}", h.getGroup)
		r.Get("/groups/{groupID}/history", h.getHistory)
		r.Get("/groups/{groupID}/artifact.png", h.getArtifact)
	})
	return r
}

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// RecoverMiddleware turns handler panics into the 500 error envelope.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("Handler panicked", "path", r.URL.Path, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
				writeErrorCode(w, http.StatusInternalServerError, CodeInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
