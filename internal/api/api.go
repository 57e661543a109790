// Package api serves the orchestrator over HTTP: a JSON invoke endpoint, a
// websocket stream of workflow progress, an MCP endpoint, the catalog, audit
// history and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opentalon/tutorflow/internal/audit"
	"github.com/opentalon/tutorflow/internal/catalog"
	"github.com/opentalon/tutorflow/internal/workflow"
)

// Invoker runs one workflow invocation.
type Invoker interface {
	RunWith(ctx context.Context, userMessage string, extra ...workflow.Observer) (*workflow.Result, error)
}

// History lists audited invocations.
type History interface {
	Get(ctx context.Context, id string) (*audit.Record, error)
	Recent(ctx context.Context, limit int) ([]*audit.Record, error)
}

type Options struct {
	Catalog *catalog.Catalog
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// History enables /invocations when set.
	History        History
	RequestTimeout time.Duration
	Version        string
	Logger         *slog.Logger
}

type Handler struct {
	wf      Invoker
	catalog *catalog.Catalog
	history History
	timeout time.Duration
	version string
	logger  *slog.Logger
}

// NewRouter returns the chi router with every route mounted.
func NewRouter(wf Invoker, opts Options) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		wf:      wf,
		catalog: opts.Catalog,
		history: opts.History,
		timeout: opts.RequestTimeout,
		version: opts.Version,
		logger:  opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/", h.Health)
	r.Group(func(r chi.Router) {
		if h.timeout > 0 {
			r.Use(middleware.Timeout(h.timeout))
		}
		r.Post("/invoke", h.Invoke)
	})
	if h.catalog != nil {
		r.Get("/catalog", h.Catalog)
	}
	if h.history != nil {
		r.Route("/invocations", func(r chi.Router) {
			r.Get("/", h.ListInvocations)
			r.Get("/{id}", h.GetInvocation)
		})
	}
	r.Get("/ws", h.Stream)
	r.Handle("/mcp", NewMCPHandler(wf, opts.Version, opts.Logger))
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	return r
}
