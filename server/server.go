// Package server exposes the HTTP API: entity CRUD, batch operations,
// type introspection, subscription management and admin endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/junctive/contexd/config"
	"github.com/junctive/contexd/errors"
	"github.com/junctive/contexd/logger"
	"github.com/junctive/contexd/notify"
	"github.com/junctive/contexd/query"
	"github.com/junctive/contexd/registry"
	"github.com/junctive/contexd/store"
)

// Version is the reported server version.
const Version = "1.0.0"

// Server wires the core components behind the HTTP boundary.
type Server struct {
	cfg      config.ServerConfig
	entities *store.EntityStore
	queries  *query.Engine
	types    *registry.TypeRegistry
	notifier *notify.Engine

	httpServer *http.Server
	startTime  time.Time
	stats      statistics
}

type statistics struct {
	entityRequests       atomic.Int64
	batchRequests        atomic.Int64
	typeRequests         atomic.Int64
	subscriptionRequests atomic.Int64
}

// New creates the server and registers all routes.
func New(cfg config.ServerConfig, entities *store.EntityStore, notifier *notify.Engine) *Server {
	s := &Server{
		cfg:       cfg,
		entities:  entities,
		queries:   query.NewEngine(entities),
		types:     registry.New(entities),
		notifier:  notifier,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: corsMiddleware(mux),
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v2", s.handleEntryPoints)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /statistics", s.handleStatistics)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v2/entities", s.handleListEntities)
	mux.HandleFunc("POST /v2/entities", s.handleCreateEntity)
	mux.HandleFunc("GET /v2/entities/{id}", s.handleGetEntity)
	mux.HandleFunc("DELETE /v2/entities/{id}", s.handleDeleteEntity)
	mux.HandleFunc("PATCH /v2/entities/{id}/attrs", s.handlePatchAttrs)
	mux.HandleFunc("POST /v2/entities/{id}/attrs", s.handlePatchAttrs)

	mux.HandleFunc("POST /v2/op/update", s.handleBatchUpdate)
	mux.HandleFunc("POST /v2/op/query", s.handleBatchQuery)

	mux.HandleFunc("GET /v2/types", s.handleListTypes)
	mux.HandleFunc("GET /v2/types/{type}", s.handleGetType)

	mux.HandleFunc("GET /v2/subscriptions", s.handleListSubscriptions)
	mux.HandleFunc("POST /v2/subscriptions", s.handleCreateSubscription)
	mux.HandleFunc("GET /v2/subscriptions/{id}", s.handleGetSubscription)
	mux.HandleFunc("PATCH /v2/subscriptions/{id}", s.handlePatchSubscription)
	mux.HandleFunc("DELETE /v2/subscriptions/{id}", s.handleDeleteSubscription)
}

// Handler returns the routed handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// pagination reads limit/offset, applying the configured default and
// cap.
func (s *Server) pagination(r *http.Request) (limit, offset int, err error) {
	limit = s.cfg.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return 0, 0, errors.BadRequestf("invalid limit: %s", raw)
		}
	}
	if s.cfg.MaxPageSize > 0 && limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.BadRequestf("invalid offset: %s", raw)
		}
	}
	return limit, offset, nil
}

// requestOptions holds the recognized options flags.
type requestOptions struct {
	keyValues    bool
	count        bool
	noAttrDetail bool
}

func parseOptions(r *http.Request) requestOptions {
	var opts requestOptions
	for _, flag := range splitParam(r.URL.Query().Get("options")) {
		switch flag {
		case "keyValues":
			opts.keyValues = true
		case "count":
			opts.count = true
		case "noAttrDetail":
			opts.noAttrDetail = true
		}
	}
	return opts
}

// splitParam splits a comma-separated parameter, dropping empties.
func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
