// Package api exposes the backend over HTTP: relay ingest, live reads, the leaderboard and
// operator endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	corslib "github.com/rs/cors"

	"github.com/okian/pulse/internal/adapters/http/swagger"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/ranking"
	"github.com/okian/pulse/internal/domain/reaper"
	"github.com/okian/pulse/internal/domain/types"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// HeartbeatStore is the live store as seen by the ingest and read handlers.
type HeartbeatStore interface {
	Write(ctx context.Context, ownerID string, sample model.HeartbeatSample, valid bool) (*model.LiveRecord, error)
	Read(ctx context.Context, ownerID string) (*model.LiveRecord, error)
}

// Leaderboard serves ranking reads.
type Leaderboard interface {
	TopK(ctx context.Context, k int) (types.Leaderboard, error)
	Rank(ctx context.Context, ownerID string) (types.Entry, error)
}

// RankingSyncer triggers an operator ranking sync.
type RankingSyncer interface {
	ManualSync(ctx context.Context) (ranking.SyncResult, error)
}

// Sweeper triggers an operator reaper sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (reaper.Result, error)
}

// StatsProvider reports service statistics for /stats.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// HealthCheck is one named dependency check for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies bundles what the handlers call into.
type Dependencies struct {
	Deduper     dedupe.Deduper
	Heartbeats  HeartbeatStore
	Leaderboard Leaderboard
	Rankings    RankingSyncer
	Reaper      Sweeper
	Stats       StatsProvider
	Health      []HealthCheck
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps Dependencies

	corsOrigins []string
	ingestRate  float64
	ingestBurst int
	maxLimit    int
	log         logger.Logger
}

// NewServer creates a Server.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:        deps,
		corsOrigins: []string{"*"},
		ingestRate:  5,
		ingestBurst: 10,
		maxLimit:    100,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("api")
	}
	return s
}

// Router builds the chi router with middleware and every route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TimingMiddleware)

	c := corslib.New(corslib.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Process-Time"},
	})
	r.Use(c.Handler)

	r.With(MetricsMiddleware("healthz")).Get("/healthz", s.handleHealth)
	r.With(MetricsMiddleware("stats")).Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	swagger.Register(r)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/heartbeats", func(r chi.Router) {
			r.With(MetricsMiddleware("heartbeats"), RateLimitMiddleware(s.ingestRate, s.ingestBurst)).
				Post("/", s.handleIngest)
			r.With(MetricsMiddleware("heartbeat")).Get("/{ownerID}", s.handleGetHeartbeat)
		})
		r.Route("/leaderboard", func(r chi.Router) {
			r.With(MetricsMiddleware("leaderboard")).Get("/", s.handleLeaderboard)
			r.With(MetricsMiddleware("rank")).Get("/{ownerID}", s.handleRank)
		})
		r.Route("/admin", func(r chi.Router) {
			r.With(MetricsMiddleware("admin_sync")).Post("/rankings/sync", s.handleSync)
			r.With(MetricsMiddleware("admin_reap")).Post("/reap", s.handleReap)
		})
	})
	return r
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err by kind. Internal causes are logged, not echoed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Error(err),
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Health))
	for _, hc := range s.deps.Health {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[hc.Name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]interface{}{}
	if s.deps.Stats != nil {
		stats = s.deps.Stats.GetStats()
	}
	writeJSON(w, http.StatusOK, stats)
}
