package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/dispatchlab/planhub/pkg/cache"
	"github.com/dispatchlab/planhub/pkg/escalation"
	"github.com/dispatchlab/planhub/pkg/ha"
	"github.com/dispatchlab/planhub/pkg/jobs"
	"github.com/dispatchlab/planhub/pkg/lifecycle"
	"github.com/dispatchlab/planhub/pkg/replay"
	"github.com/dispatchlab/planhub/pkg/snapshot"
	"github.com/dispatchlab/planhub/pkg/tenancy"
)

// server carries the assembled planhub components and mounts the HTTP API.
type server struct {
	db          *gorm.DB
	plans       *lifecycle.PlanStore
	approvals   *lifecycle.ApprovalStore
	transitions *lifecycle.TransitionService
	publisher   *snapshot.Publisher
	snapshots   *snapshot.SnapshotStore
	jobStore    *jobs.SolveJobStore
	escalations *escalation.EscalationStore
	hierarchy   *escalation.HierarchyStore
	registry    *escalation.Registry
	reporter    *escalation.Reporter
	events      *replay.SecurityEventStore
	verifier    *replay.RequestVerifier
	cacheMgr    *cache.StatusCacheManager
	elector     *ha.LeaderElector
	tenancyMode tenancy.Mode
	logger      *slog.Logger
	startedAt   time.Time
}

// mountRoutes creates the HTTP router with all API routes mounted. Every
// /api/v1 route resolves the request scope first; the replay middleware then
// verifies the signature on every mutating request before business logic runs.
func (s *server) mountRoutes() chi.Router {
	r := chi.NewRouter()

	// Add common middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			tenancy.TenantHeader, tenancy.SiteHeader, tenancy.ActorHeader,
			tenancy.PlatformAdminHeader, replay.SignatureHeader},
		ExposedHeaders:   []string{"Link", "X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints stay outside scope resolution.
	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(tenancy.NewMiddleware(s.tenancyMode))
		r.Use(replay.Middleware(s.verifier))

		r.Mount("/plans", lifecycle.NewRouter(
			s.plans, s.approvals, s.transitions,
			snapshot.PublishHandler(s.publisher),
			snapshot.ListSnapshotsHandler(s.snapshots),
			snapshot.GetSnapshotHandler(s.snapshots),
		))
		r.Mount("/jobs", jobs.Router(s.jobStore, s.plans))
		r.Mount("/escalations", escalation.NewEscalationRouter(s.escalations, s.registry, s.cacheMgr.InvalidateAll))
		r.Mount("/security", replay.NewRouter(s.events))
		r.With(s.cacheMgr.Middleware()).Get("/status/aggregate", escalation.AggregateStatusHandler(s.reporter))

		r.Route("/admin", func(r chi.Router) {
			r.Mount("/snapshots", snapshot.NewAdminRouter(s.snapshots))
			r.Mount("/hierarchy", escalation.NewHierarchyRouter(s.hierarchy))
		})
	})

	return r
}

// healthHandler returns the liveness status of the server.
func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	uptime := time.Since(s.startedAt).Round(time.Second).String()

	response := map[string]string{
		"status": "alive",
		"uptime": uptime,
	}

	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler checks if the server is ready to serve traffic. Database
// connectivity gates readiness; leader state is informational.
func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	allReady := true

	// Check DB connectivity.
	dbStatus := map[string]string{"status": "up"}
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		allReady = false
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		allReady = false
	}

	// Report leader election status (informational, does not gate readiness).
	leaderStatus := map[string]string{"status": "not_configured"}
	if s.elector != nil {
		if s.elector.IsLeader() {
			leaderStatus["status"] = "leader"
		} else {
			leaderStatus["status"] = "follower"
		}
	}

	status := "ready"
	if !allReady {
		status = "not_ready"
	}

	w.Header().Set("Content-Type", "application/json")

	if allReady {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	response := map[string]any{
		"status": status,
		"components": map[string]any{
			"database":        dbStatus,
			"leader_election": leaderStatus,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}
