// Package main provides the planhub server entry point. The server hosts the
// plan lifecycle API, snapshot publishing, replay protection, and the
// aggregated status reporter, plus the background workers that drive solve
// jobs and table cleanup on the elected leader.
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	flag "github.com/spf13/pflag"
	"gorm.io/gorm"

	"github.com/dispatchlab/planhub/internal/db"
	"github.com/dispatchlab/planhub/pkg/cache"
	"github.com/dispatchlab/planhub/pkg/escalation"
	"github.com/dispatchlab/planhub/pkg/ha"
	"github.com/dispatchlab/planhub/pkg/jobs"
	"github.com/dispatchlab/planhub/pkg/lifecycle"
	"github.com/dispatchlab/planhub/pkg/planlock"
	"github.com/dispatchlab/planhub/pkg/replay"
	"github.com/dispatchlab/planhub/pkg/snapshot"
	"github.com/dispatchlab/planhub/pkg/tenancy"
)

func main() {
	var (
		listenAddr      string
		databaseType    string
		databaseDSN     string
		reasonCodesPath string
		tenancyModeStr  string
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&databaseType, "db-type", "postgres", "Database type (postgres, mysql, or sqlite)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.StringVar(&reasonCodesPath, "reason-codes", "/config/reason-codes.yaml", "Path to the reason code registry file")
	flag.StringVar(&tenancyModeStr, "tenancy-mode", "", "Tenancy mode (single or header)")
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	// Allow env var override for tenancy mode.
	if tenancyModeStr == "" {
		tenancyModeStr = os.Getenv("PLANHUB_TENANCY_MODE")
	}
	if tenancyModeStr == "" {
		tenancyModeStr = string(tenancy.ModeSingle) // default
	}

	// glog registers on the standard flag set; route it to stderr.
	_ = goflag.Set("logtostderr", "true")

	// Set up structured logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting planhub server",
		"listen", listenAddr,
		"dbType", databaseType,
		"tenancyMode", tenancyModeStr,
	)

	tenancyMode := tenancy.Mode(tenancyModeStr)
	switch tenancyMode {
	case tenancy.ModeSingle, tenancy.ModeHeader:
	default:
		glog.Fatalf("Unknown tenancy mode: %q (expected single or header)", tenancyModeStr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Setup database
	gormDB, err := setupDatabase(databaseType, databaseDSN)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	// Stores
	planStore := lifecycle.NewPlanStore(gormDB)
	approvalStore := lifecycle.NewApprovalStore(gormDB)
	snapshotStore := snapshot.NewSnapshotStore(gormDB)
	jobStore := jobs.NewSolveJobStore(gormDB)
	escalationStore := escalation.NewEscalationStore(gormDB)
	hierarchyStore := escalation.NewHierarchyStore(gormDB)
	eventStore := replay.NewSecurityEventStore(gormDB, logger)

	// Replay protection. The server refuses to start without a signing
	// secret: mutating requests cannot be verified without one and the
	// verifier fails closed.
	replayCfg := replay.ConfigFromEnv()
	if replayCfg.Secret == "" {
		glog.Fatalf("PLANHUB_SIGNING_SECRET is required")
	}

	var nonceStore replay.NonceStore
	var dbNonces *replay.DBNonceStore
	if replayCfg.RedisURL != "" {
		redisNonces, err := replay.NewRedisNonceStore(replayCfg.RedisURL, eventStore, replayCfg.MaxSkew)
		if err != nil {
			glog.Fatalf("Failed to connect to redis nonce store: %v", err)
		}
		nonceStore = redisNonces
		logger.Info("using redis nonce store")
	} else {
		dbNonces = replay.NewDBNonceStore(gormDB, eventStore, replayCfg.MaxSkew)
		nonceStore = dbNonces
	}

	// Migrate under the cross-replica lock. The nonce table only exists when
	// nonces live in the primary database.
	haCfg := ha.HAConfigFromEnv()
	autoMigrated := []interface{ AutoMigrate() error }{
		planStore, snapshotStore, jobStore, escalationStore, hierarchyStore, eventStore,
	}
	if dbNonces != nil {
		autoMigrated = append(autoMigrated, dbNonces)
	}
	if err := migrateSchema(ctx, gormDB, haCfg, autoMigrated); err != nil {
		glog.Fatalf("Failed to migrate database schema: %v", err)
	}

	// Services
	locker := planlock.New(gormDB)
	transitions := lifecycle.NewTransitionService(gormDB, locker, logger)
	publisher := snapshot.NewPublisher(gormDB, locker, logger)
	verifier := replay.NewRequestVerifier(replayCfg, nonceStore, eventStore, logger)

	registry, err := escalation.NewRegistry(reasonCodesPath, logger)
	if err != nil {
		glog.Fatalf("Failed to load reason code registry: %v", err)
	}
	go func() {
		if err := registry.Watch(ctx); err != nil {
			logger.Error("reason code registry watch failed", "error", err)
		}
	}()
	reporter := escalation.NewReporter(hierarchyStore, escalationStore)

	cacheManager := cache.NewStatusCacheManager(cache.CacheConfigFromEnv())
	if cacheManager != nil {
		logger.Info("status response caching enabled")
	}

	// Background work runs only on the elected leader so that a multi-replica
	// deployment claims each job and cleanup pass exactly once.
	jobCfg := jobs.JobConfigFromEnv()
	var solver jobs.Solver
	if jobCfg.SolverURL != "" {
		solver = jobs.NewHTTPSolver(jobCfg.SolverURL, jobCfg.SolverTimeout)
	}
	workerPool := jobs.NewWorkerPool(jobStore, solver, transitions, jobCfg, logger)

	cleanup := replay.NewCleanupWorker(nonceStore, replayCfg, logger)
	cleanup.AddPurge(func(ctx context.Context) (int64, error) {
		return escalationStore.DeleteExpired(replayCfg.CleanupBatchSize)
	})
	eventRetentionDays := envIntOrDefault("PLANHUB_SECURITY_EVENT_RETENTION_DAYS", 30)
	cleanup.AddPurge(func(ctx context.Context) (int64, error) {
		return eventStore.DeleteOlderThan(time.Now().AddDate(0, 0, -eventRetentionDays))
	})

	elector := ha.NewLeaderElector(haCfg, gormDB, haCfg.Identity, logger)
	elector.OnStartLeading(func(leadCtx context.Context) {
		go workerPool.Run(leadCtx)
		go cleanup.Run(leadCtx)
	})
	go elector.Run(ctx)

	srv := &server{
		db:          gormDB,
		plans:       planStore,
		approvals:   approvalStore,
		transitions: transitions,
		publisher:   publisher,
		snapshots:   snapshotStore,
		jobStore:    jobStore,
		escalations: escalationStore,
		hierarchy:   hierarchyStore,
		registry:    registry,
		reporter:    reporter,
		events:      eventStore,
		verifier:    verifier,
		cacheMgr:    cacheManager,
		elector:     elector,
		tenancyMode: tenancyMode,
		logger:      logger,
		startedAt:   time.Now(),
	}
	router := srv.mountRoutes()

	logger.Info("planhub server ready", "listen", listenAddr)

	// Create HTTP server with graceful shutdown
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	// Start HTTP server in goroutine
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("planhub server stopped")
}

// migrateSchema brings the schema up to date while holding the cross-replica
// migration lock. Postgres applies the embedded versioned migrations; mysql
// and sqlite auto-migrate per store and bootstrap the partial unique indexes
// AutoMigrate cannot express.
func migrateSchema(ctx context.Context, gormDB *gorm.DB, haCfg *ha.HAConfig, stores []interface{ AutoMigrate() error }) error {
	lockDB := gormDB
	if !haCfg.MigrationLockEnabled {
		lockDB = nil
	}
	locker := ha.NewMigrationLocker(lockDB)
	return locker.WithLock(ctx, func() error {
		if gormDB.Dialector.Name() == db.TypePostgres {
			return db.MigrateUp(gormDB)
		}
		for _, store := range stores {
			if err := store.AutoMigrate(); err != nil {
				return err
			}
		}
		return db.EnsureConstraints(gormDB)
	})
}

func setupDatabase(dbType, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		// Try to get from environment
		dsn = os.Getenv("PLANHUB_DB_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required (use -db-dsn flag or PLANHUB_DB_DSN environment variable)")
		}
	}

	if dbType == "" {
		dbType = os.Getenv("PLANHUB_DB_TYPE")
		if dbType == "" {
			dbType = db.TypePostgres
		}
	}

	return db.Open(dbType, dsn)
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
