package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dispatchlab/planhub/pkg/lifecycle"
	"github.com/dispatchlab/planhub/pkg/tenancy"
)

// WorkerActor is the performedBy recorded for transitions the worker makes
// when a job has no requester.
const WorkerActor = "solve-worker"

// WorkerPool processes queued solve jobs using a pool of goroutines. Each
// claimed job moves its plan into solving, runs the solver, and moves the
// plan to solved or, once retries are exhausted, to failed.
type WorkerPool struct {
	store       *SolveJobStore
	solver      Solver
	transitions *lifecycle.TransitionService
	cfg         *JobConfig
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *SolveJobStore, solver Solver, transitions *lifecycle.TransitionService, cfg *JobConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		store:       store,
		solver:      solver,
		transitions: transitions,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run starts the worker pool. It spawns cfg.Concurrency goroutines,
// each polling for jobs. It blocks until the context is cancelled,
// then waits for all workers to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || wp.solver == nil || !wp.cfg.Enabled {
		wp.logger.Info("solve worker pool disabled")
		return
	}

	wp.logger.Info("solve worker pool starting",
		"concurrency", wp.cfg.Concurrency,
		"maxRetries", wp.cfg.MaxRetries,
		"pollInterval", wp.cfg.PollInterval.String())

	// Start stuck job cleanup goroutine.
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.cleanupLoop(ctx)
	}()

	// Start worker goroutines.
	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("solve worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("solve worker pool stopped")
}

// workerLoop is the main loop for a single worker goroutine.
func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	wp.logger.Info("worker started", "workerID", workerID)

	for {
		select {
		case <-ctx.Done():
			wp.logger.Info("worker stopped", "workerID", workerID)
			return
		case <-ticker.C:
			wp.processOne(ctx, workerID)
		}
	}
}

// processOne tries to claim and process a single job.
func (wp *WorkerPool) processOne(ctx context.Context, workerID int) {
	job, err := wp.store.Claim(wp.cfg.MaxRetries)
	if err != nil {
		wp.logger.Error("failed to claim job", "workerID", workerID, "error", err)
		return
	}
	if job == nil {
		return // No jobs available.
	}

	wp.logger.Info("processing job",
		"workerID", workerID,
		"jobID", job.ID,
		"tenant", job.TenantID,
		"plan", job.PlanID,
		"attempt", job.AttemptCount)

	scope := tenancy.Scope{TenantID: job.TenantID, Actor: wp.actorFor(job)}

	// Move the plan into solving. Retries find the plan already there and
	// the transition reports idempotent success.
	_, err = wp.transitions.Transition(ctx, scope, job.PlanID, lifecycle.TransitionRequest{
		To:     lifecycle.StateSolving,
		Reason: "solve job " + job.ID,
	})
	if err != nil {
		wp.failJob(ctx, job, scope, "plan not solvable: "+err.Error())
		return
	}

	start := time.Now()
	res, err := wp.solver.Solve(ctx, job)
	if err != nil {
		wp.logger.Error("job failed",
			"workerID", workerID,
			"jobID", job.ID,
			"error", err)
		wp.failJob(ctx, job, scope, err.Error())
		return
	}
	duration := time.Since(start)

	if err := wp.store.Complete(job.ID, res, duration.Milliseconds()); err != nil {
		wp.logger.Error("failed to mark job as complete", "jobID", job.ID, "error", err)
	}

	_, err = wp.transitions.Transition(ctx, scope, job.PlanID, lifecycle.TransitionRequest{
		To:          lifecycle.StateSolved,
		Reason:      "solve job " + job.ID + " completed",
		KPISnapshot: res.KPISnapshot,
	})
	if err != nil {
		wp.logger.Error("failed to move plan to solved", "jobID", job.ID, "plan", job.PlanID, "error", err)
		return
	}

	wp.logger.Info("job completed",
		"workerID", workerID,
		"jobID", job.ID,
		"plan", job.PlanID,
		"duration", duration.String())
}

// failJob records the failure on the job and, when retries are exhausted,
// moves the plan to failed. Requeued jobs leave the plan in solving for the
// next attempt.
func (wp *WorkerPool) failJob(ctx context.Context, job *SolveJob, scope tenancy.Scope, errMsg string) {
	if err := wp.store.Fail(job.ID, errMsg, wp.cfg.MaxRetries); err != nil {
		wp.logger.Error("failed to mark job as failed", "jobID", job.ID, "error", err)
	}
	if job.AttemptCount < wp.cfg.MaxRetries {
		return
	}

	_, err := wp.transitions.Transition(ctx, scope, job.PlanID, lifecycle.TransitionRequest{
		To:     lifecycle.StateFailed,
		Reason: "solve job " + job.ID + " failed: " + errMsg,
	})
	if err != nil {
		// A plan that never reached solving cannot move to failed. Nothing
		// to unwind in that case.
		var te *lifecycle.TransitionError
		if errors.As(err, &te) {
			return
		}
		wp.logger.Error("failed to move plan to failed", "jobID", job.ID, "plan", job.PlanID, "error", err)
	}
}

func (wp *WorkerPool) actorFor(job *SolveJob) string {
	if job.RequestedBy != "" {
		return job.RequestedBy
	}
	return WorkerActor
}

// cleanupLoop periodically cleans up stuck jobs and old completed jobs.
func (wp *WorkerPool) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Recover stuck jobs.
			if wp.cfg.ClaimTimeout > 0 {
				recovered, err := wp.store.CleanupStuckJobs(wp.cfg.ClaimTimeout)
				if err != nil {
					wp.logger.Error("failed to cleanup stuck jobs", "error", err)
				} else if recovered > 0 {
					wp.logger.Info("recovered stuck jobs", "count", recovered)
				}
			}

			// Delete old terminal jobs.
			if wp.cfg.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -wp.cfg.RetentionDays)
				deleted, err := wp.store.DeleteOlderThan(cutoff)
				if err != nil {
					wp.logger.Error("failed to delete old jobs", "error", err)
				} else if deleted > 0 {
					wp.logger.Info("deleted old jobs", "count", deleted)
				}
			}
		}
	}
}
