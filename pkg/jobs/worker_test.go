package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dispatchlab/planhub/pkg/lifecycle"
	"github.com/dispatchlab/planhub/pkg/planlock"
)

// stubSolver fails the first failTimes calls, then returns result.
type stubSolver struct {
	mu        sync.Mutex
	calls     int
	failTimes int
	result    *SolveResult
}

func (s *stubSolver) Solve(ctx context.Context, job *SolveJob) (*SolveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failTimes {
		return nil, fmt.Errorf("transient failure #%d", s.calls)
	}
	if s.result != nil {
		return s.result, nil
	}
	return &SolveResult{
		Assignments: map[string]any{"vehicle-1": "stop-a"},
		Routes:      map[string]any{"vehicle-1": "r1"},
		KPISnapshot: map[string]any{"onTimeRate": "0.98"},
	}, nil
}

func (s *stubSolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func setupWorkerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Use a unique shared-cache DSN per test so worker goroutines that may
	// still run after the test completes see the same database.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&SolveJob{}, &lifecycle.PlanRecord{}, &lifecycle.ApprovalRecord{}))
	return db
}

func newWorkerFixture(t *testing.T, db *gorm.DB, solver Solver, cfg *JobConfig) (*WorkerPool, *SolveJobStore, *lifecycle.PlanStore) {
	t.Helper()
	store := NewSolveJobStore(db)
	plans := lifecycle.NewPlanStore(db)
	transitions := lifecycle.NewTransitionService(db, planlock.NewMutexLocker(), nil)
	return NewWorkerPool(store, solver, transitions, cfg, nil), store, plans
}

func workerTestConfig() *JobConfig {
	cfg := DefaultJobConfig()
	cfg.PollInterval = 50 * time.Millisecond
	cfg.Concurrency = 1
	// Disable cleanup to avoid accessing the DB after the test completes.
	cfg.ClaimTimeout = 0
	cfg.RetentionDays = 0
	return cfg
}

func TestWorkerSolvesPlan(t *testing.T) {
	db := setupWorkerTestDB(t)
	solver := &stubSolver{}
	wp, store, plans := newWorkerFixture(t, db, solver, workerTestConfig())

	plan := &lifecycle.PlanRecord{TenantID: "acme", Name: "monday"}
	require.NoError(t, plans.Create(plan))

	job := newTestJob(plan.ID, "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go wp.Run(ctx)

	require.Eventually(t, func() bool {
		j, _ := store.Get("acme", job.ID)
		return j != nil && j.State == JobStateSucceeded
	}, 2*time.Second, 50*time.Millisecond, "job should be completed")

	result, _ := store.Get("acme", job.ID)
	assert.Equal(t, map[string]any{"vehicle-1": "stop-a"}, result.ResultAssignments.Data)
	assert.Equal(t, 1, solver.callCount())

	// The worker drove the plan draft -> solving -> solved.
	updated, err := plans.Get("acme", plan.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateSolved, updated.State)

	approvals := lifecycle.NewApprovalStore(db)
	records, _, total, err := approvals.ListByPlan("acme", plan.ID, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	actions := []lifecycle.ApprovalAction{records[0].Action, records[1].Action}
	assert.Contains(t, actions, lifecycle.ActionSubmit)
	assert.Contains(t, actions, lifecycle.ActionComplete)

	cancel()
}

func TestWorkerRetriesOnFailure(t *testing.T) {
	db := setupWorkerTestDB(t)
	solver := &stubSolver{failTimes: 1}
	cfg := workerTestConfig()
	cfg.MaxRetries = 3
	wp, store, plans := newWorkerFixture(t, db, solver, cfg)

	plan := &lifecycle.PlanRecord{TenantID: "acme", Name: "monday"}
	require.NoError(t, plans.Create(plan))

	job := newTestJob(plan.ID, "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go wp.Run(ctx)

	require.Eventually(t, func() bool {
		j, _ := store.Get("acme", job.ID)
		return j != nil && j.State == JobStateSucceeded
	}, 5*time.Second, 100*time.Millisecond, "job should eventually succeed after retry")

	assert.Equal(t, 2, solver.callCount(), "should have been called twice (fail + succeed)")

	updated, err := plans.Get("acme", plan.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateSolved, updated.State)

	cancel()
}

func TestWorkerFailsPlanAfterMaxRetries(t *testing.T) {
	db := setupWorkerTestDB(t)
	solver := &stubSolver{failTimes: 100}
	cfg := workerTestConfig()
	cfg.MaxRetries = 2
	wp, store, plans := newWorkerFixture(t, db, solver, cfg)

	plan := &lifecycle.PlanRecord{TenantID: "acme", Name: "monday"}
	require.NoError(t, plans.Create(plan))

	job := newTestJob(plan.ID, "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go wp.Run(ctx)

	require.Eventually(t, func() bool {
		j, _ := store.Get("acme", job.ID)
		return j != nil && j.State == JobStateFailed
	}, 5*time.Second, 100*time.Millisecond, "job should be marked failed after max retries")

	updated, err := plans.Get("acme", plan.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateFailed, updated.State)

	cancel()
}

func TestWorkerFailsJobForUnsolvablePlan(t *testing.T) {
	db := setupWorkerTestDB(t)
	solver := &stubSolver{}
	cfg := workerTestConfig()
	cfg.MaxRetries = 1
	wp, store, plans := newWorkerFixture(t, db, solver, cfg)

	// A published plan is terminal; it can never enter solving.
	plan := &lifecycle.PlanRecord{TenantID: "acme", Name: "done", State: lifecycle.StatePublished}
	require.NoError(t, plans.Create(plan))

	job := newTestJob(plan.ID, "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go wp.Run(ctx)

	require.Eventually(t, func() bool {
		j, _ := store.Get("acme", job.ID)
		return j != nil && j.State == JobStateFailed
	}, 3*time.Second, 50*time.Millisecond)

	cancel()

	result, err := store.Get("acme", job.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Contains(t, result.LastError, "not solvable")
	assert.Equal(t, 0, solver.callCount(), "solver should never run for an unsolvable plan")

	// The plan itself is untouched.
	updated, err := plans.Get("acme", plan.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatePublished, updated.State)
}
