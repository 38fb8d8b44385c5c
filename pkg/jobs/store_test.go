package jobs

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	// Every pooled connection to a :memory: DSN sees its own database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&SolveJob{}))
	return db
}

func newTestJob(planID, key string) *SolveJob {
	job := &SolveJob{
		ID:          uuid.New().String(),
		TenantID:    "acme",
		PlanID:      planID,
		RequestedBy: "test-user",
		RequestedAt: time.Now(),
		State:       JobStateQueued,
	}
	if key != "" {
		job.IdempotencyKey = &key
	}
	return job
}

func TestEnqueueCreatesJob(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "acme:plan-1")
	created, err := store.Enqueue(job)
	require.NoError(t, err)
	assert.Equal(t, job.ID, created.ID)
	assert.Equal(t, JobStateQueued, created.State)
	assert.Equal(t, "plan-1", created.PlanID)
}

func TestEnqueueFillsDefaults(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	created, err := store.Enqueue(&SolveJob{TenantID: "acme", PlanID: "plan-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, JobStateQueued, created.State)
	assert.False(t, created.RequestedAt.IsZero())
}

func TestEnqueueRequiresTenantAndPlan(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	_, err := store.Enqueue(&SolveJob{TenantID: "acme"})
	assert.Error(t, err)

	_, err = store.Enqueue(&SolveJob{PlanID: "plan-1"})
	assert.Error(t, err)
}

func TestEnqueueIdempotencyReturnsDuplicate(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job1 := newTestJob("plan-1", "acme:plan-1")
	created1, err := store.Enqueue(job1)
	require.NoError(t, err)

	// Same idempotency key, different ID.
	job2 := newTestJob("plan-1", "acme:plan-1")
	created2, err := store.Enqueue(job2)
	require.NoError(t, err)

	// Should return the original, not create a new one.
	assert.Equal(t, created1.ID, created2.ID)
}

func TestEnqueueIdempotencyAllowsAfterTerminal(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job1 := newTestJob("plan-1", "acme:plan-1")
	_, err := store.Enqueue(job1)
	require.NoError(t, err)

	// Mark the first job as succeeded.
	require.NoError(t, store.Complete(job1.ID, nil, 100))

	// Now a new job with same idempotency key should be created.
	job2 := newTestJob("plan-1", "acme:plan-1")
	created2, err := store.Enqueue(job2)
	require.NoError(t, err)
	assert.NotEqual(t, job1.ID, created2.ID)
}

func TestEnqueueIdempotencyKeyReusedAcrossRuns(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	// Three rounds with the same key leave two cleared terminal rows behind;
	// cleared keys must not collide with each other.
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		job := newTestJob("plan-1", "acme:plan-1")
		created, err := store.Enqueue(job)
		require.NoError(t, err)
		require.False(t, seen[created.ID], "round %d returned an old job", i)
		seen[created.ID] = true
		require.NoError(t, store.Complete(created.ID, nil, 10))
	}
}

func TestClaimReturnsQueuedJob(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	claimed, err := store.Claim(3)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, JobStateRunning, claimed.State)
	assert.NotNil(t, claimed.StartedAt)
	assert.Equal(t, 1, claimed.AttemptCount)
}

func TestClaimReturnsNilWhenEmpty(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	claimed, err := store.Claim(3)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimPicksOldestFirst(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	older := newTestJob("plan-1", "")
	older.RequestedAt = time.Now().Add(-time.Hour)
	_, err := store.Enqueue(older)
	require.NoError(t, err)

	newer := newTestJob("plan-2", "")
	_, err = store.Enqueue(newer)
	require.NoError(t, err)

	claimed, err := store.Claim(3)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
}

func TestClaimRespectsMaxRetries(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "")
	job.AttemptCount = 4 // exceeded max retries of 3
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	claimed, err := store.Claim(3)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestCompleteStoresResult(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	res := &SolveResult{
		Assignments: map[string]any{"vehicle-1": "stop-a"},
		Routes:      map[string]any{"vehicle-1": "r1"},
		KPISnapshot: map[string]any{"distanceKm": "42"},
		InputHash:   "aaa",
		OutputHash:  "bbb",
	}
	err = store.Complete(job.ID, res, 5000)
	require.NoError(t, err)

	result, err := store.Get("acme", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateSucceeded, result.State)
	assert.Equal(t, int64(5000), result.DurationMs)
	assert.NotNil(t, result.FinishedAt)
	assert.Equal(t, "aaa", result.InputHash)
	assert.Equal(t, "bbb", result.OutputHash)
	assert.Equal(t, map[string]any{"vehicle-1": "stop-a"}, result.ResultAssignments.Data)
	assert.Equal(t, map[string]any{"vehicle-1": "r1"}, result.ResultRoutes.Data)
}

func TestFailRequeuesWhenRetriesLeft(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	// Claim the job (sets attempt_count=1).
	_, err = store.Claim(3)
	require.NoError(t, err)

	err = store.Fail(job.ID, "transient error", 3)
	require.NoError(t, err)

	result, err := store.Get("acme", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, result.State, "should re-queue for retry")
	assert.Equal(t, "transient error", result.LastError)
	assert.Nil(t, result.FinishedAt)
}

func TestFailMarksFailedAtMaxRetries(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "")
	job.AttemptCount = 3 // already at max
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	err = store.Fail(job.ID, "fatal error", 3)
	require.NoError(t, err)

	result, err := store.Get("acme", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, result.State)
	assert.Equal(t, "fatal error", result.LastError)
	assert.NotNil(t, result.FinishedAt)
}

func TestCancelQueuedJobSucceeds(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	err = store.Cancel("acme", job.ID)
	require.NoError(t, err)

	result, err := store.Get("acme", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateCanceled, result.State)
}

func TestCancelRunningJobFails(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	// Claim to transition to running.
	_, err = store.Claim(3)
	require.NoError(t, err)

	err = store.Cancel("acme", job.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "running")
}

func TestCancelNonExistentJobFails(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	err := store.Cancel("acme", "nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCancelScopedToTenant(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	err = store.Cancel("rival", job.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGetReturnsNilForMissing(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job, err := store.Get("acme", "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestGetScopedToTenant(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	got, err := store.Get("rival", job.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListWithFilters(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	for i, planID := range []string{"plan-1", "plan-1", "plan-2"} {
		j := newTestJob(planID, "")
		j.RequestedAt = time.Now().Add(time.Duration(i) * time.Second)
		_, err := store.Enqueue(j)
		require.NoError(t, err)
	}

	// Filter by plan.
	results, _, total, err := store.List(JobListFilter{TenantID: "acme", PlanID: "plan-1"}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, results, 2)

	// Tenant scoping.
	results, _, total, err = store.List(JobListFilter{TenantID: "rival"}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, results)

	// Filter by state.
	results, _, total, err = store.List(JobListFilter{TenantID: "acme", State: string(JobStateQueued)}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, results, 3)
}

func TestListPagination(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	// Create 5 jobs with staggered times.
	for i := 0; i < 5; i++ {
		j := newTestJob("plan-1", "")
		j.RequestedAt = time.Now().Add(time.Duration(i) * time.Minute)
		_, err := store.Enqueue(j)
		require.NoError(t, err)
	}

	// First page of 2.
	results, nextToken, total, err := store.List(JobListFilter{TenantID: "acme"}, 2, "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 5, total)
	assert.NotEmpty(t, nextToken)

	// Second page.
	results2, nextToken2, _, err := store.List(JobListFilter{TenantID: "acme"}, 2, nextToken)
	require.NoError(t, err)
	assert.Len(t, results2, 2)
	assert.NotEmpty(t, nextToken2)

	// Last page.
	results3, nextToken3, _, err := store.List(JobListFilter{TenantID: "acme"}, 2, nextToken2)
	require.NoError(t, err)
	assert.Len(t, results3, 1)
	assert.Empty(t, nextToken3)
}

func TestCleanupStuckJobs(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	// Claim the job.
	_, err = store.Claim(3)
	require.NoError(t, err)

	// Manually set started_at far in the past.
	oldTime := time.Now().Add(-20 * time.Minute)
	db.Model(&SolveJob{}).Where("id = ?", job.ID).Update("started_at", oldTime)

	recovered, err := store.CleanupStuckJobs(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	result, err := store.Get("acme", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, result.State)
}

func TestDeleteOlderThan(t *testing.T) {
	db := setupTestDB(t)
	store := NewSolveJobStore(db)

	job := newTestJob("plan-1", "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)
	require.NoError(t, store.Complete(job.ID, nil, 100))

	// Set finished_at far in the past.
	oldTime := time.Now().Add(-10 * 24 * time.Hour)
	db.Model(&SolveJob{}).Where("id = ?", job.ID).Update("finished_at", oldTime)

	deleted, err := store.DeleteOlderThan(time.Now().Add(-7 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	result, err := store.Get("acme", job.ID)
	require.NoError(t, err)
	assert.Nil(t, result)
}
