package jobs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dispatchlab/planhub/pkg/lifecycle"
	"github.com/dispatchlab/planhub/pkg/tenancy"
)

func setupHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&SolveJob{}, &lifecycle.PlanRecord{}))
	return db
}

func setupJobsRouter(db *gorm.DB) (chi.Router, *SolveJobStore, *lifecycle.PlanStore) {
	store := NewSolveJobStore(db)
	plans := lifecycle.NewPlanStore(db)
	return Router(store, plans), store, plans
}

func scopedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	scope := tenancy.Scope{TenantID: "acme", Actor: "dispatcher@acme.example"}
	return req.WithContext(tenancy.WithScope(req.Context(), scope))
}

func TestEnqueueJobHandler(t *testing.T) {
	db := setupHandlerTestDB(t)
	r, _, plans := setupJobsRouter(db)

	plan := &lifecycle.PlanRecord{TenantID: "acme", Name: "monday"}
	require.NoError(t, plans.Create(plan))

	body, _ := json.Marshal(map[string]string{"planId": plan.ID})
	req := scopedRequest(http.MethodPost, "/", body)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Success bool        `json:"success"`
		Job     jobResponse `json:"job"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, plan.ID, resp.Job.PlanID)
	assert.Equal(t, "queued", resp.Job.State)
	assert.Equal(t, "dispatcher@acme.example", resp.Job.RequestedBy)
}

func TestEnqueueJobHandler_PlanNotFound(t *testing.T) {
	db := setupHandlerTestDB(t)
	r, _, _ := setupJobsRouter(db)

	body, _ := json.Marshal(map[string]string{"planId": "nonexistent"})
	req := scopedRequest(http.MethodPost, "/", body)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnqueueJobHandler_MissingPlanID(t *testing.T) {
	db := setupHandlerTestDB(t)
	r, _, _ := setupJobsRouter(db)

	req := scopedRequest(http.MethodPost, "/", []byte(`{}`))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJobHandler_Found(t *testing.T) {
	db := setupHandlerTestDB(t)
	r, store, _ := setupJobsRouter(db)

	job := newTestJob("plan-1", "")
	job.RequestedAt = time.Now().Truncate(time.Second)
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	req := scopedRequest(http.MethodGet, "/"+job.ID, nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool        `json:"success"`
		Job     jobResponse `json:"job"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, job.ID, resp.Job.ID)
	assert.Equal(t, "queued", resp.Job.State)
	assert.Equal(t, "test-user", resp.Job.RequestedBy)
}

func TestGetJobHandler_NotFound(t *testing.T) {
	db := setupHandlerTestDB(t)
	r, _, _ := setupJobsRouter(db)

	req := scopedRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJobHandler_TenantIsolation(t *testing.T) {
	db := setupHandlerTestDB(t)
	r, store, _ := setupJobsRouter(db)

	job := newTestJob("plan-1", "")
	job.TenantID = "rival"
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	// Request runs in tenant acme; the job belongs to rival.
	req := scopedRequest(http.MethodGet, "/"+job.ID, nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobsHandler_Pagination(t *testing.T) {
	db := setupHandlerTestDB(t)
	r, store, _ := setupJobsRouter(db)

	for i := 0; i < 3; i++ {
		job := newTestJob("plan-1", "")
		job.RequestedAt = time.Now().Add(time.Duration(i) * time.Minute)
		_, err := store.Enqueue(job)
		require.NoError(t, err)
	}

	req := scopedRequest(http.MethodGet, "/?pageSize=2", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	items := resp["jobs"].([]any)
	assert.Len(t, items, 2)
	assert.NotEmpty(t, resp["nextPageToken"])
	assert.Equal(t, float64(3), resp["totalSize"])
}

func TestCancelJobHandler_QueuedJob(t *testing.T) {
	db := setupHandlerTestDB(t)
	r, store, _ := setupJobsRouter(db)

	job := newTestJob("plan-1", "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	req := scopedRequest(http.MethodPost, "/"+job.ID+"/cancel", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "canceled", resp["state"])
}

func TestCancelJobHandler_RunningJobFails(t *testing.T) {
	db := setupHandlerTestDB(t)
	r, store, _ := setupJobsRouter(db)

	job := newTestJob("plan-1", "")
	_, err := store.Enqueue(job)
	require.NoError(t, err)

	// Transition to running.
	_, err = store.Claim(3)
	require.NoError(t, err)

	req := scopedRequest(http.MethodPost, "/"+job.ID+"/cancel", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}
