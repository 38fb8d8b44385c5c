package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dispatchlab/planhub/pkg/lifecycle"
	"github.com/dispatchlab/planhub/pkg/planlock"
	"github.com/dispatchlab/planhub/pkg/tenancy"
)

// setupSnapshotRouter mounts the publish and snapshot handlers on the plans
// router the way the server wires them.
func setupSnapshotRouter(t *testing.T) (chi.Router, *gorm.DB, *Publisher) {
	t.Helper()
	db := setupTestDB(t)
	store := NewSnapshotStore(db)
	pub := newTestPublisher(db)
	svc := lifecycle.NewTransitionService(db, planlock.NewMutexLocker(), nil)
	r := lifecycle.NewRouter(
		lifecycle.NewPlanStore(db),
		lifecycle.NewApprovalStore(db),
		svc,
		PublishHandler(pub),
		ListSnapshotsHandler(store),
		GetSnapshotHandler(store),
	)
	return r, db, pub
}

func scopedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	scope := tenancy.Scope{TenantID: "acme", SiteID: "depot-7", Actor: "dispatcher"}
	return req.WithContext(tenancy.WithScope(req.Context(), scope))
}

func TestPublishHandler(t *testing.T) {
	r, db, _ := setupSnapshotRouter(t)
	plan := createPlanInState(t, db, lifecycle.StateApproved)

	body, _ := json.Marshal(map[string]any{
		"reason":      "approved by ops lead",
		"assignments": map[string]any{"crew-1": []string{"stop-4"}},
	})
	req := scopedRequest(http.MethodPost, "/"+plan.ID+"/publish", body)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool          `json:"success"`
		Result  PublishResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, plan.ID, resp.Result.PlanID)
	assert.Equal(t, 1, resp.Result.VersionNumber)
	assert.NotEmpty(t, resp.Result.SnapshotID)
	assert.False(t, resp.Result.FreezeUntil.IsZero())
}

func TestPublishHandler_FreezeViolation(t *testing.T) {
	r, db, pub := setupSnapshotRouter(t)
	plan := createPlanInState(t, db, lifecycle.StateApproved)

	_, err := pub.Publish(context.Background(), testScope, plan.ID, PublishRequest{})
	require.NoError(t, err)

	req := scopedRequest(http.MethodPost, "/"+plan.ID+"/publish", []byte(`{}`))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "freeze_violation", resp["error"])
	assert.Equal(t, true, resp["retry"])
	assert.NotEmpty(t, resp["freezeUntil"])
	assert.NotEmpty(t, resp["remainingFreeze"])
	assert.Contains(t, resp["hint"], "forceReason")
}

func TestPublishHandler_ForceReasonRequired(t *testing.T) {
	r, db, pub := setupSnapshotRouter(t)
	plan := createPlanInState(t, db, lifecycle.StateApproved)

	_, err := pub.Publish(context.Background(), testScope, plan.ID, PublishRequest{})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{"force": true, "forceReason": "short"})
	req := scopedRequest(http.MethodPost, "/"+plan.ID+"/publish", body)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "force_reason_required", resp["error"])
}

func TestPublishHandler_InvalidState(t *testing.T) {
	r, db, _ := setupSnapshotRouter(t)
	plan := createPlanInState(t, db, lifecycle.StateDraft)

	req := scopedRequest(http.MethodPost, "/"+plan.ID+"/publish", []byte(`{}`))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp struct {
		Error   string                `json:"error"`
		Allowed []lifecycle.PlanState `json:"allowedStates"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "invalid_state", resp.Error)
	assert.Equal(t, []lifecycle.PlanState{lifecycle.StateApproved, lifecycle.StatePublished}, resp.Allowed)
}

func TestPublishHandler_BadBody(t *testing.T) {
	r, db, _ := setupSnapshotRouter(t)
	plan := createPlanInState(t, db, lifecycle.StateApproved)

	req := scopedRequest(http.MethodPost, "/"+plan.ID+"/publish", []byte(`{not json`))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSnapshotHandler(t *testing.T) {
	r, db, pub := setupSnapshotRouter(t)
	plan := createPlanInState(t, db, lifecycle.StateApproved)
	result, err := pub.Publish(context.Background(), testScope, plan.ID, PublishRequest{
		KPISnapshot: map[string]any{"totalDistanceKm": "412"},
	})
	require.NoError(t, err)

	req := scopedRequest(http.MethodGet, "/"+plan.ID+"/snapshots/1", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success  bool     `json:"success"`
		Snapshot Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, result.SnapshotID, resp.Snapshot.ID)
	assert.Equal(t, 1, resp.Snapshot.VersionNumber)
	assert.Equal(t, StatusActive, resp.Snapshot.Status)
	assert.NotEmpty(t, resp.Snapshot.EvidenceHash)
}

func TestGetSnapshotHandler_NotFound(t *testing.T) {
	r, db, _ := setupSnapshotRouter(t)
	plan := createPlanInState(t, db, lifecycle.StateApproved)

	req := scopedRequest(http.MethodGet, "/"+plan.ID+"/snapshots/9", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSnapshotHandler_BadVersion(t *testing.T) {
	r, db, _ := setupSnapshotRouter(t)
	plan := createPlanInState(t, db, lifecycle.StateApproved)

	req := scopedRequest(http.MethodGet, "/"+plan.ID+"/snapshots/latest", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSnapshotsHandler(t *testing.T) {
	r, db, pub := setupSnapshotRouter(t)
	pub.FreezeWindow = 0
	plan := createPlanInState(t, db, lifecycle.StateApproved)
	for i := 0; i < 2; i++ {
		_, err := pub.Publish(context.Background(), testScope, plan.ID, PublishRequest{})
		require.NoError(t, err)
	}

	req := scopedRequest(http.MethodGet, "/"+plan.ID+"/snapshots", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool       `json:"success"`
		Items   []Snapshot `json:"items"`
		Total   int        `json:"totalSize"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, 2, resp.Items[0].VersionNumber)
	assert.Equal(t, StatusActive, resp.Items[0].Status)
	assert.Equal(t, 1, resp.Items[1].VersionNumber)
	assert.Equal(t, StatusSuperseded, resp.Items[1].Status)
}

func TestAdminBackfillHandler(t *testing.T) {
	db := setupTestDB(t)
	store := NewSnapshotStore(db)
	admin := NewAdminRouter(store)
	plan := createPlanInState(t, db, lifecycle.StateApproved)
	publishVersions(t, db, plan.ID, 2)

	post := func(body string) *httptest.ResponseRecorder {
		req := scopedRequest(http.MethodPost, "/backfill", []byte(body))
		w := httptest.NewRecorder()
		admin.ServeHTTP(w, req)
		return w
	}

	w := post(`{"version": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(`{"planId": "ghost", "version": 1, "assignments": {"crew-1": "stop-4"}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = post(`{"planId": "` + plan.ID + `", "version": 2, "assignments": {"crew-1": "stop-4"}}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "snapshot_active"))

	w = post(`{"planId": "` + plan.ID + `", "version": 1, "assignments": {"crew-1": "stop-4"}}`)
	assert.Equal(t, http.StatusOK, w.Code)

	v1, err := store.Get("acme", plan.ID, 1)
	require.NoError(t, err)
	assert.NotNil(t, v1.Assignments.Data)
}

func TestAdminArchiveHandler(t *testing.T) {
	db := setupTestDB(t)
	store := NewSnapshotStore(db)
	admin := NewAdminRouter(store)
	plan := createPlanInState(t, db, lifecycle.StateApproved)
	publishVersions(t, db, plan.ID, 2)

	err := db.Model(&SnapshotRecord{}).
		Where("plan_id = ? AND version_number = ?", plan.ID, 1).
		Update("superseded_at", time.Now().Add(-48*time.Hour)).Error
	require.NoError(t, err)

	req := scopedRequest(http.MethodPost, "/archive", []byte(`{"olderThanHours": 0}`))
	w := httptest.NewRecorder()
	admin.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = scopedRequest(http.MethodPost, "/archive", []byte(`{"olderThanHours": 24}`))
	w = httptest.NewRecorder()
	admin.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success  bool  `json:"success"`
		Archived int64 `json:"archived"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(1), resp.Archived)
}
