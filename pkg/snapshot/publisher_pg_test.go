package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/dispatchlab/planhub/internal/db"
	"github.com/dispatchlab/planhub/pkg/lifecycle"
	"github.com/dispatchlab/planhub/pkg/planlock"
)

// setupPostgres starts a disposable postgres container and returns a
// connection with the full schema applied. Skips when Docker is not
// available so the suite stays runnable on plain CI runners.
func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("planhub"),
		tcpostgres.WithUsername("planhub"),
		tcpostgres.WithPassword("planhub"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("could not start postgres container (docker unavailable?): %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	gdb, err := db.Open(db.TypePostgres, dsn)
	require.NoError(t, err)
	require.NoError(t, db.MigrateUp(gdb))
	return gdb
}

// Two simultaneous publishes for the same plan must produce exactly one
// snapshot: one caller wins, the other is turned away with a retryable
// rejection, and the version chain stays single-active and gap-free.
func TestConcurrentPublishSingleWinner(t *testing.T) {
	gdb := setupPostgres(t)
	locker := planlock.New(gdb)
	pub := NewPublisher(gdb, locker, nil)
	plan := createPlanInState(t, gdb, lifecycle.StateApproved)

	req := PublishRequest{
		Reason:      "go-live",
		Assignments: map[string]any{"crew-1": []any{"stop-1"}},
		Routes:      map[string]any{"crew-1": map[string]any{"distanceKm": "12"}},
	}

	const attempts = 2
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*PublishResult
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := pub.Publish(context.Background(), testScope, plan.ID, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results = append(results, res)
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, results, 1, "exactly one publish must win")
	require.Len(t, errs, 1)
	assert.Equal(t, 1, results[0].VersionNumber)

	// The loser sees a clean rejection, never a raw storage error: lock
	// contention or the version collision when overlapping, or the fresh
	// freeze window when its lock attempt lands after the winner commits.
	lost := errs[0]
	if !errors.Is(lost, planlock.ErrPlanLocked) && !errors.Is(lost, ErrConcurrentPublish) {
		var fe *FreezeError
		var dup *lifecycle.DuplicateActionError
		require.True(t, errors.As(lost, &fe) || errors.As(lost, &dup),
			"unexpected loser error: %v", lost)
	}

	var snaps []SnapshotRecord
	require.NoError(t, gdb.Where("plan_id = ?", plan.ID).Find(&snaps).Error)
	require.Len(t, snaps, 1)
	assert.Equal(t, StatusActive, snaps[0].Status)
	assert.Equal(t, 1, snaps[0].VersionNumber)
}

// Publishing N times yields versions exactly 1..N with a single active row,
// enforced by the partial unique index even across forced republishes.
func TestRepublishChainOnPostgres(t *testing.T) {
	gdb := setupPostgres(t)
	locker := planlock.New(gdb)
	pub := NewPublisher(gdb, locker, nil)
	plan := createPlanInState(t, gdb, lifecycle.StateApproved)

	_, err := pub.Publish(context.Background(), testScope, plan.ID, PublishRequest{
		Assignments: map[string]any{"crew-1": []any{"stop-1"}},
	})
	require.NoError(t, err)

	// Inside the freeze window: blocked without an override.
	_, err = pub.Publish(context.Background(), testScope, plan.ID, PublishRequest{
		Assignments: map[string]any{"crew-1": []any{"stop-2"}},
	})
	var fe *FreezeError
	require.ErrorAs(t, err, &fe)

	res, err := pub.Publish(context.Background(), testScope, plan.ID, PublishRequest{
		Assignments: map[string]any{"crew-1": []any{"stop-2"}},
		Force:       true,
		ForceReason: "storm rerouting for depot-7",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.VersionNumber)
	assert.True(t, res.Forced)

	var active []SnapshotRecord
	require.NoError(t, gdb.Where("plan_id = ? AND status = ?", plan.ID, StatusActive).Find(&active).Error)
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].VersionNumber)

	var versions []int
	require.NoError(t, gdb.Model(&SnapshotRecord{}).
		Where("plan_id = ?", plan.ID).
		Order("version_number").
		Pluck("version_number", &versions).Error)
	assert.Equal(t, []int{1, 2}, versions)
}
