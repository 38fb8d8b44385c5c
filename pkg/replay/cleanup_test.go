package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupDrainsBacklogInBatches(t *testing.T) {
	db := setupTestDB(t)
	store, _ := newTestNonceStore(db)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }
	for _, sig := range []string{"sig-a", "sig-b", "sig-c", "sig-d", "sig-e"} {
		require.NoError(t, store.CheckAndRecord(ctx, sig, base, time.Second))
	}
	store.now = func() time.Time { return base.Add(time.Minute) }

	cfg := DefaultConfig()
	cfg.CleanupBatchSize = 2
	cfg.CleanupPause = 0
	worker := NewCleanupWorker(store, cfg, nil)
	worker.runOnce(ctx)

	var count int64
	require.NoError(t, db.Model(&NonceRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCleanupRunsRegisteredPurges(t *testing.T) {
	db := setupTestDB(t)
	store, _ := newTestNonceStore(db)

	worker := NewCleanupWorker(store, DefaultConfig(), nil)
	var purged int
	worker.AddPurge(func(ctx context.Context) (int64, error) {
		return 0, errors.New("purge backend unavailable")
	})
	worker.AddPurge(func(ctx context.Context) (int64, error) {
		purged++
		return 3, nil
	})

	worker.runOnce(context.Background())

	// The failing purge does not stop the ones registered after it.
	assert.Equal(t, 1, purged)
}

func TestCleanupStopsOnContextCancel(t *testing.T) {
	db := setupTestDB(t)
	store, _ := newTestNonceStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		NewCleanupWorker(store, DefaultConfig(), nil).Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup worker did not stop on cancel")
	}
}
